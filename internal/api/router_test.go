package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/snapshot"
	"github.com/ongoingai/dashboard/internal/usage"
	"github.com/ongoingai/dashboard/internal/viewcache"
)

var routerNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// switchableSource fails ListUsers once err is set, and like the SQL stores
// gives up when its context is done.
type switchableSource struct {
	usage.StaticSource
	mu  sync.Mutex
	err error
}

func (s *switchableSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *switchableSource) ListUsers(ctx context.Context) ([]usage.UserRecord, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.StaticSource.ListUsers(ctx)
}

type cacheEvent struct {
	path string
	hit  bool
}

type recordingCacheRecorder struct {
	mu     sync.Mutex
	events []cacheEvent
}

func (r *recordingCacheRecorder) RecordViewCache(_ context.Context, path string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, cacheEvent{path: path, hit: hit})
}

func (r *recordingCacheRecorder) snapshot() []cacheEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cacheEvent(nil), r.events...)
}

func fixtureSource() *switchableSource {
	return &switchableSource{StaticSource: usage.StaticSource{
		Events: []usage.RequestEvent{
			{ID: "evt-1", APIKeyID: "k1", UserID: "u1", Model: "gpt-4o", StatusCode: 200, LatencyMS: usage.Latency(120), TokensUsed: 40, CreatedAt: routerNow.Add(-time.Hour)},
			{ID: "evt-2", APIKeyID: "k1", UserID: "u1", Model: "gpt-4o", StatusCode: 500, TokensUsed: 0, ErrorMessage: "upstream timeout", CreatedAt: routerNow.Add(-2 * time.Hour)},
			{ID: "evt-3", APIKeyID: "k2", UserID: "u2", Model: "claude/sonnet", StatusCode: 200, LatencyMS: usage.Latency(80), TokensUsed: 25, CreatedAt: routerNow.Add(-3 * time.Hour)},
		},
		Daily: []usage.DailyUsageRecord{
			{APIKeyID: "k1", UserID: "u1", Date: usage.DayOf(routerNow), RequestsCount: 2, TokensUsed: 40, SuccessCount: 1, ErrorCount: 1},
		},
		Keys: []usage.APIKeyRecord{
			{ID: "k1", UserID: "u1", Name: "prod", IsActive: true, RateLimit: 1000, RequestsUsed: 2},
			{ID: "k2", UserID: "u2", Name: "dev", IsActive: true, RateLimit: 100, RequestsUsed: 1},
		},
		Users: []usage.UserRecord{
			{UserID: "u1", Email: "one@example.com", Plan: usage.PlanPro, CreatedAt: routerNow.Add(-48 * time.Hour)},
			{UserID: "u2", Email: "two@example.com", Plan: usage.PlanFree, CreatedAt: routerNow.Add(-72 * time.Hour)},
		},
	}}
}

type routerFixture struct {
	source    *switchableSource
	refresher *snapshot.Refresher
	recorder  *recordingCacheRecorder
	handler   http.Handler
}

func newRouterFixture(t *testing.T, refresh bool) *routerFixture {
	t.Helper()

	source := fixtureSource()
	refresher, err := snapshot.NewRefresher(snapshot.Options{
		Source: source,
		Clock:  fixedClock{now: routerNow},
	})
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	if refresh {
		if _, err := refresher.Refresh(context.Background()); err != nil {
			t.Fatalf("initial refresh: %v", err)
		}
	}

	recorder := &recordingCacheRecorder{}
	handler := NewRouter(RouterOptions{
		AppVersion:         "test",
		StorageDriver:      "sqlite",
		Snapshots:          refresher,
		Cache:              viewcache.NewMemoryCache(time.Minute),
		CacheRecorder:      recorder,
		DefaultWindow:      analytics.WindowDay,
		DefaultGranularity: analytics.GranularityDay,
	})
	return &routerFixture{source: source, refresher: refresher, recorder: recorder, handler: handler}
}

func (f *routerFixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestDashboardRoutesReturn503BeforeFirstSnapshot(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, false)
	for _, target := range []string{
		"/api/dashboard/monitoring",
		"/api/dashboard/historical",
		"/api/dashboard/overview",
		"/api/dashboard/models/gpt-4o",
		"/api/dashboard/accounts/u1",
	} {
		rec := f.do(http.MethodGet, target)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status=%d, want %d", target, rec.Code, http.StatusServiceUnavailable)
		}
	}

	rec := f.do(http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d, want %d", rec.Code, http.StatusOK)
	}
	var health healthResponse
	decodeBody(t, rec, &health)
	if health.SnapshotReady {
		t.Fatalf("snapshot_ready=true before first refresh")
	}
}

func TestMonitoringServesFromViewCacheOnRepeat(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)

	first := f.do(http.MethodGet, "/api/dashboard/monitoring?window=24h")
	if first.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d; body=%s", first.Code, http.StatusOK, first.Body.String())
	}
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("first X-Cache=%q, want MISS", got)
	}
	if got := first.Header().Get("X-Snapshot-Seq"); got != "1" {
		t.Fatalf("X-Snapshot-Seq=%q, want 1", got)
	}

	second := f.do(http.MethodGet, "/api/dashboard/monitoring?window=24h")
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("second X-Cache=%q, want HIT", got)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("cached body differs from rendered body")
	}

	events := f.recorder.snapshot()
	if len(events) != 2 || events[0].hit || !events[1].hit {
		t.Fatalf("cache events=%+v, want miss then hit", events)
	}
	if events[0].path != "/api/dashboard/monitoring" {
		t.Fatalf("recorded path=%q, want /api/dashboard/monitoring", events[0].path)
	}

	var view struct {
		Seq   uint64 `json:"seq"`
		Cards []struct {
			Label string `json:"label"`
			Value int64  `json:"value"`
		} `json:"cards"`
	}
	decodeBody(t, first, &view)
	if view.Seq != 1 {
		t.Fatalf("view seq=%d, want 1", view.Seq)
	}
	var requests int64 = -1
	for _, card := range view.Cards {
		if card.Label == "Requests" {
			requests = card.Value
		}
	}
	if requests != 3 {
		t.Fatalf("requests card=%d, want 3", requests)
	}
}

func TestNewSnapshotInvalidatesCachedViews(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	f.do(http.MethodGet, "/api/dashboard/overview")

	if _, err := f.refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	rec := f.do(http.MethodGet, "/api/dashboard/overview")
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("X-Cache=%q after new snapshot, want MISS", got)
	}
	if got := rec.Header().Get("X-Snapshot-Seq"); got != "2" {
		t.Fatalf("X-Snapshot-Seq=%q, want 2", got)
	}
}

func TestDashboardRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	tests := []struct {
		target string
		want   string
	}{
		{target: "/api/dashboard/monitoring?window=2d", want: "invalid window"},
		{target: "/api/dashboard/historical?days=0", want: "days must be >= 1"},
		{target: "/api/dashboard/historical?days=abc", want: "days must be an integer"},
		{target: "/api/dashboard/historical?days=1000", want: "days must be <= 366"},
		{target: "/api/dashboard/historical?granularity=year", want: "granularity"},
		{target: "/api/dashboard/models/gpt-4o?window=forever", want: "invalid window"},
	}
	for _, tt := range tests {
		rec := f.do(http.MethodGet, tt.target)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d, want %d", tt.target, rec.Code, http.StatusBadRequest)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if !strings.Contains(body["error"], tt.want) {
			t.Fatalf("%s error=%q, want substring %q", tt.target, body["error"], tt.want)
		}
	}
}

func TestHistoricalDefaultsToThirtyDays(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	rec := f.do(http.MethodGet, "/api/dashboard/historical")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var view struct {
		Days        int    `json:"days"`
		Granularity string `json:"granularity"`
	}
	decodeBody(t, rec, &view)
	if view.Days != defaultHistoricalDays {
		t.Fatalf("days=%d, want %d", view.Days, defaultHistoricalDays)
	}
	if view.Granularity != string(analytics.GranularityDay) {
		t.Fatalf("granularity=%q, want %q", view.Granularity, analytics.GranularityDay)
	}
}

func TestModelDetailRoute(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)

	rec := f.do(http.MethodGet, "/api/dashboard/models/claude%2Fsonnet")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var view struct {
		Model    string `json:"model"`
		Requests int64  `json:"requests"`
	}
	decodeBody(t, rec, &view)
	if view.Model != "claude/sonnet" || view.Requests != 1 {
		t.Fatalf("model=%q requests=%d, want claude/sonnet and 1", view.Model, view.Requests)
	}

	if rec := f.do(http.MethodGet, "/api/dashboard/models/"); rec.Code != http.StatusNotFound {
		t.Fatalf("empty model status=%d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := f.do(http.MethodGet, "/api/dashboard/models/a/b"); rec.Code != http.StatusNotFound {
		t.Fatalf("nested model status=%d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAccountRoute(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)

	rec := f.do(http.MethodGet, "/api/dashboard/accounts/u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d; body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	missing := f.do(http.MethodGet, "/api/dashboard/accounts/ghost")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("unknown user status=%d, want %d", missing.Code, http.StatusNotFound)
	}
	if got := missing.Header().Get("X-Cache"); got != "" {
		t.Fatalf("unknown user X-Cache=%q, want empty", got)
	}
}

func TestDashboardRoutesRequireGet(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	rec := f.do(http.MethodPost, "/api/dashboard/overview")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := rec.Header().Get("Allow"); got != "GET, OPTIONS" {
		t.Fatalf("allow=%q, want %q", got, "GET, OPTIONS")
	}

	if rec := f.do(http.MethodGet, "/api/snapshot/refresh"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh status=%d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestPreflightIsAnsweredByCORS(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	rec := f.do(http.MethodOptions, "/api/dashboard/monitoring")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin=%q, want *", got)
	}
}

func TestManualRefreshFailureKeepsServingOldSnapshot(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	f.source.setErr(errors.New("dial postgres://dash:hunter22@db:5432/usage: connection refused"))

	rec := f.do(http.MethodPost, "/api/snapshot/refresh")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadGateway)
	}
	var failure refreshFailure
	decodeBody(t, rec, &failure)
	if strings.Contains(rec.Body.String(), "hunter22") {
		t.Fatalf("error banner leaks password: %q", failure.Error)
	}
	if !strings.Contains(failure.Error, "connection refused") {
		t.Fatalf("error=%q, want underlying cause", failure.Error)
	}
	if !failure.Status.Ready || failure.Status.Seq != 1 {
		t.Fatalf("status=%+v, want ready at seq 1", failure.Status)
	}

	view := f.do(http.MethodGet, "/api/dashboard/monitoring")
	if view.Code != http.StatusOK {
		t.Fatalf("monitoring status=%d, want %d", view.Code, http.StatusOK)
	}
	if got := view.Header().Get("X-Snapshot-Seq"); got != "1" {
		t.Fatalf("X-Snapshot-Seq=%q, want 1", got)
	}

	f.source.setErr(nil)
	ok := f.do(http.MethodPost, "/api/snapshot/refresh")
	if ok.Code != http.StatusOK {
		t.Fatalf("recovery status=%d, want %d", ok.Code, http.StatusOK)
	}
	var status snapshot.Status
	decodeBody(t, ok, &status)
	if status.LastError != "" || !status.Ready {
		t.Fatalf("status=%+v, want ready with no error", status)
	}
}

func TestManualRefreshSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/snapshot/refresh", nil).WithContext(ctx)
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	status := f.refresher.Status()
	if status.Seq != 2 || status.LastError != "" {
		t.Fatalf("status=%+v, want committed seq 2 with no error", status)
	}
}

func TestSnapshotStatusRoute(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	rec := f.do(http.MethodGet, "/api/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var status snapshot.Status
	decodeBody(t, rec, &status)
	if !status.Ready || status.Mode != snapshot.ModePeriodic || status.SnapshotID == "" {
		t.Fatalf("status=%+v, want ready periodic snapshot", status)
	}
}

func TestUnknownRoutesReturn404(t *testing.T) {
	t.Parallel()

	f := newRouterFixture(t, true)
	for _, target := range []string{"/nope", "/api/snapshot/extra", "/api/dashboard/unknown"} {
		if rec := f.do(http.MethodGet, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d, want %d", target, rec.Code, http.StatusNotFound)
		}
	}
}
