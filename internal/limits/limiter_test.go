package limits

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ongoingai/dashboard/internal/auth"
)

func TestLimiterPerCallerWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter(Config{Read: Policy{RequestsPerMinute: 2}})
	limiter.nowFn = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if result := limiter.Check(ScopeRead, "key:a"); result != nil {
			t.Fatalf("request %d rejected: %+v", i+1, result)
		}
	}
	result := limiter.Check(ScopeRead, "key:a")
	if result == nil {
		t.Fatal("third request allowed, want rate limit")
	}
	if result.Code != "READ_RATE_LIMIT_EXCEEDED" {
		t.Fatalf("code=%q, want READ_RATE_LIMIT_EXCEEDED", result.Code)
	}
	if result.RetryAfterSeconds != 60 {
		t.Fatalf("retry_after=%d, want 60", result.RetryAfterSeconds)
	}

	if result := limiter.Check(ScopeRead, "key:b"); result != nil {
		t.Fatalf("other caller rejected: %+v", result)
	}

	now = now.Add(61 * time.Second)
	if result := limiter.Check(ScopeRead, "key:a"); result != nil {
		t.Fatalf("request after window rejected: %+v", result)
	}
}

func TestLimiterScopesAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(Config{Refresh: Policy{RequestsPerMinute: 1}})
	if result := limiter.Check(ScopeRefresh, "ip:10.0.0.1"); result != nil {
		t.Fatalf("first refresh rejected: %+v", result)
	}
	if result := limiter.Check(ScopeRefresh, "ip:10.0.0.1"); result == nil {
		t.Fatal("second refresh allowed, want rate limit")
	}
	for i := 0; i < 5; i++ {
		if result := limiter.Check(ScopeRead, "ip:10.0.0.1"); result != nil {
			t.Fatalf("read with no policy rejected: %+v", result)
		}
	}
}

func TestNilLimiterIsDisabled(t *testing.T) {
	t.Parallel()

	var limiter *Limiter
	if limiter.Enabled() {
		t.Fatal("nil limiter reports enabled")
	}
	if result := limiter.Check(ScopeRead, "key:a"); result != nil {
		t.Fatalf("nil limiter rejected: %+v", result)
	}
}

func TestMiddlewareThrottlesAPIButNotHealth(t *testing.T) {
	t.Parallel()

	limiter := NewLimiter(Config{Read: Policy{RequestsPerMinute: 1}, Refresh: Policy{RequestsPerMinute: 1}})
	handler := Middleware(limiter, "/api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(method, path, keyID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "192.0.2.10:4321"
		if keyID != "" {
			req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{KeyID: keyID}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(http.MethodGet, "/api/dashboard/overview", ""); rec.Code != http.StatusOK {
		t.Fatalf("first read status=%d, want 200", rec.Code)
	}
	rec := do(http.MethodGet, "/api/dashboard/monitoring", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second read status=%d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	if rec := do(http.MethodGet, "/api/dashboard/overview", "ops"); rec.Code != http.StatusOK {
		t.Fatalf("keyed read status=%d, want 200", rec.Code)
	}
	if rec := do(http.MethodPost, "/api/snapshot/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh status=%d, want 200", rec.Code)
	}
	for i := 0; i < 3; i++ {
		if rec := do(http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
			t.Fatalf("health status=%d, want 200", rec.Code)
		}
		if rec := do(http.MethodOptions, "/api/dashboard/overview", ""); rec.Code != http.StatusOK {
			t.Fatalf("preflight status=%d, want 200", rec.Code)
		}
	}
	if rec := do(http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Fatalf("root status=%d, want 200", rec.Code)
	}
}
