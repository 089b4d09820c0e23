// Package snapshot keeps the current usage snapshot and refreshes it from a
// usage.Source. Readers always see a fully committed snapshot.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ongoingai/dashboard/internal/usage"
)

const instrumentationName = "github.com/ongoingai/dashboard/internal/snapshot"

const (
	ModePeriodic  = "periodic"
	ModeStaleness = "staleness"
)

const (
	OutcomeCommitted  = "committed"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

const (
	defaultInterval     = 30 * time.Second
	defaultStaleAfter   = 12 * time.Hour
	defaultFetchTimeout = 20 * time.Second

	// staleRetryBackoff spaces out background refreshes while the source is
	// failing.
	staleRetryBackoff = 10 * time.Second
	refreshKey        = "refresh"
)

var (
	ErrNotReady   = errors.New("no snapshot has been committed yet")
	ErrSuperseded = errors.New("refresh superseded by a newer snapshot")
)

// RefreshRecorder receives one call per finished refresh attempt.
type RefreshRecorder interface {
	RecordRefresh(ctx context.Context, outcome string, duration time.Duration, records int)
}

// Options configures a Refresher. Lookback bounds how far back events and
// daily rows are read; zero reads everything.
type Options struct {
	Source       usage.Source
	Clock        Clock
	Logger       *slog.Logger
	Recorder     RefreshRecorder
	Mode         string
	Interval     time.Duration
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	Lookback     time.Duration
	Location     *time.Location
}

type Status struct {
	Ready       bool       `json:"ready"`
	Mode        string     `json:"mode"`
	Seq         uint64     `json:"seq"`
	SnapshotID  string     `json:"snapshot_id,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	Stale       bool       `json:"stale"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	InFlight    int64      `json:"in_flight"`
}

type Refresher struct {
	source       usage.Source
	clock        Clock
	logger       *slog.Logger
	recorder     RefreshRecorder
	mode         string
	interval     time.Duration
	staleAfter   time.Duration
	fetchTimeout time.Duration
	lookback     time.Duration
	location     *time.Location

	current  atomic.Pointer[usage.Snapshot]
	started  atomic.Uint64
	inFlight atomic.Int64
	group    singleflight.Group

	// mu serializes commits with the status fields below.
	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
	lastErrAt   time.Time
}

func NewRefresher(opts Options) (*Refresher, error) {
	if opts.Source == nil {
		return nil, errors.New("snapshot source is required")
	}
	mode := opts.Mode
	switch mode {
	case "":
		mode = ModePeriodic
	case ModePeriodic, ModeStaleness:
	default:
		return nil, fmt.Errorf("unsupported refresh mode %q", opts.Mode)
	}

	r := &Refresher{
		source:       opts.Source,
		clock:        opts.Clock,
		logger:       opts.Logger,
		recorder:     opts.Recorder,
		mode:         mode,
		interval:     opts.Interval,
		staleAfter:   opts.StaleAfter,
		fetchTimeout: opts.FetchTimeout,
		lookback:     opts.Lookback,
		location:     opts.Location,
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	if r.staleAfter <= 0 {
		r.staleAfter = defaultStaleAfter
	}
	if r.fetchTimeout <= 0 {
		r.fetchTimeout = defaultFetchTimeout
	}
	if r.location == nil {
		r.location = time.UTC
	}
	return r, nil
}

// Current returns the committed snapshot, or nil before the first commit.
func (r *Refresher) Current() *usage.Snapshot {
	return r.current.Load()
}

func (r *Refresher) Snapshot() (*usage.Snapshot, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, ErrNotReady
	}
	return snap, nil
}

// Latest is the read path for request handlers. Periodic mode only reads the
// committed snapshot. Staleness mode serves a committed snapshot immediately,
// starting a background refresh when it is stale; only the very first read
// waits for a fetch, and no longer than ctx allows.
func (r *Refresher) Latest(ctx context.Context) (*usage.Snapshot, error) {
	if r.mode != ModeStaleness {
		return r.Snapshot()
	}
	if snap := r.current.Load(); snap != nil {
		if r.isStale(snap) && !r.recentlyFailed() {
			r.group.DoChan(refreshKey, r.refreshIfStale(ctx))
		}
		return snap, nil
	}
	snap, err := r.EnsureFresh(ctx)
	if snap != nil {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil, ErrNotReady
}

// Refresh fetches a new snapshot unconditionally. On failure the previously
// committed snapshot stays current and the error is returned.
func (r *Refresher) Refresh(ctx context.Context) (*usage.Snapshot, error) {
	seq := r.started.Add(1)
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "snapshot.refresh")
	defer span.End()
	span.SetAttributes(attribute.Int64("snapshot.seq", int64(seq)))

	startedAt := r.clock.Now()
	snap, err := r.fetch(ctx, seq, startedAt.In(r.location))
	elapsed := r.clock.Now().Sub(startedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		r.recordFailure(seq, err)
		r.record(ctx, OutcomeFailed, elapsed, 0)
		r.logger.Error("snapshot refresh failed", "seq", seq, "error", err)
		return nil, err
	}

	if err := r.commit(snap); err != nil {
		span.SetAttributes(attribute.Bool("snapshot.superseded", true))
		r.record(ctx, OutcomeSuperseded, elapsed, 0)
		r.logger.Debug("discarded superseded snapshot", "seq", seq)
		return nil, err
	}

	records := snapshotSize(snap)
	span.SetAttributes(
		attribute.String("snapshot.id", snap.ID),
		attribute.Int("snapshot.records", records),
	)
	r.record(ctx, OutcomeCommitted, elapsed, records)
	r.logger.Info("snapshot committed",
		"seq", seq,
		"snapshot_id", snap.ID,
		"events", len(snap.Events),
		"daily", len(snap.Daily),
		"keys", len(snap.Keys),
		"users", len(snap.Users),
		"duration_ms", elapsed.Milliseconds(),
	)
	return snap, nil
}

// EnsureFresh returns the current snapshot, refreshing first when none exists
// or it is older than the staleness threshold. Concurrent callers share one
// fetch, which outlives any single caller: when ctx ends first the current
// snapshot (possibly nil) is returned with ctx's error. When the refresh fails
// the old snapshot is returned with the error.
func (r *Refresher) EnsureFresh(ctx context.Context) (*usage.Snapshot, error) {
	if snap := r.current.Load(); snap != nil && !r.isStale(snap) {
		return snap, nil
	}

	var result singleflight.Result
	select {
	case result = <-r.group.DoChan(refreshKey, r.refreshIfStale(ctx)):
	case <-ctx.Done():
		return r.current.Load(), ctx.Err()
	}
	if result.Err != nil {
		if errors.Is(result.Err, ErrSuperseded) {
			return r.Snapshot()
		}
		return r.current.Load(), result.Err
	}
	return result.Val.(*usage.Snapshot), nil
}

func (r *Refresher) refreshIfStale(ctx context.Context) func() (any, error) {
	detached := context.WithoutCancel(ctx)
	return func() (any, error) {
		if snap := r.current.Load(); snap != nil && !r.isStale(snap) {
			return snap, nil
		}
		return r.Refresh(detached)
	}
}

func (r *Refresher) recentlyFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastErrAt.IsZero() && r.clock.Now().Sub(r.lastErrAt) < staleRetryBackoff
}

// Run refreshes until ctx is cancelled. In periodic mode every tick refreshes;
// in staleness mode a tick only refreshes a stale snapshot.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.mode == ModeStaleness {
				_, _ = r.EnsureFresh(ctx)
				continue
			}
			_, _ = r.Refresh(ctx)
		}
	}
}

func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		Mode:     r.mode,
		InFlight: r.inFlight.Load(),
	}
	if snap := r.current.Load(); snap != nil {
		takenAt := snap.TakenAt
		status.Ready = true
		status.Seq = snap.Seq
		status.SnapshotID = snap.ID
		status.TakenAt = &takenAt
		status.Stale = r.isStale(snap)
	}
	if !r.lastSuccess.IsZero() {
		lastSuccess := r.lastSuccess
		status.LastSuccess = &lastSuccess
	}
	if r.lastErr != nil {
		lastErrAt := r.lastErrAt
		status.LastError = r.lastErr.Error()
		status.LastErrorAt = &lastErrAt
	}
	return status
}

func (r *Refresher) tickInterval() time.Duration {
	if r.mode == ModeStaleness && r.staleAfter < r.interval {
		return r.staleAfter
	}
	return r.interval
}

func (r *Refresher) isStale(snap *usage.Snapshot) bool {
	return r.clock.Now().Sub(snap.TakenAt) >= r.staleAfter
}

func (r *Refresher) commit(snap *usage.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if committed := r.current.Load(); committed != nil && committed.Seq >= snap.Seq {
		return ErrSuperseded
	}
	r.current.Store(snap)
	r.lastSuccess = r.clock.Now()
	r.lastErr = nil
	r.lastErrAt = time.Time{}
	return nil
}

// recordFailure ignores failures older than the committed snapshot.
func (r *Refresher) recordFailure(seq uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if committed := r.current.Load(); committed != nil && committed.Seq > seq {
		return
	}
	r.lastErr = err
	r.lastErrAt = r.clock.Now()
}

func (r *Refresher) record(ctx context.Context, outcome string, duration time.Duration, records int) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordRefresh(ctx, outcome, duration, records)
}

func (r *Refresher) fetch(ctx context.Context, seq uint64, now time.Time) (*usage.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	var since time.Time
	if r.lookback > 0 {
		since = now.Add(-r.lookback)
	}

	snap := &usage.Snapshot{
		ID:      uuid.NewString(),
		Seq:     seq,
		TakenAt: now,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(fetchInto(gctx, "request_events", &snap.Events, func(ctx context.Context) ([]usage.RequestEvent, error) {
		return r.source.ListRequestEvents(ctx, since)
	}))
	g.Go(fetchInto(gctx, "daily_usage", &snap.Daily, func(ctx context.Context) ([]usage.DailyUsageRecord, error) {
		return r.source.ListDailyUsage(ctx, since)
	}))
	g.Go(fetchInto(gctx, "api_keys", &snap.Keys, r.source.ListAPIKeys))
	g.Go(fetchInto(gctx, "users", &snap.Users, r.source.ListUsers))
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func fetchInto[T any](ctx context.Context, collection string, dst *[]T, list func(context.Context) ([]T, error)) func() error {
	return func() error {
		ctx, span := otel.Tracer(instrumentationName).Start(ctx, "snapshot.fetch."+collection)
		defer span.End()

		records, err := list(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			return fmt.Errorf("list %s: %w", collection, err)
		}
		if records == nil {
			records = []T{}
		}
		span.SetAttributes(attribute.Int("snapshot.records", len(records)))
		*dst = records
		return nil
	}
}

func snapshotSize(snap *usage.Snapshot) int {
	return len(snap.Events) + len(snap.Daily) + len(snap.Keys) + len(snap.Users)
}
