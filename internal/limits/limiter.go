// Package limits throttles dashboard API traffic per caller using a
// one-minute sliding window.
package limits

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/dashboard/internal/auth"
)

const (
	ScopeRead    = "read"
	ScopeRefresh = "refresh"
)

type Policy struct {
	RequestsPerMinute int
}

type Config struct {
	Read    Policy
	Refresh Policy
}

// Result describes a rejected request.
type Result struct {
	Code              string
	Message           string
	RetryAfterSeconds int
}

type Limiter struct {
	cfg   Config
	nowFn func() time.Time

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

const rateStateSweepInterval = 2 * time.Minute

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		nowFn:    func() time.Time { return time.Now().UTC() },
		requests: map[string][]time.Time{},
	}
}

func (l *Limiter) Enabled() bool {
	if l == nil {
		return false
	}
	return l.cfg.Read.RequestsPerMinute > 0 || l.cfg.Refresh.RequestsPerMinute > 0
}

// Check records one request for caller in scope and reports a Result when the
// scope's budget for the trailing minute is spent. Rejected requests are not
// counted.
func (l *Limiter) Check(scope, caller string) *Result {
	if l == nil {
		return nil
	}
	policy := l.policy(scope)
	if policy.RequestsPerMinute <= 0 {
		return nil
	}

	now := l.nowFn().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeSweepRateState(now)

	key := scope + "|" + caller
	events := pruneOldRequests(l.requests[key], now)
	if len(events) >= policy.RequestsPerMinute {
		l.requests[key] = events
		return &Result{
			Code:              strings.ToUpper(scope) + "_RATE_LIMIT_EXCEEDED",
			Message:           scope + " rate limit exceeded",
			RetryAfterSeconds: retryAfterSeconds(events, now),
		}
	}
	l.requests[key] = append(events, now)
	return nil
}

func (l *Limiter) policy(scope string) Policy {
	switch scope {
	case ScopeRefresh:
		return l.cfg.Refresh
	case ScopeRead:
		return l.cfg.Read
	default:
		return Policy{}
	}
}

func (l *Limiter) maybeSweepRateState(now time.Time) {
	if !l.lastSweep.IsZero() && now.Sub(l.lastSweep) < rateStateSweepInterval {
		return
	}
	for key, events := range l.requests {
		pruned := pruneOldRequests(events, now)
		if len(pruned) == 0 {
			delete(l.requests, key)
			continue
		}
		l.requests[key] = pruned
	}
	l.lastSweep = now
}

// Middleware enforces the limiter on API paths under apiPrefix. Health and
// preflight requests are never throttled. Callers are identified by their
// dashboard key when auth is on, otherwise by client IP.
func Middleware(limiter *Limiter, apiPrefix string, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if !limiter.Enabled() {
		return next
	}
	apiPrefix = strings.TrimRight(strings.TrimSpace(apiPrefix), "/")
	if apiPrefix == "" {
		apiPrefix = "/api"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, limited := scopeFor(r, apiPrefix)
		if !limited {
			next.ServeHTTP(w, r)
			return
		}
		if result := limiter.Check(scope, callerKey(r)); result != nil {
			writeLimitError(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func scopeFor(r *http.Request, apiPrefix string) (string, bool) {
	if r.Method == http.MethodOptions {
		return "", false
	}
	path := r.URL.Path
	if path != apiPrefix && !strings.HasPrefix(path, apiPrefix+"/") {
		return "", false
	}
	if path == apiPrefix+"/health" {
		return "", false
	}
	if path == apiPrefix+"/snapshot/refresh" {
		return ScopeRefresh, true
	}
	return ScopeRead, true
}

func callerKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.KeyID != "" {
		return "key:" + identity.KeyID
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return "ip:" + host
}

func writeLimitError(w http.ResponseWriter, result *Result) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": result.Message,
		"code":  result.Code,
	})
}

func pruneOldRequests(events []time.Time, now time.Time) []time.Time {
	if len(events) == 0 {
		return nil
	}
	cutoff := now.Add(-1 * time.Minute)
	keepIdx := 0
	for keepIdx < len(events) && events[keepIdx].Before(cutoff) {
		keepIdx++
	}
	if keepIdx >= len(events) {
		return nil
	}
	out := make([]time.Time, len(events)-keepIdx)
	copy(out, events[keepIdx:])
	return out
}

func retryAfterSeconds(events []time.Time, now time.Time) int {
	if len(events) == 0 {
		return 1
	}
	wait := events[0].Add(time.Minute).Sub(now).Seconds()
	if wait <= 1 {
		return 1
	}
	return int(math.Ceil(wait))
}
