package usage

import "time"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// RequestEvent is one inference call as recorded by the proxy at completion.
// LatencyMS is nil when latency was not measured; ErrorMessage is empty when absent.
type RequestEvent struct {
	ID           string
	APIKeyID     string
	UserID       string
	Model        string
	Endpoint     string
	StatusCode   int
	LatencyMS    *int64
	TokensUsed   int64
	ErrorMessage string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

// DailyUsageRecord is the per-key, per-day rollup produced by the batch job.
// SuccessCount+ErrorCount may be lower than RequestsCount.
type DailyUsageRecord struct {
	APIKeyID      string
	UserID        string
	Date          time.Time
	RequestsCount int64
	TokensUsed    int64
	SuccessCount  int64
	ErrorCount    int64
}

// Unclassified returns requests that were counted but recorded neither as a
// success nor as an error.
func (r DailyUsageRecord) Unclassified() int64 {
	gap := r.RequestsCount - r.SuccessCount - r.ErrorCount
	if gap < 0 {
		return 0
	}
	return gap
}

type APIKeyRecord struct {
	ID           string
	UserID       string
	Name         string
	Prefix       string
	IsActive     bool
	RateLimit    int64
	RequestsUsed int64
	CreatedAt    time.Time
}

type UserRecord struct {
	UserID        string
	Email         string
	DisplayName   string
	Plan          Plan
	PlanExpiresAt *time.Time
	IsAdmin       bool
	CreatedAt     time.Time
}

// Latency is a convenience for building events with a measured latency.
func Latency(ms int64) *int64 {
	return &ms
}

// DayOf truncates t to midnight in its own location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
