package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/ongoingai/dashboard/internal/usage"
)

// EntitySummary is the composite rollup of one group of events. Top is the
// most frequent sub-attribute of the group, e.g. the most used model of a user.
type EntitySummary struct {
	Key          string    `json:"key"`
	Requests     int64     `json:"requests"`
	Tokens       int64     `json:"tokens"`
	SuccessRate  int       `json:"success_rate"`
	AvgLatencyMS int64     `json:"avg_latency_ms"`
	Top          string    `json:"top"`
	LastActive   time.Time `json:"last_active"`
}

// Rollup summarizes events per keyFn group, ordered by request count with
// first-seen tie-breaks, and truncated to n (n <= 0 keeps every group).
func Rollup(
	events []usage.RequestEvent,
	keyFn func(usage.RequestEvent) string,
	subKeyFn func(usage.RequestEvent) string,
	n int,
) []EntitySummary {
	groups := RankBy(events, keyFn, appendEvent, moreEvents, n)

	out := make([]EntitySummary, 0, len(groups))
	for _, group := range groups {
		out = append(out, summarize(group.Key, group.Value, subKeyFn))
	}
	return out
}

func appendEvent(acc []usage.RequestEvent, event usage.RequestEvent) []usage.RequestEvent {
	return append(acc, event)
}

func moreEvents(a, b []usage.RequestEvent) bool {
	return len(a) > len(b)
}

func summarize(key string, events []usage.RequestEvent, subKeyFn func(usage.RequestEvent) string) EntitySummary {
	summary := EntitySummary{Key: key, Requests: int64(len(events))}
	var (
		successes int64
		latencies = make([]*int64, 0, len(events))
	)
	for _, event := range events {
		summary.Tokens += event.TokensUsed
		if IsSuccess(event.StatusCode) {
			successes++
		}
		latencies = append(latencies, event.LatencyMS)
		if event.CreatedAt.After(summary.LastActive) {
			summary.LastActive = event.CreatedAt
		}
	}
	summary.SuccessRate = Percentage(successes, summary.Requests)
	summary.AvgLatencyMS = MeanMillis(latencies)
	if subKeyFn != nil {
		if top := TopN(events, subKeyFn, 1); len(top) > 0 {
			summary.Top = top[0].Key
		}
	}
	return summary
}

// ActiveUsers rolls events up per user with the most used model as Top.
func ActiveUsers(events []usage.RequestEvent, n int) []EntitySummary {
	return Rollup(events, ByUser, ByModel, n)
}

// KeyActivity rolls events up per API key with the most used model as Top.
func KeyActivity(events []usage.RequestEvent, n int) []EntitySummary {
	return Rollup(events, ByAPIKey, ByModel, n)
}

type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// PeakHours ranks hours of the day (0-23, in the events' own location) by
// request count. Unlike other rankings, equal counts favor the lower hour.
func PeakHours(events []usage.RequestEvent, n int) []HourCount {
	ranked := RankBy(events, func(event usage.RequestEvent) int {
		return event.CreatedAt.Hour()
	}, func(acc HourCount, event usage.RequestEvent) HourCount {
		acc.Hour = event.CreatedAt.Hour()
		acc.Count++
		return acc
	}, func(a, b HourCount) bool {
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Hour < b.Hour
	}, n)

	out := make([]HourCount, 0, len(ranked))
	for _, group := range ranked {
		out = append(out, group.Value)
	}
	return out
}

type LatencyStats struct {
	Samples int   `json:"samples"`
	MeanMS  int64 `json:"mean_ms"`
	MinMS   int64 `json:"min_ms"`
	MaxMS   int64 `json:"max_ms"`
	P50MS   int64 `json:"p50_ms"`
	P95MS   int64 `json:"p95_ms"`
	P99MS   int64 `json:"p99_ms"`
}

// LatencyPercentiles uses nearest-rank percentiles over measured latencies.
func LatencyPercentiles(events []usage.RequestEvent) LatencyStats {
	sorted := make([]int64, 0, len(events))
	defined := make([]*int64, 0, len(events))
	for _, event := range events {
		if event.LatencyMS == nil {
			continue
		}
		sorted = append(sorted, *event.LatencyMS)
		defined = append(defined, event.LatencyMS)
	}
	if len(sorted) == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyStats{
		Samples: len(sorted),
		MeanMS:  MeanMillis(defined),
		MinMS:   sorted[0],
		MaxMS:   sorted[len(sorted)-1],
		P50MS:   nearestRank(sorted, 0.50),
		P95MS:   nearestRank(sorted, 0.95),
		P99MS:   nearestRank(sorted, 0.99),
	}
}

func nearestRank(sorted []int64, pct float64) int64 {
	idx := int(math.Ceil(pct*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RecentEvents returns the n newest events, newest first, ties by id.
func RecentEvents(events []usage.RequestEvent, n int) []usage.RequestEvent {
	out := append([]usage.RequestEvent{}, events...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type ModelSummary struct {
	Model        string                  `json:"model"`
	Requests     int64                   `json:"requests"`
	Tokens       int64                   `json:"tokens"`
	SuccessRate  int                     `json:"success_rate"`
	AvgLatencyMS int64                   `json:"avg_latency_ms"`
	Latency      LatencyStats            `json:"latency"`
	Statuses     []StatusSlice           `json:"statuses"`
	Trend        []Bucket[RequestTokens] `json:"trend"`
	TopUsers     []EntitySummary         `json:"top_users"`
	PeakHours    []HourCount             `json:"peak_hours"`
}

// SummarizeModel builds the drill-down for one model from events that are
// already scoped to the reporting window.
func SummarizeModel(
	events []usage.RequestEvent,
	model string,
	g Granularity,
	r Range,
	topUsers int,
	peakHours int,
) ModelSummary {
	scoped := Select(events, func(event usage.RequestEvent) bool { return event.Model == model })

	summary := ModelSummary{
		Model:     model,
		Latency:   LatencyPercentiles(scoped),
		Statuses:  StatusDistribution(scoped),
		Trend:     Bucketize(scoped, EventTime, g, r, CountRequestTokens),
		TopUsers:  ActiveUsers(scoped, topUsers),
		PeakHours: PeakHours(scoped, peakHours),
	}
	whole := Totals(scoped)
	summary.Requests = whole.Requests
	summary.Tokens = whole.Tokens
	summary.SuccessRate = whole.SuccessRate
	summary.AvgLatencyMS = whole.AvgLatencyMS
	return summary
}

// Totals summarizes events as a single group.
func Totals(events []usage.RequestEvent) EntitySummary {
	return summarize("", events, nil)
}
