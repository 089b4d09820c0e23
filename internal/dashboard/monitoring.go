package dashboard

import (
	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/usage"
)

// MonitoringView is the live monitoring screen for one window.
type MonitoringView struct {
	Meta
	Window        analytics.Window                            `json:"window"`
	Cards         []StatCard                                  `json:"cards"`
	Statuses      []analytics.StatusSlice                     `json:"statuses"`
	PopularModels []analytics.ModelUsage                      `json:"popular_models"`
	TopErrors     []analytics.ErrorCount                      `json:"top_errors"`
	ActiveUsers   []analytics.EntitySummary                   `json:"active_users"`
	Latency       analytics.LatencyStats                      `json:"latency"`
	ErrorsByModel []analytics.ErrorRate                       `json:"errors_by_model"`
	Trend         []analytics.Bucket[analytics.RequestTokens] `json:"trend"`
	Recent        []RequestRow                                `json:"recent"`
}

func Monitoring(snap *usage.Snapshot, window analytics.Window) MonitoringView {
	if snap == nil {
		snap = emptySnapshot()
	}
	now := snap.TakenAt
	current := analytics.Filter(snap.Events, analytics.EventTime, window, now)
	previous := analytics.FilterPrevious(snap.Events, analytics.EventTime, window, now)

	totals := analytics.Totals(current)
	before := analytics.Totals(previous)

	return MonitoringView{
		Meta:   metaOf(snap),
		Window: window,
		Cards: []StatCard{
			card("Requests", UnitCount, totals.Requests, before.Requests),
			card("Success rate", UnitPercent, int64(totals.SuccessRate), int64(before.SuccessRate)),
			card("Avg latency", UnitMillis, totals.AvgLatencyMS, before.AvgLatencyMS),
			card("Tokens", UnitTokens, totals.Tokens, before.Tokens),
			card("Active users", UnitCount,
				int64(analytics.Distinct(current, analytics.ByUser)),
				int64(analytics.Distinct(previous, analytics.ByUser))),
		},
		Statuses:      analytics.StatusDistribution(current),
		PopularModels: analytics.PopularModels(current, PopularModelsLimit),
		TopErrors:     analytics.TopErrors(current, TopErrorsLimit),
		ActiveUsers:   analytics.ActiveUsers(current, ActiveUsersLimit),
		Latency:       analytics.LatencyPercentiles(current),
		ErrorsByModel: analytics.ErrorRates(current, analytics.ByModel, PopularModelsLimit),
		Trend:         analytics.Bucketize(current, analytics.EventTime, analytics.GranularityDay, analytics.WindowRange(window, now), analytics.CountRequestTokens),
		Recent:        requestRows(analytics.RecentEvents(current, RecentEventsLimit)),
	}
}
