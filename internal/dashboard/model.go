package dashboard

import (
	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/usage"
)

// ModelDetailView is the per-model drill-down panel.
type ModelDetailView struct {
	Meta
	analytics.ModelSummary
	Window       analytics.Window       `json:"window"`
	Granularity  analytics.Granularity  `json:"granularity"`
	Cards        []StatCard             `json:"cards"`
	TopErrors    []analytics.ErrorCount `json:"top_errors"`
	ErrorsByPath []analytics.ErrorRate  `json:"errors_by_endpoint"`
}

func ModelDetail(snap *usage.Snapshot, model string, window analytics.Window, granularity analytics.Granularity) ModelDetailView {
	if snap == nil {
		snap = emptySnapshot()
	}
	now := snap.TakenAt
	forModel := func(event usage.RequestEvent) bool { return event.Model == model }
	current := analytics.Select(analytics.Filter(snap.Events, analytics.EventTime, window, now), forModel)
	previous := analytics.Select(analytics.FilterPrevious(snap.Events, analytics.EventTime, window, now), forModel)

	summary := analytics.SummarizeModel(current, model, granularity, analytics.WindowRange(window, now), TopUsersLimit, PeakHoursLimit)
	before := analytics.Totals(previous)

	return ModelDetailView{
		Meta:         metaOf(snap),
		ModelSummary: summary,
		Window:       window,
		Granularity:  granularity,
		Cards: []StatCard{
			card("Requests", UnitCount, summary.Requests, before.Requests),
			card("Tokens", UnitTokens, summary.Tokens, before.Tokens),
			card("Success rate", UnitPercent, int64(summary.SuccessRate), int64(before.SuccessRate)),
			card("Avg latency", UnitMillis, summary.AvgLatencyMS, before.AvgLatencyMS),
		},
		TopErrors:    analytics.TopErrors(current, TopErrorsLimit),
		ErrorsByPath: analytics.ErrorRates(current, analytics.ByEndpoint, 0),
	}
}
