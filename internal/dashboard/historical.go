package dashboard

import (
	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/usage"
)

type KeyUsage struct {
	KeyID  string                `json:"key_id"`
	Totals analytics.DailyTotals `json:"totals"`
}

// HistoricalView is the long-range analytics screen. Totals come from the
// daily rollups; rankings come from raw events in the same range.
type HistoricalView struct {
	Meta
	Days          int                                         `json:"days"`
	Granularity   analytics.Granularity                       `json:"granularity"`
	Range         analytics.Range                             `json:"range"`
	Cards         []StatCard                                  `json:"cards"`
	Totals        analytics.DailyTotals                       `json:"totals"`
	DailyTrend    []analytics.Bucket[analytics.DailyTotals]   `json:"daily_trend"`
	EventTrend    []analytics.Bucket[analytics.RequestTokens] `json:"event_trend"`
	PopularModels []analytics.ModelUsage                      `json:"popular_models"`
	TopUsers      []analytics.EntitySummary                   `json:"top_users"`
	TopKeys       []KeyUsage                                  `json:"top_keys"`
	ErrorsByModel []analytics.ErrorRate                       `json:"errors_by_model"`
}

func Historical(snap *usage.Snapshot, days int, granularity analytics.Granularity) HistoricalView {
	if snap == nil {
		snap = emptySnapshot()
	}
	r := analytics.LastDays(snap.TakenAt, days)
	prev := r.Previous()

	daily := analytics.FilterRange(snap.Daily, analytics.DailyDate, r)
	events := analytics.FilterRange(snap.Events, analytics.EventTime, r)
	totals := analytics.SumDaily(daily)
	before := analytics.SumDaily(analytics.FilterRange(snap.Daily, analytics.DailyDate, prev))

	topKeys := make([]KeyUsage, 0, TopKeysLimit)
	for _, ranked := range analytics.DailyByKey(daily, TopKeysLimit) {
		topKeys = append(topKeys, KeyUsage{KeyID: ranked.Key, Totals: ranked.Value})
	}

	return HistoricalView{
		Meta:        metaOf(snap),
		Days:        len(analytics.Periods(analytics.GranularityDay, r)),
		Granularity: granularity,
		Range:       r,
		Cards: []StatCard{
			card("Requests", UnitCount, totals.Requests, before.Requests),
			card("Tokens", UnitTokens, totals.Tokens, before.Tokens),
			card("Success rate", UnitPercent, int64(totals.SuccessRate), int64(before.SuccessRate)),
			card("Error rate", UnitPercent, int64(totals.ErrorRate), int64(before.ErrorRate)),
			card("Unclassified", UnitCount, totals.Unclassified, before.Unclassified),
		},
		Totals:        totals,
		DailyTrend:    analytics.Bucketize(daily, analytics.DailyDate, granularity, r, analytics.AddDaily),
		EventTrend:    analytics.Bucketize(events, analytics.EventTime, granularity, r, analytics.CountRequestTokens),
		PopularModels: analytics.PopularModels(events, PopularModelsLimit),
		TopUsers:      analytics.ActiveUsers(events, TopUsersLimit),
		TopKeys:       topKeys,
		ErrorsByModel: analytics.ErrorRates(events, analytics.ByModel, PopularModelsLimit),
	}
}
