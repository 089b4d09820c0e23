package dashboard

import (
	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/usage"
)

// OverviewView is the admin landing page: plan mix, cohort and month-to-date usage.
type OverviewView struct {
	Meta
	Cards         []StatCard                                `json:"cards"`
	PlanMix       analytics.PlanMix                         `json:"plan_mix"`
	NewUsers      int                                       `json:"new_users_this_month"`
	ActiveKeys    int                                       `json:"active_keys"`
	TotalKeys     int                                       `json:"total_keys"`
	Month         analytics.DailyTotals                     `json:"month"`
	MonthTrend    []analytics.Bucket[analytics.DailyTotals] `json:"month_trend"`
	TopUsers      []analytics.EntitySummary                 `json:"top_users"`
	PopularModels []analytics.ModelUsage                    `json:"popular_models"`
	KeyQuotas     []analytics.KeyQuota                      `json:"key_quotas"`
}

func Overview(snap *usage.Snapshot) OverviewView {
	if snap == nil {
		snap = emptySnapshot()
	}
	now := snap.TakenAt

	mix := analytics.PlanMixOf(snap.Users)
	newUsers := analytics.NewUsers(snap.Users, analytics.WindowMonth, now)
	newBefore := analytics.NewUsersPrevious(snap.Users, analytics.WindowMonth, now)
	month := analytics.SumDaily(analytics.Filter(snap.Daily, analytics.DailyDate, analytics.WindowMonth, now))
	lastMonth := analytics.SumDaily(analytics.FilterPrevious(snap.Daily, analytics.DailyDate, analytics.WindowMonth, now))
	monthEvents := analytics.Filter(snap.Events, analytics.EventTime, analytics.WindowMonth, now)
	activeKeys := analytics.ActiveKeyCount(snap.Keys)

	return OverviewView{
		Meta: metaOf(snap),
		Cards: []StatCard{
			card("Total users", UnitCount, mix.Total, int64(analytics.UsersBefore(snap.Users, analytics.WindowMonth.Start(now)))),
			card("New users this month", UnitCount, int64(newUsers), int64(newBefore)),
			gauge("Conversion rate", UnitPercent, int64(mix.ConversionRate)),
			card("Requests this month", UnitCount, month.Requests, lastMonth.Requests),
			card("Tokens this month", UnitTokens, month.Tokens, lastMonth.Tokens),
		},
		PlanMix:       mix,
		NewUsers:      newUsers,
		ActiveKeys:    activeKeys,
		TotalKeys:     len(snap.Keys),
		Month:         month,
		MonthTrend:    analytics.Bucketize(snap.Daily, analytics.DailyDate, analytics.GranularityDay, analytics.MonthToDate(now), analytics.AddDaily),
		TopUsers:      analytics.ActiveUsers(monthEvents, TopUsersLimit),
		PopularModels: analytics.PopularModels(monthEvents, PopularModelsLimit),
		KeyQuotas:     analytics.KeyQuotas(snap.Keys, TopKeysLimit),
	}
}
