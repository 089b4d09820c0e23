package dashboard

import (
	"fmt"
	"time"

	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/usage"
)

type Profile struct {
	UserID        string     `json:"user_id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name,omitempty"`
	Plan          usage.Plan `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AccountView is one user's account overview for the current calendar month.
type AccountView struct {
	Meta
	Profile       Profile                                   `json:"profile"`
	Cards         []StatCard                                `json:"cards"`
	Month         analytics.DailyTotals                     `json:"month"`
	MonthTrend    []analytics.Bucket[analytics.DailyTotals] `json:"month_trend"`
	Keys          []analytics.KeyQuota                      `json:"keys"`
	PopularModels []analytics.ModelUsage                    `json:"popular_models"`
	TopErrors     []analytics.ErrorCount                    `json:"top_errors"`
	Recent        []RequestRow                              `json:"recent"`
}

func Account(snap *usage.Snapshot, userID string) (AccountView, error) {
	user, ok := snap.UserByID(userID)
	if !ok {
		return AccountView{}, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	now := snap.TakenAt

	keys := snap.KeysForUser(userID)
	daily := snap.DailyForUser(userID)
	events := snap.EventsForUser(userID)

	month := analytics.SumDaily(analytics.Filter(daily, analytics.DailyDate, analytics.WindowMonth, now))
	lastMonth := analytics.SumDaily(analytics.FilterPrevious(daily, analytics.DailyDate, analytics.WindowMonth, now))
	monthEvents := analytics.Filter(events, analytics.EventTime, analytics.WindowMonth, now)
	activeKeys := int64(analytics.ActiveKeyCount(keys))

	return AccountView{
		Meta: metaOf(snap),
		Profile: Profile{
			UserID:        user.UserID,
			Email:         user.Email,
			DisplayName:   user.DisplayName,
			Plan:          user.Plan,
			PlanExpiresAt: user.PlanExpiresAt,
			IsAdmin:       user.IsAdmin,
			CreatedAt:     user.CreatedAt,
		},
		Cards: []StatCard{
			card("Requests this month", UnitCount, month.Requests, lastMonth.Requests),
			card("Tokens this month", UnitTokens, month.Tokens, lastMonth.Tokens),
			card("Success rate", UnitPercent, int64(month.SuccessRate), int64(lastMonth.SuccessRate)),
			gauge("Active keys", UnitCount, activeKeys),
		},
		Month:         month,
		MonthTrend:    analytics.Bucketize(daily, analytics.DailyDate, analytics.GranularityDay, analytics.MonthToDate(now), analytics.AddDaily),
		Keys:          analytics.KeyQuotas(keys, 0),
		PopularModels: analytics.PopularModels(monthEvents, PopularModelsLimit),
		TopErrors:     analytics.TopErrors(monthEvents, TopErrorsLimit),
		Recent:        requestRows(analytics.RecentEvents(events, RecentEventsLimit)),
	}, nil
}
