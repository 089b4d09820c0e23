package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ongoingai/dashboard/internal/usage"
)

func TestPlanMixOf(t *testing.T) {
	t.Parallel()

	users := []usage.UserRecord{
		{UserID: "1", Plan: usage.PlanFree},
		{UserID: "2", Plan: usage.PlanPro},
		{UserID: "3", Plan: usage.PlanEnterprise},
		{UserID: "4", Plan: "legacy"},
	}
	require.Equal(t, PlanMix{Free: 2, Pro: 1, Enterprise: 1, Total: 4, ConversionRate: 50}, PlanMixOf(users))
	require.Equal(t, PlanMix{}, PlanMixOf(nil))
}

func TestKeyQuotasOrdersByUsage(t *testing.T) {
	t.Parallel()

	keys := []usage.APIKeyRecord{
		{ID: "a", RateLimit: 100, RequestsUsed: 10, IsActive: true},
		{ID: "b", RateLimit: 0, RequestsUsed: 10},
		{ID: "c", RateLimit: 200, RequestsUsed: 150, IsActive: true},
	}
	got := KeyQuotas(keys, 0)
	require.Equal(t, []string{"c", "a", "b"}, []string{got[0].KeyID, got[1].KeyID, got[2].KeyID})
	require.Equal(t, 75, got[0].UsedPercent)
	require.Equal(t, 0, got[2].UsedPercent)
	require.Equal(t, 2, ActiveKeyCount(keys))

	top := KeyQuotas(keys, 2)
	require.Equal(t, []string{"c", "a"}, []string{top[0].KeyID, top[1].KeyID})
	require.Len(t, KeyQuotas(keys, 5), 3)
	require.NotNil(t, KeyQuotas(nil, 2))
}

func TestNewUsersThisMonth(t *testing.T) {
	t.Parallel()

	users := []usage.UserRecord{
		{UserID: "1", CreatedAt: time.Date(2026, 6, 1, 0, 1, 0, 0, time.UTC)},
		{UserID: "2", CreatedAt: time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC)},
		{UserID: "3", CreatedAt: time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC)},
	}
	require.Equal(t, 2, NewUsers(users, WindowMonth, testNow))
}

func TestSumDailyKeepsUnclassifiedGap(t *testing.T) {
	t.Parallel()

	records := []usage.DailyUsageRecord{
		{APIKeyID: "k1", RequestsCount: 10, TokensUsed: 100, SuccessCount: 8, ErrorCount: 1},
		{APIKeyID: "k2", RequestsCount: 30, TokensUsed: 50, SuccessCount: 20, ErrorCount: 10},
		{APIKeyID: "k1", RequestsCount: 10, TokensUsed: 0, SuccessCount: 10},
	}
	require.Equal(t, DailyTotals{
		Requests:     50,
		Tokens:       150,
		Successes:    38,
		Errors:       11,
		Unclassified: 1,
		SuccessRate:  76,
		ErrorRate:    22,
	}, SumDaily(records))
	require.Equal(t, DailyTotals{}, SumDaily(nil))

	byKey := DailyByKey(records, 0)
	require.Equal(t, "k2", byKey[0].Key)
	require.Equal(t, int64(20), byKey[1].Value.Requests)
}

func TestDirection(t *testing.T) {
	t.Parallel()

	require.Equal(t, TrendUp, Direction(5, 3))
	require.Equal(t, TrendDown, Direction(1, 3))
	require.Equal(t, TrendFlat, Direction(0, 0))
}

func TestUsersBefore(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	users := []usage.UserRecord{
		{CreatedAt: cutoff.Add(-time.Second)},
		{CreatedAt: cutoff},
	}
	require.Equal(t, 1, UsersBefore(users, cutoff))
}
