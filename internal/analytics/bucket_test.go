package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ongoingai/dashboard/internal/usage"
)

func TestBucketizeEmptyInputYieldsZeroBuckets(t *testing.T) {
	t.Parallel()

	r := LastDays(testNow, 7)
	got := Bucketize([]usage.RequestEvent{}, EventTime, GranularityDay, r, CountRequestTokens)

	require.Len(t, got, 7)
	for i, bucket := range got {
		require.Equal(t, RequestTokens{}, bucket.Metrics)
		require.Equal(t, time.Date(2026, 6, 4+i, 0, 0, 0, 0, time.UTC), bucket.PeriodStart)
	}
}

func TestBucketizeDayFoldsRecords(t *testing.T) {
	t.Parallel()

	events := []usage.RequestEvent{
		{TokensUsed: 5, CreatedAt: time.Date(2026, 6, 10, 1, 0, 0, 0, time.UTC)},
		{TokensUsed: 7, CreatedAt: time.Date(2026, 6, 10, 23, 0, 0, 0, time.UTC)},
		{TokensUsed: 3, CreatedAt: time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC)},
		{TokensUsed: 99, CreatedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	got := Bucketize(events, EventTime, GranularityDay, LastDays(testNow, 3), CountRequestTokens)

	require.Len(t, got, 3)
	require.Equal(t, RequestTokens{Requests: 1, Tokens: 3}, got[0].Metrics)
	require.Equal(t, RequestTokens{}, got[1].Metrics)
	require.Equal(t, RequestTokens{Requests: 2, Tokens: 12}, got[2].Metrics)
}

func TestBucketizeWeekStartsOnRangeStartWeekday(t *testing.T) {
	t.Parallel()

	// 2026-06-03 is a Wednesday.
	r := Range{
		Start: time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 17, 0, 0, 0, 0, time.UTC),
	}
	events := []usage.RequestEvent{
		{TokensUsed: 1, CreatedAt: time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC)},
		{TokensUsed: 1, CreatedAt: time.Date(2026, 6, 9, 23, 0, 0, 0, time.UTC)},
		{TokensUsed: 1, CreatedAt: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)},
		{TokensUsed: 1, CreatedAt: time.Date(2026, 6, 17, 0, 0, 0, 0, time.UTC)},
	}
	got := Bucketize(events, EventTime, GranularityWeek, r, CountRequestTokens)

	require.Len(t, got, 2)
	require.Equal(t, time.Wednesday, got[0].PeriodStart.Weekday())
	require.Equal(t, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), got[1].PeriodStart)
	require.Equal(t, int64(2), got[0].Metrics.Requests)
	require.Equal(t, int64(1), got[1].Metrics.Requests)
}

func TestBucketizeMonthKeysByCalendarMonth(t *testing.T) {
	t.Parallel()

	r := Range{
		Start: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	records := []usage.DailyUsageRecord{
		{Date: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), RequestsCount: 1000},
		{Date: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), RequestsCount: 4, SuccessCount: 4},
		{Date: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), RequestsCount: 10, SuccessCount: 5, ErrorCount: 2},
	}
	got := Bucketize(records, DailyDate, GranularityMonth, r, AddDaily)

	require.Len(t, got, 3)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), got[0].PeriodStart)
	require.Equal(t, int64(4), got[0].Metrics.Requests, "rows before range start are dropped")
	require.Equal(t, DailyTotals{}, got[1].Metrics)
	require.Equal(t, DailyTotals{Requests: 10, Successes: 5, Errors: 2, Unclassified: 3, SuccessRate: 50, ErrorRate: 20}, got[2].Metrics)
}

func TestBucketizeKeepsRecordedCalendarDate(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 6, 10, 10, 0, 0, 0, loc)
	records := []usage.DailyUsageRecord{
		{Date: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), RequestsCount: 3},
	}
	got := Bucketize(records, DailyDate, GranularityDay, LastDays(now, 2), AddDaily)

	require.Len(t, got, 2)
	require.Equal(t, int64(0), got[0].Metrics.Requests)
	require.Equal(t, int64(3), got[1].Metrics.Requests)
}

func TestRangesAndPeriods(t *testing.T) {
	t.Parallel()

	mtd := MonthToDate(testNow)
	require.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), mtd.Start)
	require.Equal(t, time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC), mtd.End)
	require.Len(t, Periods(GranularityDay, mtd), 10)

	require.Len(t, Periods(GranularityDay, LastDays(testNow, 0)), 1)
	require.Empty(t, Periods(GranularityDay, Range{Start: testNow, End: testNow}))

	wr := WindowRange(WindowDay, testNow)
	require.Equal(t, time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC), wr.Start)
	require.Len(t, Periods(GranularityDay, wr), 2)
}

func TestParseGranularity(t *testing.T) {
	t.Parallel()

	got, err := ParseGranularity(" Week ")
	require.NoError(t, err)
	require.Equal(t, GranularityWeek, got)

	_, err = ParseGranularity("hour")
	require.Error(t, err)
}

func TestFilterRangeAndPrevious(t *testing.T) {
	t.Parallel()

	r := LastDays(testNow, 7)
	prev := r.Previous()
	require.Equal(t, time.Date(2026, 5, 28, 0, 0, 0, 0, time.UTC), prev.Start)
	require.Equal(t, r.Start, prev.End)

	records := []usage.DailyUsageRecord{
		{APIKeyID: "before", Date: time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)},
		{APIKeyID: "first", Date: time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC)},
		{APIKeyID: "last", Date: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)},
		{APIKeyID: "after", Date: time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC)},
	}
	got := FilterRange(records, DailyDate, r)
	require.Len(t, got, 2)
	require.Equal(t, "first", got[0].APIKeyID)
	require.Equal(t, "last", got[1].APIKeyID)

	older := FilterRange(records, DailyDate, prev)
	require.Len(t, older, 1)
	require.Equal(t, "before", older[0].APIKeyID)
}
