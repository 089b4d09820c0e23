package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ongoingai/dashboard/internal/usage"
)

var testNow = time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC)

func event(id, user, model string, status int, ago time.Duration) usage.RequestEvent {
	return usage.RequestEvent{
		ID:         id,
		APIKeyID:   "key-" + user,
		UserID:     user,
		Model:      model,
		Endpoint:   "/v1/chat/completions",
		StatusCode: status,
		TokensUsed: 10,
		CreatedAt:  testNow.Add(-ago),
	}
}

func TestRankByUsesComparatorThenFirstSeen(t *testing.T) {
	t.Parallel()

	type tokens struct {
		count int
		total int64
	}
	events := []usage.RequestEvent{
		{Model: "m1", TokensUsed: 5},
		{Model: "m2", TokensUsed: 50},
		{Model: "m3", TokensUsed: 5},
		{Model: "m1", TokensUsed: 5},
	}
	byTokens := RankBy(events, ByModel, func(acc tokens, e usage.RequestEvent) tokens {
		acc.count++
		acc.total += e.TokensUsed
		return acc
	}, func(a, b tokens) bool {
		return a.total > b.total
	}, 0)

	require.Len(t, byTokens, 3)
	require.Equal(t, "m2", byTokens[0].Key)
	require.Equal(t, "m1", byTokens[1].Key)
	require.Equal(t, tokens{count: 2, total: 10}, byTokens[1].Value)
	require.Equal(t, "m3", byTokens[2].Key)

	truncated := RankBy(events, ByModel, countRecord[usage.RequestEvent], moreCount, 1)
	require.Len(t, truncated, 1)
	require.Equal(t, "m1", truncated[0].Key)
}

func TestStatusDistributionOmitsEmptyClasses(t *testing.T) {
	t.Parallel()

	events := []usage.RequestEvent{
		event("1", "u", "m", 200, time.Minute),
		event("2", "u", "m", 201, time.Minute),
		event("3", "u", "m", 404, time.Minute),
		event("4", "u", "m", 302, time.Minute),
	}
	got := StatusDistribution(events)
	require.Equal(t, []StatusSlice{
		{Class: StatusSuccess, Count: 2, Share: 67},
		{Class: StatusClientError, Count: 1, Share: 33},
	}, got)

	empty := StatusDistribution(nil)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestTopErrorsGroupsByMessage(t *testing.T) {
	t.Parallel()

	withMessage := func(e usage.RequestEvent, msg string) usage.RequestEvent {
		e.ErrorMessage = msg
		return e
	}
	events := []usage.RequestEvent{
		event("ok", "u", "m", 200, 10*time.Minute),
		withMessage(event("a", "u", "m", 429, 9*time.Minute), "rate limited"),
		event("b", "u", "m", 502, 8*time.Minute),
		withMessage(event("c", "u", "m", 500, 7*time.Minute), "upstream timeout"),
		withMessage(event("d", "u", "m", 429, 6*time.Minute), "rate limited"),
		withMessage(event("e", "u", "m", 500, 5*time.Minute), "upstream timeout"),
	}

	got := TopErrors(events, 2)
	require.Len(t, got, 2)
	require.Equal(t, "rate limited", got[0].Message)
	require.Equal(t, int64(2), got[0].Count)
	require.Equal(t, testNow.Add(-6*time.Minute), got[0].LastSeen)
	require.Equal(t, "upstream timeout", got[1].Message)

	all := TopErrors(events, 0)
	require.Len(t, all, 3)
	require.Equal(t, "HTTP 502", all[2].Message)
	require.Equal(t, 502, all[2].StatusCode)
}

func TestPopularModels(t *testing.T) {
	t.Parallel()

	events := []usage.RequestEvent{
		event("1", "u", "gpt-4o", 200, time.Minute),
		event("2", "u", "claude", 200, time.Minute),
		event("3", "u", "claude", 200, time.Minute),
		event("4", "u", "gemini", 200, time.Minute),
	}
	got := PopularModels(events, 2)
	require.Equal(t, []ModelUsage{
		{Model: "claude", Requests: 2, Tokens: 20, Share: 50},
		{Model: "gpt-4o", Requests: 1, Tokens: 10, Share: 25},
	}, got)
}

func TestErrorRates(t *testing.T) {
	t.Parallel()

	events := []usage.RequestEvent{
		event("1", "u", "a", 200, time.Minute),
		event("2", "u", "b", 500, time.Minute),
		event("3", "u", "b", 404, time.Minute),
		event("4", "u", "a", 400, time.Minute),
		event("5", "u", "b", 200, time.Minute),
	}
	got := ErrorRates(events, ByModel, 0)
	require.Equal(t, []ErrorRate{
		{Key: "b", TotalRequests: 3, ClientErrors: 1, ServerErrors: 1, ErrorRate: 67},
		{Key: "a", TotalRequests: 2, ClientErrors: 1, ServerErrors: 0, ErrorRate: 50},
	}, got)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]StatusClass{200: StatusSuccess, 299: StatusSuccess, 400: StatusClientError, 503: StatusServerError} {
		got, ok := ClassifyStatus(code)
		require.True(t, ok, code)
		require.Equal(t, want, got, code)
	}
	for _, code := range []int{0, 101, 304, 600} {
		_, ok := ClassifyStatus(code)
		require.False(t, ok, code)
	}
}
