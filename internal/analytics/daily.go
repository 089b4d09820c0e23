package analytics

import "github.com/ongoingai/dashboard/internal/usage"

// DailyTotals sums daily rollups. Unclassified counts requests recorded as
// neither success nor error; it is never folded into either rate.
type DailyTotals struct {
	Requests     int64 `json:"requests"`
	Tokens       int64 `json:"tokens"`
	Successes    int64 `json:"successes"`
	Errors       int64 `json:"errors"`
	Unclassified int64 `json:"unclassified"`
	SuccessRate  int   `json:"success_rate"`
	ErrorRate    int   `json:"error_rate"`
}

// AddDaily folds one rollup row into acc. It doubles as the Bucketize reducer
// for daily trend charts.
func AddDaily(acc DailyTotals, record usage.DailyUsageRecord) DailyTotals {
	acc.Requests += record.RequestsCount
	acc.Tokens += record.TokensUsed
	acc.Successes += record.SuccessCount
	acc.Errors += record.ErrorCount
	acc.Unclassified += record.Unclassified()
	acc.SuccessRate = Percentage(acc.Successes, acc.Requests)
	acc.ErrorRate = Percentage(acc.Errors, acc.Requests)
	return acc
}

func SumDaily(records []usage.DailyUsageRecord) DailyTotals {
	var totals DailyTotals
	for _, record := range records {
		totals = AddDaily(totals, record)
	}
	return totals
}

// DailyByKey rolls daily rows up per API key, ordered by request volume.
func DailyByKey(records []usage.DailyUsageRecord, n int) []Ranked[string, DailyTotals] {
	return RankBy(records, func(record usage.DailyUsageRecord) string {
		return record.APIKeyID
	}, AddDaily, func(a, b DailyTotals) bool {
		return a.Requests > b.Requests
	}, n)
}
