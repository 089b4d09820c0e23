// Package analytics turns snapshot record collections into the metrics,
// rankings and time series the dashboards render. Every function is pure:
// inputs are never mutated and "now" is always passed in.
package analytics

import "math"

// Percentage returns round(100*numerator/denominator), or 0 when the
// denominator is not positive.
func Percentage(numerator, denominator int64) int {
	if denominator <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(numerator) / float64(denominator)))
}

// MeanOfDefined averages the non-nil values. An empty or all-nil input yields 0.
func MeanOfDefined(values []*int64) float64 {
	var (
		sum   float64
		count int
	)
	for _, value := range values {
		if value == nil {
			continue
		}
		sum += float64(*value)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// MeanMillis is MeanOfDefined rounded to whole milliseconds.
func MeanMillis(values []*int64) int64 {
	return int64(math.Round(MeanOfDefined(values)))
}

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TopN counts records per key and returns the n largest groups. Ties keep the
// order in which keys first appeared. n <= 0 returns every group.
func TopN[T any](records []T, keyFn func(T) string, n int) []Count {
	ranked := RankBy(records, keyFn, countRecord[T], moreCount, n)
	out := make([]Count, 0, len(ranked))
	for _, group := range ranked {
		out = append(out, Count{Key: group.Key, Count: group.Value})
	}
	return out
}

func countRecord[T any](acc int64, _ T) int64 {
	return acc + 1
}

func moreCount(a, b int64) bool {
	return a > b
}

// Distinct counts the distinct keys among records.
func Distinct[T any](records []T, keyFn func(T) string) int {
	seen := make(map[string]struct{})
	for _, record := range records {
		seen[keyFn(record)] = struct{}{}
	}
	return len(seen)
}

// Select returns the records keep accepts, preserving order.
func Select[T any](records []T, keep func(T) bool) []T {
	out := make([]T, 0)
	for _, record := range records {
		if keep(record) {
			out = append(out, record)
		}
	}
	return out
}
