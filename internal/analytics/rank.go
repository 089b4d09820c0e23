package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ongoingai/dashboard/internal/usage"
)

type Ranked[K comparable, A any] struct {
	Key   K
	Value A
}

// RankBy groups records by keyFn, folds each group with reduceFn starting from
// the zero A, and orders groups with before. Groups that compare equal keep
// first-seen order. n <= 0 disables truncation.
func RankBy[T any, K comparable, A any](
	records []T,
	keyFn func(T) K,
	reduceFn func(A, T) A,
	before func(a, b A) bool,
	n int,
) []Ranked[K, A] {
	index := make(map[K]int)
	groups := make([]Ranked[K, A], 0)
	for _, record := range records {
		key := keyFn(record)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			var zero A
			groups = append(groups, Ranked[K, A]{Key: key, Value: zero})
		}
		groups[i].Value = reduceFn(groups[i].Value, record)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return before(groups[i].Value, groups[j].Value)
	})
	if n > 0 && len(groups) > n {
		groups = groups[:n]
	}
	return groups
}

type StatusClass string

const (
	StatusSuccess     StatusClass = "2xx"
	StatusClientError StatusClass = "4xx"
	StatusServerError StatusClass = "5xx"
)

// ClassifyStatus maps a status code onto the three dashboard classes. Codes
// outside 2xx/4xx/5xx report false.
func ClassifyStatus(code int) (StatusClass, bool) {
	switch {
	case code >= 200 && code < 300:
		return StatusSuccess, true
	case code >= 400 && code < 500:
		return StatusClientError, true
	case code >= 500 && code < 600:
		return StatusServerError, true
	default:
		return "", false
	}
}

func IsSuccess(code int) bool {
	class, ok := ClassifyStatus(code)
	return ok && class == StatusSuccess
}

func IsError(code int) bool {
	class, ok := ClassifyStatus(code)
	return ok && class != StatusSuccess
}

type StatusSlice struct {
	Class StatusClass `json:"class"`
	Count int64       `json:"count"`
	// Share is the slice's percentage of all classified events.
	Share int `json:"share"`
}

// StatusDistribution partitions events into 2xx, 4xx and 5xx, in that order.
// Empty classes are omitted.
func StatusDistribution(events []usage.RequestEvent) []StatusSlice {
	var counts [3]int64
	for _, event := range events {
		class, ok := ClassifyStatus(event.StatusCode)
		if !ok {
			continue
		}
		counts[statusIndex(class)]++
	}
	total := counts[0] + counts[1] + counts[2]

	out := make([]StatusSlice, 0, 3)
	for i, class := range []StatusClass{StatusSuccess, StatusClientError, StatusServerError} {
		if counts[i] == 0 {
			continue
		}
		out = append(out, StatusSlice{Class: class, Count: counts[i], Share: Percentage(counts[i], total)})
	}
	return out
}

func statusIndex(class StatusClass) int {
	switch class {
	case StatusClientError:
		return 1
	case StatusServerError:
		return 2
	default:
		return 0
	}
}

type ErrorCount struct {
	Message    string    `json:"message"`
	Count      int64     `json:"count"`
	StatusCode int       `json:"status_code"`
	LastSeen   time.Time `json:"last_seen"`
}

// TopErrors ranks failed requests by message. Failures without a message are
// grouped under their status code.
func TopErrors(events []usage.RequestEvent, n int) []ErrorCount {
	failed := make([]usage.RequestEvent, 0)
	for _, event := range events {
		if IsError(event.StatusCode) || strings.TrimSpace(event.ErrorMessage) != "" {
			failed = append(failed, event)
		}
	}

	ranked := RankBy(failed, errorKey, func(acc ErrorCount, event usage.RequestEvent) ErrorCount {
		acc.Count++
		if acc.Message == "" {
			acc.Message = errorKey(event)
		}
		if !event.CreatedAt.Before(acc.LastSeen) {
			acc.LastSeen = event.CreatedAt
			acc.StatusCode = event.StatusCode
		}
		return acc
	}, func(a, b ErrorCount) bool {
		return a.Count > b.Count
	}, n)

	out := make([]ErrorCount, 0, len(ranked))
	for _, group := range ranked {
		out = append(out, group.Value)
	}
	return out
}

func errorKey(event usage.RequestEvent) string {
	if message := strings.TrimSpace(event.ErrorMessage); message != "" {
		return message
	}
	return fmt.Sprintf("HTTP %d", event.StatusCode)
}

type ModelUsage struct {
	Model    string `json:"model"`
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
	Share    int    `json:"share"`
}

// PopularModels ranks models by request count; Share is relative to all events.
func PopularModels(events []usage.RequestEvent, n int) []ModelUsage {
	ranked := RankBy(events, ByModel, func(acc ModelUsage, event usage.RequestEvent) ModelUsage {
		acc.Model = event.Model
		acc.Requests++
		acc.Tokens += event.TokensUsed
		return acc
	}, func(a, b ModelUsage) bool {
		return a.Requests > b.Requests
	}, n)

	total := int64(len(events))
	out := make([]ModelUsage, 0, len(ranked))
	for _, group := range ranked {
		model := group.Value
		model.Share = Percentage(model.Requests, total)
		out = append(out, model)
	}
	return out
}

type ErrorRate struct {
	Key           string `json:"key"`
	TotalRequests int64  `json:"total_requests"`
	ClientErrors  int64  `json:"client_errors"`
	ServerErrors  int64  `json:"server_errors"`
	ErrorRate     int    `json:"error_rate"`
}

// ErrorRates breaks failures down per group, ordered by failure count.
func ErrorRates(events []usage.RequestEvent, keyFn func(usage.RequestEvent) string, n int) []ErrorRate {
	ranked := RankBy(events, keyFn, func(acc ErrorRate, event usage.RequestEvent) ErrorRate {
		acc.TotalRequests++
		switch class, _ := ClassifyStatus(event.StatusCode); class {
		case StatusClientError:
			acc.ClientErrors++
		case StatusServerError:
			acc.ServerErrors++
		}
		return acc
	}, func(a, b ErrorRate) bool {
		return a.ClientErrors+a.ServerErrors > b.ClientErrors+b.ServerErrors
	}, n)

	out := make([]ErrorRate, 0, len(ranked))
	for _, group := range ranked {
		rate := group.Value
		rate.Key = group.Key
		rate.ErrorRate = Percentage(rate.ClientErrors+rate.ServerErrors, rate.TotalRequests)
		out = append(out, rate)
	}
	return out
}

// Key and timestamp extractors shared by the engine and its callers.
func ByModel(event usage.RequestEvent) string    { return event.Model }
func ByUser(event usage.RequestEvent) string     { return event.UserID }
func ByAPIKey(event usage.RequestEvent) string   { return event.APIKeyID }
func ByEndpoint(event usage.RequestEvent) string { return event.Endpoint }

func EventTime(event usage.RequestEvent) time.Time { return event.CreatedAt }

func DailyDate(record usage.DailyUsageRecord) time.Time { return record.Date }
