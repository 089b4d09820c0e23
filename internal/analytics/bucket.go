package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/ongoingai/dashboard/internal/usage"
)

type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return g, nil
	default:
		return "", fmt.Errorf("invalid granularity %q: must be day, week, or month", raw)
	}
}

// Range is the half-open interval [Start, End). Bucket boundaries are
// calendar dates in Start's location.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastDays covers the given number of calendar days ending with now's day.
func LastDays(now time.Time, days int) Range {
	if days < 1 {
		days = 1
	}
	end := usage.DayOf(now).AddDate(0, 0, 1)
	return Range{Start: end.AddDate(0, 0, -days), End: end}
}

// MonthToDate covers the 1st of now's month through the end of now's day.
func MonthToDate(now time.Time) Range {
	return Range{Start: monthStart(now), End: usage.DayOf(now).AddDate(0, 0, 1)}
}

// WindowRange covers the calendar days touched by w ending at now.
func WindowRange(w Window, now time.Time) Range {
	return Range{Start: usage.DayOf(w.Start(now)), End: usage.DayOf(now).AddDate(0, 0, 1)}
}

// Previous returns the range of the same number of calendar days that ends
// where r starts.
func (r Range) Previous() Range {
	days := daysBetween(r.Start, r.End)
	if days < 1 {
		days = 1
	}
	return Range{Start: r.Start.AddDate(0, 0, -days), End: r.Start}
}

// FilterRange keeps records whose calendar date lies in r, using the same
// date rule as Bucketize.
func FilterRange[T any](records []T, tsFn func(T) time.Time, r Range) []T {
	startDay := usage.DayOf(r.Start)
	return Select(records, func(record T) bool {
		day := calendarDay(tsFn(record), r.Start.Location())
		return !day.Before(startDay) && day.Before(r.End)
	})
}

// Periods returns the start of every bucket in r. Week buckets begin on the
// weekday of r.Start; month buckets on the 1st.
func Periods(g Granularity, r Range) []time.Time {
	out := make([]time.Time, 0)
	if !r.Start.Before(r.End) {
		return out
	}
	start := usage.DayOf(r.Start)
	if g == GranularityMonth {
		start = monthStart(start)
	}
	for period := start; period.Before(r.End); period = nextPeriod(g, period) {
		out = append(out, period)
	}
	return out
}

func nextPeriod(g Granularity, period time.Time) time.Time {
	switch g {
	case GranularityWeek:
		return period.AddDate(0, 0, 7)
	case GranularityMonth:
		return period.AddDate(0, 1, 0)
	default:
		return period.AddDate(0, 0, 1)
	}
}

type Bucket[M any] struct {
	PeriodStart time.Time `json:"period_start"`
	Metrics     M         `json:"metrics"`
}

// Bucketize folds records into one bucket per period of r, including periods
// with no records, which keep the zero M. A record's period is decided by its
// calendar date as recorded; no timezone conversion is applied. Records dated
// outside r are dropped.
func Bucketize[T, M any](
	records []T,
	tsFn func(T) time.Time,
	g Granularity,
	r Range,
	reduceFn func(M, T) M,
) []Bucket[M] {
	periods := Periods(g, r)
	buckets := make([]Bucket[M], len(periods))
	index := make(map[int64]int, len(periods))
	for i, period := range periods {
		buckets[i].PeriodStart = period
		index[period.Unix()] = i
	}
	if len(periods) == 0 {
		return buckets
	}

	first := periods[0]
	startDay := usage.DayOf(r.Start)
	for _, record := range records {
		day := calendarDay(tsFn(record), first.Location())
		if day.Before(startDay) || !day.Before(r.End) {
			continue
		}
		i, ok := index[periodOf(day, g, first).Unix()]
		if !ok {
			continue
		}
		buckets[i].Metrics = reduceFn(buckets[i].Metrics, record)
	}
	return buckets
}

// calendarDay keeps ts's calendar date but re-expresses it in loc.
func calendarDay(ts time.Time, loc *time.Location) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// periodOf maps a calendar day onto the start of its bucket.
func periodOf(day time.Time, g Granularity, first time.Time) time.Time {
	switch g {
	case GranularityMonth:
		return monthStart(day)
	case GranularityWeek:
		offset := daysBetween(first, day)
		weeks := offset / 7
		if offset < 0 && offset%7 != 0 {
			weeks--
		}
		return first.AddDate(0, 0, weeks*7)
	default:
		return day
	}
}

func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

type RequestTokens struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// CountRequestTokens is the usual event reducer for trend charts.
func CountRequestTokens(acc RequestTokens, event usage.RequestEvent) RequestTokens {
	acc.Requests++
	acc.Tokens += event.TokensUsed
	return acc
}
