package analytics

import (
	"fmt"
	"strings"
	"time"
)

type Window string

const (
	WindowHour      Window = "1h"
	WindowSixHours  Window = "6h"
	WindowDay       Window = "24h"
	WindowWeek      Window = "7d"
	WindowThirtyDay Window = "30d"
	// WindowMonth is the calendar month containing now.
	WindowMonth Window = "month"
)

var relativeWindows = map[Window]time.Duration{
	WindowHour:      time.Hour,
	WindowSixHours:  6 * time.Hour,
	WindowDay:       24 * time.Hour,
	WindowWeek:      7 * 24 * time.Hour,
	WindowThirtyDay: 30 * 24 * time.Hour,
}

func ParseWindow(raw string) (Window, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "month", "this_month", "this-month":
		return WindowMonth, nil
	}
	w := Window(value)
	if _, ok := relativeWindows[w]; !ok {
		return "", fmt.Errorf("invalid window %q: must be one of 1h, 6h, 24h, 7d, 30d, month", raw)
	}
	return w, nil
}

// Duration returns the length of a relative window. Calendar windows report false.
func (w Window) Duration() (time.Duration, bool) {
	d, ok := relativeWindows[w]
	return d, ok
}

// Start returns the earliest instant included in the window ending at now.
func (w Window) Start(now time.Time) time.Time {
	if w == WindowMonth {
		return monthStart(now)
	}
	d, ok := w.Duration()
	if !ok {
		return now
	}
	return now.Add(-d)
}

// InWindow reports whether ts falls inside w anchored at now. Relative windows
// include ts >= now-duration; the calendar month compares (year, month) only.
func InWindow(ts time.Time, w Window, now time.Time) bool {
	if w == WindowMonth {
		return sameMonth(ts, now)
	}
	d, ok := w.Duration()
	if !ok {
		return false
	}
	return !ts.Before(now.Add(-d))
}

// InPreviousWindow reports whether ts falls in the equally sized window just
// before w. For the calendar month that is the previous calendar month.
func InPreviousWindow(ts time.Time, w Window, now time.Time) bool {
	if w == WindowMonth {
		return sameMonth(ts, monthStart(now).AddDate(0, -1, 0))
	}
	d, ok := w.Duration()
	if !ok {
		return false
	}
	cutoff := now.Add(-d)
	return !ts.Before(cutoff.Add(-d)) && ts.Before(cutoff)
}

func Filter[T any](records []T, tsFn func(T) time.Time, w Window, now time.Time) []T {
	out := make([]T, 0, len(records))
	for _, record := range records {
		if InWindow(tsFn(record), w, now) {
			out = append(out, record)
		}
	}
	return out
}

func FilterPrevious[T any](records []T, tsFn func(T) time.Time, w Window, now time.Time) []T {
	out := make([]T, 0)
	for _, record := range records {
		if InPreviousWindow(tsFn(record), w, now) {
			out = append(out, record)
		}
	}
	return out
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
