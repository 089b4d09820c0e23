// Package dashboard assembles analytics output into the view models each
// dashboard screen renders. It only composes analytics results; every number
// shown here is computed by the analytics package.
package dashboard

import (
	"errors"
	"time"

	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/usage"
)

const (
	PopularModelsLimit = 8
	TopErrorsLimit     = 5
	ActiveUsersLimit   = 10
	TopUsersLimit      = 10
	PeakHoursLimit     = 3
	RecentEventsLimit  = 20
	TopKeysLimit       = 10
)

var ErrUnknownUser = errors.New("unknown user")

const (
	UnitCount   = "count"
	UnitPercent = "percent"
	UnitMillis  = "ms"
	UnitTokens  = "tokens"
)

type StatCard struct {
	Label string                   `json:"label"`
	Value int64                    `json:"value"`
	Unit  string                   `json:"unit"`
	Trend analytics.TrendDirection `json:"trend,omitempty"`
}

func card(label string, unit string, current, previous int64) StatCard {
	return StatCard{Label: label, Value: current, Unit: unit, Trend: analytics.Direction(current, previous)}
}

// gauge is a card for a point-in-time value the snapshot keeps no history
// for, so it carries no trend.
func gauge(label string, unit string, value int64) StatCard {
	return StatCard{Label: label, Value: value, Unit: unit, Trend: analytics.TrendNone}
}

// Meta identifies the snapshot a view was computed from.
type Meta struct {
	SnapshotID string    `json:"snapshot_id"`
	Seq        uint64    `json:"seq"`
	TakenAt    time.Time `json:"taken_at"`
}

func metaOf(snap *usage.Snapshot) Meta {
	return Meta{SnapshotID: snap.ID, Seq: snap.Seq, TakenAt: snap.TakenAt}
}

type RequestRow struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	APIKeyID     string    `json:"api_key_id"`
	Model        string    `json:"model"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"status_code"`
	LatencyMS    *int64    `json:"latency_ms,omitempty"`
	TokensUsed   int64     `json:"tokens_used"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func requestRows(events []usage.RequestEvent) []RequestRow {
	out := make([]RequestRow, 0, len(events))
	for _, event := range events {
		out = append(out, RequestRow{
			ID:           event.ID,
			UserID:       event.UserID,
			APIKeyID:     event.APIKeyID,
			Model:        event.Model,
			Endpoint:     event.Endpoint,
			StatusCode:   event.StatusCode,
			LatencyMS:    event.LatencyMS,
			TokensUsed:   event.TokensUsed,
			ErrorMessage: event.ErrorMessage,
			CreatedAt:    event.CreatedAt,
		})
	}
	return out
}

func emptySnapshot() *usage.Snapshot {
	return &usage.Snapshot{}
}
