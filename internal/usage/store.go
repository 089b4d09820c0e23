package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("usage store record not found")

// Source is the read side the refresher fans out over. Implementations must
// return events ordered by created_at then id, and daily rows by date then key.
type Source interface {
	ListRequestEvents(ctx context.Context, since time.Time) ([]RequestEvent, error)
	ListDailyUsage(ctx context.Context, since time.Time) ([]DailyUsageRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	ListUsers(ctx context.Context) ([]UserRecord, error)
}

type Store interface {
	Source
	WriteRequestEvents(ctx context.Context, events []RequestEvent) error
	WriteDailyUsage(ctx context.Context, records []DailyUsageRecord) error
	WriteAPIKeys(ctx context.Context, keys []APIKeyRecord) error
	WriteUsers(ctx context.Context, users []UserRecord) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func OpenStore(driver, path, dsn string) (Store, error) {
	switch strings.TrimSpace(driver) {
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q", driver)
	}
}

// StaticSource serves fixed collections. Slices are copied on every call so
// callers can never alias the source's backing arrays.
type StaticSource struct {
	Events []RequestEvent
	Daily  []DailyUsageRecord
	Keys   []APIKeyRecord
	Users  []UserRecord
}

func (s *StaticSource) ListRequestEvents(_ context.Context, since time.Time) ([]RequestEvent, error) {
	out := make([]RequestEvent, 0, len(s.Events))
	for _, event := range s.Events {
		if !since.IsZero() && event.CreatedAt.Before(since) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *StaticSource) ListDailyUsage(_ context.Context, since time.Time) ([]DailyUsageRecord, error) {
	out := make([]DailyUsageRecord, 0, len(s.Daily))
	for _, record := range s.Daily {
		if !since.IsZero() && record.Date.Before(DayOf(since)) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *StaticSource) ListAPIKeys(_ context.Context) ([]APIKeyRecord, error) {
	return append([]APIKeyRecord{}, s.Keys...), nil
}

func (s *StaticSource) ListUsers(_ context.Context) ([]UserRecord, error) {
	return append([]UserRecord{}, s.Users...), nil
}
