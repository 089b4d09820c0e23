package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/dashboard/migrations"

	_ "modernc.org/sqlite"
)

const (
	sqliteDateLayout = "2006-01-02"
	// Fixed-width fractional seconds keep TEXT comparison in time order.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows one writer at a time; imports may run while the server reads.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRequestEvents(ctx context.Context, since time.Time) ([]RequestEvent, error) {
	query := `SELECT id, api_key_id, user_id, model, endpoint, status_code, latency_ms, tokens_used,
       error_message, ip_address, user_agent, created_at
FROM request_events`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, formatSQLiteTime(since))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query request events: %w", err)
	}
	defer rows.Close()

	out := []RequestEvent{}
	for rows.Next() {
		var (
			event        RequestEvent
			latency      sql.NullInt64
			errorMessage sql.NullString
			createdAt    string
		)
		if err := rows.Scan(
			&event.ID,
			&event.APIKeyID,
			&event.UserID,
			&event.Model,
			&event.Endpoint,
			&event.StatusCode,
			&latency,
			&event.TokensUsed,
			&errorMessage,
			&event.IPAddress,
			&event.UserAgent,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan request event: %w", err)
		}
		if latency.Valid {
			event.LatencyMS = Latency(latency.Int64)
		}
		event.ErrorMessage = errorMessage.String
		if event.CreatedAt, err = parseSQLiteTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("parse request event %q created_at: %w", event.ID, err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListDailyUsage(ctx context.Context, since time.Time) ([]DailyUsageRecord, error) {
	query := `SELECT api_key_id, user_id, date, requests_count, tokens_used, success_count, error_count
FROM daily_usage`
	var args []any
	if !since.IsZero() {
		query += ` WHERE date >= ?`
		args = append(args, since.UTC().Format(sqliteDateLayout))
	}
	query += ` ORDER BY date ASC, api_key_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	out := []DailyUsageRecord{}
	for rows.Next() {
		var (
			record DailyUsageRecord
			date   string
		)
		if err := rows.Scan(
			&record.APIKeyID,
			&record.UserID,
			&date,
			&record.RequestsCount,
			&record.TokensUsed,
			&record.SuccessCount,
			&record.ErrorCount,
		); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		parsed, err := time.ParseInLocation(sqliteDateLayout, strings.TrimSpace(date), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse daily usage date %q: %w", date, err)
		}
		record.Date = parsed
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily usage: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, prefix, is_active, rate_limit, requests_used, created_at
FROM api_keys ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	out := []APIKeyRecord{}
	for rows.Next() {
		var (
			key       APIKeyRecord
			active    int
			createdAt string
		)
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.Prefix, &active, &key.RateLimit, &key.RequestsUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		key.IsActive = active != 0
		if key.CreatedAt, err = parseSQLiteTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("parse api key %q created_at: %w", key.ID, err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, email, display_name, plan, plan_expires_at, is_admin, created_at
FROM users ORDER BY created_at ASC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := []UserRecord{}
	for rows.Next() {
		var (
			user      UserRecord
			plan      string
			expiresAt sql.NullString
			admin     int
			createdAt string
		)
		if err := rows.Scan(&user.UserID, &user.Email, &user.DisplayName, &plan, &expiresAt, &admin, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.Plan = Plan(plan)
		user.IsAdmin = admin != 0
		if expiresAt.Valid && strings.TrimSpace(expiresAt.String) != "" {
			parsed, err := parseSQLiteTimestamp(expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse user %q plan_expires_at: %w", user.UserID, err)
			}
			user.PlanExpiresAt = &parsed
		}
		if user.CreatedAt, err = parseSQLiteTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("parse user %q created_at: %w", user.UserID, err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) WriteRequestEvents(ctx context.Context, events []RequestEvent) error {
	return s.writeBatch(ctx, "request events", len(events), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO request_events (
    id, api_key_id, user_id, model, endpoint, status_code, latency_ms, tokens_used,
    error_message, ip_address, user_agent, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, event := range events {
			if _, err := stmt.ExecContext(ctx,
				event.ID,
				event.APIKeyID,
				event.UserID,
				event.Model,
				event.Endpoint,
				event.StatusCode,
				nullableInt64(event.LatencyMS),
				event.TokensUsed,
				nullIfEmpty(event.ErrorMessage),
				event.IPAddress,
				event.UserAgent,
				formatSQLiteTime(event.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert request event %q: %w", event.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) WriteDailyUsage(ctx context.Context, records []DailyUsageRecord) error {
	return s.writeBatch(ctx, "daily usage", len(records), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO daily_usage (
    api_key_id, user_id, date, requests_count, tokens_used, success_count, error_count
) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, record := range records {
			if _, err := stmt.ExecContext(ctx,
				record.APIKeyID,
				record.UserID,
				record.Date.Format(sqliteDateLayout),
				record.RequestsCount,
				record.TokensUsed,
				record.SuccessCount,
				record.ErrorCount,
			); err != nil {
				return fmt.Errorf("insert daily usage %q/%s: %w", record.APIKeyID, record.Date.Format(sqliteDateLayout), err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) WriteAPIKeys(ctx context.Context, keys []APIKeyRecord) error {
	return s.writeBatch(ctx, "api keys", len(keys), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO api_keys (
    id, user_id, name, prefix, is_active, rate_limit, requests_used, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, key := range keys {
			if _, err := stmt.ExecContext(ctx,
				key.ID,
				key.UserID,
				key.Name,
				key.Prefix,
				boolToInt(key.IsActive),
				key.RateLimit,
				key.RequestsUsed,
				formatSQLiteTime(key.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert api key %q: %w", key.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) WriteUsers(ctx context.Context, users []UserRecord) error {
	return s.writeBatch(ctx, "users", len(users), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO users (
    user_id, email, display_name, plan, plan_expires_at, is_admin, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, user := range users {
			var expiresAt any
			if user.PlanExpiresAt != nil {
				expiresAt = formatSQLiteTime(*user.PlanExpiresAt)
			}
			if _, err := stmt.ExecContext(ctx,
				user.UserID,
				user.Email,
				user.DisplayName,
				string(user.Plan),
				expiresAt,
				boolToInt(user.IsAdmin),
				formatSQLiteTime(user.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert user %q: %w", user.UserID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) writeBatch(ctx context.Context, what string, size int, fn func(tx *sql.Tx) error) error {
	if size == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("write %s batch (%d rows): %w", what, size, err)
	}
	return nil
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries lock contention with capped exponential backoff.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		sqliteDateLayout,
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format %q", value)
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
