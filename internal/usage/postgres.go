package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ongoingai/dashboard/migrations"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{DSN: dsn, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) configure() error {
	if s.db == nil {
		return fmt.Errorf("postgres database is not initialized")
	}

	// The refresher fans out four reads at once; leave room for concurrent imports.
	s.db.SetMaxOpenConns(20)
	s.db.SetMaxIdleConns(10)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRequestEvents(ctx context.Context, since time.Time) ([]RequestEvent, error) {
	query := `SELECT id, api_key_id, user_id, model, endpoint, status_code, latency_ms, tokens_used,
       error_message, ip_address, user_agent, created_at
FROM request_events`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= $1`
		args = append(args, since.UTC())
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
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan request event: %w", err)
		}
		if latency.Valid {
			event.LatencyMS = Latency(latency.Int64)
		}
		event.ErrorMessage = errorMessage.String
		event.CreatedAt = event.CreatedAt.UTC()
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListDailyUsage(ctx context.Context, since time.Time) ([]DailyUsageRecord, error) {
	query := `SELECT api_key_id, user_id, date, requests_count, tokens_used, success_count, error_count
FROM daily_usage`
	var args []any
	if !since.IsZero() {
		query += ` WHERE date >= $1::date`
		args = append(args, since.UTC().Format("2006-01-02"))
	}
	query += ` ORDER BY date ASC, api_key_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer rows.Close()

	out := []DailyUsageRecord{}
	for rows.Next() {
		var record DailyUsageRecord
		if err := rows.Scan(
			&record.APIKeyID,
			&record.UserID,
			&record.Date,
			&record.RequestsCount,
			&record.TokensUsed,
			&record.SuccessCount,
			&record.ErrorCount,
		); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		record.Date = DayOf(record.Date.UTC())
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily usage: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name, prefix, is_active, rate_limit, requests_used, created_at
FROM api_keys ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	out := []APIKeyRecord{}
	for rows.Next() {
		var key APIKeyRecord
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.Prefix, &key.IsActive, &key.RateLimit, &key.RequestsUsed, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		key.CreatedAt = key.CreatedAt.UTC()
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
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
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&user.UserID, &user.Email, &user.DisplayName, &plan, &expiresAt, &user.IsAdmin, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.Plan = Plan(plan)
		if expiresAt.Valid {
			value := expiresAt.Time.UTC()
			user.PlanExpiresAt = &value
		}
		user.CreatedAt = user.CreatedAt.UTC()
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) WriteRequestEvents(ctx context.Context, events []RequestEvent) error {
	return s.writeBatch(ctx, "request events", len(events), `INSERT INTO request_events (
    id, api_key_id, user_id, model, endpoint, status_code, latency_ms, tokens_used,
    error_message, ip_address, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    status_code = EXCLUDED.status_code,
    latency_ms = EXCLUDED.latency_ms,
    tokens_used = EXCLUDED.tokens_used,
    error_message = EXCLUDED.error_message`, func(stmt *sql.Stmt) error {
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
				event.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert request event %q: %w", event.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) WriteDailyUsage(ctx context.Context, records []DailyUsageRecord) error {
	return s.writeBatch(ctx, "daily usage", len(records), `INSERT INTO daily_usage (
    api_key_id, user_id, date, requests_count, tokens_used, success_count, error_count
) VALUES ($1, $2, $3::date, $4, $5, $6, $7)
ON CONFLICT (api_key_id, date) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    requests_count = EXCLUDED.requests_count,
    tokens_used = EXCLUDED.tokens_used,
    success_count = EXCLUDED.success_count,
    error_count = EXCLUDED.error_count`, func(stmt *sql.Stmt) error {
		for _, record := range records {
			if _, err := stmt.ExecContext(ctx,
				record.APIKeyID,
				record.UserID,
				record.Date.Format("2006-01-02"),
				record.RequestsCount,
				record.TokensUsed,
				record.SuccessCount,
				record.ErrorCount,
			); err != nil {
				return fmt.Errorf("insert daily usage %q: %w", record.APIKeyID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) WriteAPIKeys(ctx context.Context, keys []APIKeyRecord) error {
	return s.writeBatch(ctx, "api keys", len(keys), `INSERT INTO api_keys (
    id, user_id, name, prefix, is_active, rate_limit, requests_used, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    is_active = EXCLUDED.is_active,
    rate_limit = EXCLUDED.rate_limit,
    requests_used = EXCLUDED.requests_used`, func(stmt *sql.Stmt) error {
		for _, key := range keys {
			if _, err := stmt.ExecContext(ctx,
				key.ID,
				key.UserID,
				key.Name,
				key.Prefix,
				key.IsActive,
				key.RateLimit,
				key.RequestsUsed,
				key.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert api key %q: %w", key.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) WriteUsers(ctx context.Context, users []UserRecord) error {
	return s.writeBatch(ctx, "users", len(users), `INSERT INTO users (
    user_id, email, display_name, plan, plan_expires_at, is_admin, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
    email = EXCLUDED.email,
    display_name = EXCLUDED.display_name,
    plan = EXCLUDED.plan,
    plan_expires_at = EXCLUDED.plan_expires_at,
    is_admin = EXCLUDED.is_admin`, func(stmt *sql.Stmt) error {
		for _, user := range users {
			var expiresAt any
			if user.PlanExpiresAt != nil {
				expiresAt = user.PlanExpiresAt.UTC()
			}
			if _, err := stmt.ExecContext(ctx,
				user.UserID,
				user.Email,
				user.DisplayName,
				string(user.Plan),
				expiresAt,
				user.IsAdmin,
				user.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert user %q: %w", user.UserID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) writeBatch(ctx context.Context, what string, size int, statement string, fn func(stmt *sql.Stmt) error) error {
	if size == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", what, err)
	}
	stmt, err := tx.PrepareContext(ctx, statement)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare %s insert: %w", what, err)
	}
	if err := fn(stmt); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		if isPostgresUniqueViolation(err) {
			return fmt.Errorf("write %s batch (%d rows): duplicate key: %w", what, size, err)
		}
		return fmt.Errorf("write %s batch (%d rows): %w", what, size, err)
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close %s statement: %w", what, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s batch: %w", what, err)
	}
	return nil
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
