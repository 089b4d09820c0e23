package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ongoingai/dashboard/internal/observability"
	"github.com/ongoingai/dashboard/internal/usage"
)

const importTimeout = 5 * time.Minute

// importDocument is the JSON layout accepted by import. Field names follow the
// storage column names.
type importDocument struct {
	Users         []importUser       `json:"users"`
	APIKeys       []importAPIKey     `json:"api_keys"`
	RequestEvents []importEvent      `json:"request_events"`
	DailyUsage    []importDailyUsage `json:"daily_usage"`
}

type importUser struct {
	UserID        string     `json:"user_id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
}

type importAPIKey struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Prefix       string    `json:"prefix"`
	IsActive     bool      `json:"is_active"`
	RateLimit    int64     `json:"rate_limit"`
	RequestsUsed int64     `json:"requests_used"`
	CreatedAt    time.Time `json:"created_at"`
}

type importEvent struct {
	ID           string    `json:"id"`
	APIKeyID     string    `json:"api_key_id"`
	UserID       string    `json:"user_id"`
	Model        string    `json:"model"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"status_code"`
	LatencyMS    *int64    `json:"latency_ms"`
	TokensUsed   int64     `json:"tokens_used"`
	ErrorMessage string    `json:"error_message"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
}

type importDailyUsage struct {
	APIKeyID      string `json:"api_key_id"`
	UserID        string `json:"user_id"`
	Date          string `json:"date"`
	RequestsCount int64  `json:"requests_count"`
	TokensUsed    int64  `json:"tokens_used"`
	SuccessCount  int64  `json:"success_count"`
	ErrorCount    int64  `json:"error_count"`
}

type importBatch struct {
	Users  []usage.UserRecord
	Keys   []usage.APIKeyRecord
	Events []usage.RequestEvent
	Daily  []usage.DailyUsageRecord
}

func runImport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("import", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	filePath := flagSet.String("file", "", "JSON document with users, api_keys, request_events and daily_usage")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "import does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*filePath) == "" {
		fmt.Fprintln(errOut, "usage: ongoingai-dashboard import --file data.json [--config path/to/ongoingai-dashboard.yaml]")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}

	batch, err := readImportFile(*filePath)
	if err != nil {
		fmt.Fprintf(errOut, "failed to read import file: %v\n", err)
		return 1
	}

	store, ok := openStoreForCommand(cfg, errOut)
	if !ok {
		return 1
	}
	defer closeStoreWithWarning(store, errOut)

	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()
	if err := writeImportBatch(ctx, store, batch); err != nil {
		fmt.Fprintf(errOut, "failed to import usage data: %s\n", observability.Redact(err.Error()))
		return 1
	}

	fmt.Fprintf(
		out,
		"imported %s users, %s api keys, %s request events, %s daily rows into %s\n",
		humanize.Comma(int64(len(batch.Users))),
		humanize.Comma(int64(len(batch.Keys))),
		humanize.Comma(int64(len(batch.Events))),
		humanize.Comma(int64(len(batch.Daily))),
		cfg.Storage.Driver,
	)
	return 0
}

func readImportFile(path string) (importBatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return importBatch{}, err
	}
	defer file.Close()
	return decodeImport(file)
}

func decodeImport(r io.Reader) (importBatch, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var doc importDocument
	if err := decoder.Decode(&doc); err != nil {
		return importBatch{}, fmt.Errorf("decode json: %w", err)
	}
	return doc.batch()
}

// batch converts and validates the document. Events without an id get a
// fresh one; every other required field must be present.
func (doc importDocument) batch() (importBatch, error) {
	var batch importBatch
	var errs []error

	for i, user := range doc.Users {
		if strings.TrimSpace(user.UserID) == "" {
			errs = append(errs, fmt.Errorf("users[%d]: user_id is required", i))
			continue
		}
		batch.Users = append(batch.Users, usage.UserRecord{
			UserID:        user.UserID,
			Email:         user.Email,
			DisplayName:   user.DisplayName,
			Plan:          usage.Plan(strings.ToLower(strings.TrimSpace(user.Plan))),
			PlanExpiresAt: user.PlanExpiresAt,
			IsAdmin:       user.IsAdmin,
			CreatedAt:     user.CreatedAt,
		})
	}

	for i, key := range doc.APIKeys {
		if strings.TrimSpace(key.ID) == "" || strings.TrimSpace(key.UserID) == "" {
			errs = append(errs, fmt.Errorf("api_keys[%d]: id and user_id are required", i))
			continue
		}
		batch.Keys = append(batch.Keys, usage.APIKeyRecord{
			ID:           key.ID,
			UserID:       key.UserID,
			Name:         key.Name,
			Prefix:       key.Prefix,
			IsActive:     key.IsActive,
			RateLimit:    key.RateLimit,
			RequestsUsed: key.RequestsUsed,
			CreatedAt:    key.CreatedAt,
		})
	}

	for i, event := range doc.RequestEvents {
		if event.CreatedAt.IsZero() {
			errs = append(errs, fmt.Errorf("request_events[%d]: created_at is required", i))
			continue
		}
		id := strings.TrimSpace(event.ID)
		if id == "" {
			id = uuid.NewString()
		}
		batch.Events = append(batch.Events, usage.RequestEvent{
			ID:           id,
			APIKeyID:     event.APIKeyID,
			UserID:       event.UserID,
			Model:        event.Model,
			Endpoint:     event.Endpoint,
			StatusCode:   event.StatusCode,
			LatencyMS:    event.LatencyMS,
			TokensUsed:   event.TokensUsed,
			ErrorMessage: event.ErrorMessage,
			IPAddress:    event.IPAddress,
			UserAgent:    event.UserAgent,
			CreatedAt:    event.CreatedAt,
		})
	}

	for i, row := range doc.DailyUsage {
		date, err := parseImportDate(row.Date)
		if err != nil {
			errs = append(errs, fmt.Errorf("daily_usage[%d]: %w", i, err))
			continue
		}
		if strings.TrimSpace(row.APIKeyID) == "" {
			errs = append(errs, fmt.Errorf("daily_usage[%d]: api_key_id is required", i))
			continue
		}
		batch.Daily = append(batch.Daily, usage.DailyUsageRecord{
			APIKeyID:      row.APIKeyID,
			UserID:        row.UserID,
			Date:          date,
			RequestsCount: row.RequestsCount,
			TokensUsed:    row.TokensUsed,
			SuccessCount:  row.SuccessCount,
			ErrorCount:    row.ErrorCount,
		})
	}

	if len(errs) > 0 {
		return importBatch{}, errors.Join(errs...)
	}
	return batch, nil
}

func parseImportDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, errors.New("date is required")
	}
	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD or RFC3339", raw)
	}
	return usage.DayOf(parsed.UTC()), nil
}

// writeImportBatch writes users and keys before the events that reference them.
func writeImportBatch(ctx context.Context, store usage.Store, batch importBatch) error {
	if err := store.WriteUsers(ctx, batch.Users); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	if err := store.WriteAPIKeys(ctx, batch.Keys); err != nil {
		return fmt.Errorf("write api keys: %w", err)
	}
	if err := store.WriteRequestEvents(ctx, batch.Events); err != nil {
		return fmt.Errorf("write request events: %w", err)
	}
	if err := store.WriteDailyUsage(ctx, batch.Daily); err != nil {
		return fmt.Errorf("write daily usage: %w", err)
	}
	return nil
}
