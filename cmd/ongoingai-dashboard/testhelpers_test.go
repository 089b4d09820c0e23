package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSQLiteConfig writes a config pointing at a fresh SQLite file in dir.
func writeSQLiteConfig(t *testing.T, dir string, extra string) string {
	t.Helper()

	configPath := filepath.Join(dir, "ongoingai-dashboard.yaml")
	body := fmt.Sprintf(`storage:
  driver: sqlite
  path: %q
%s`, filepath.Join(dir, "usage.db"), extra)
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

// writeImportFixture writes an import document with events in the last hour.
func writeImportFixture(t *testing.T, dir string) string {
	t.Helper()

	now := time.Now().UTC()
	ts := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }
	body := fmt.Sprintf(`{
  "users": [
    {"user_id": "u1", "email": "one@example.com", "plan": "pro", "created_at": %q},
    {"user_id": "u2", "email": "two@example.com", "plan": "free", "created_at": %q}
  ],
  "api_keys": [
    {"id": "k1", "user_id": "u1", "name": "prod", "is_active": true, "rate_limit": 1000, "requests_used": 250, "created_at": %q},
    {"id": "k2", "user_id": "u2", "name": "dev", "is_active": true, "rate_limit": 100, "requests_used": 10, "created_at": %q}
  ],
  "request_events": [
    {"id": "evt-1", "api_key_id": "k1", "user_id": "u1", "model": "gpt-4o", "endpoint": "/v1/chat/completions", "status_code": 200, "latency_ms": 120, "tokens_used": 1500, "created_at": %q},
    {"api_key_id": "k1", "user_id": "u1", "model": "gpt-4o", "endpoint": "/v1/chat/completions", "status_code": 500, "tokens_used": 0, "error_message": "upstream timeout", "created_at": %q},
    {"id": "evt-3", "api_key_id": "k2", "user_id": "u2", "model": "claude-sonnet", "endpoint": "/v1/messages", "status_code": 200, "latency_ms": 80, "tokens_used": 900, "created_at": %q}
  ],
  "daily_usage": [
    {"api_key_id": "k1", "user_id": "u1", "date": %q, "requests_count": 2, "tokens_used": 1500, "success_count": 1, "error_count": 1}
  ]
}`,
		ts(72*time.Hour), ts(48*time.Hour),
		ts(72*time.Hour), ts(48*time.Hour),
		ts(10*time.Minute), ts(20*time.Minute), ts(30*time.Minute),
		now.Format("2006-01-02"),
	)
	path := filepath.Join(dir, "usage.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write import fixture: %v", err)
	}
	return path
}
