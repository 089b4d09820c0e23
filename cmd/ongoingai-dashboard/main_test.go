package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ongoingai/dashboard/internal/config"
	"github.com/ongoingai/dashboard/internal/snapshot"
	"github.com/ongoingai/dashboard/internal/usage"
	"github.com/ongoingai/dashboard/internal/version"
)

func emptySource() usage.Source {
	return &usage.StaticSource{}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := run([]string{"bogus"}); code != 2 {
		t.Fatalf("run() code=%d, want 2", code)
	}
}

func TestPrintUsageListsCommands(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printUsage(&out)
	for _, want := range []string{"serve", "version", "config validate", "report", "import --file"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("usage=%q, want %q", out.String(), want)
		}
	}
}

func TestAuthKeysFromConfig(t *testing.T) {
	t.Parallel()

	if got := authKeysFromConfig(nil); got != nil {
		t.Fatalf("authKeysFromConfig(nil)=%v, want nil", got)
	}
	got := authKeysFromConfig([]config.APIKeyConfig{{ID: "ops", TokenHash: "abc", Role: config.RoleAdmin}})
	if len(got) != 1 || got[0].ID != "ops" || got[0].TokenHash != "abc" || got[0].Role != config.RoleAdmin {
		t.Fatalf("authKeysFromConfig()=%+v, want mapped key", got)
	}
}

func TestNewServerHandlerAuditsDeniedRequests(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []config.APIKeyConfig{{ID: "ops", Token: "admin-secret", Role: config.RoleAdmin}}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	refresher, err := snapshot.NewRefresher(snapshot.Options{Source: emptySource(), Logger: logger})
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	handler, err := newServerHandler(cfg, logger, refresher, nil, nil)
	if err != nil {
		t.Fatalf("newServerHandler() error: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set("X-OngoingAI-Dashboard-Key", "wrong")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(logs.String(), "audit dashboard auth deny") || !strings.Contains(logs.String(), `"audit_reason":"invalid_key"`) {
		t.Fatalf("logs=%q, want audit entry", logs.String())
	}
	if strings.Contains(logs.String(), "wrong") {
		t.Fatalf("logs leaked presented key: %q", logs.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/snapshot/refresh", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin refresh status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNewServerHandlerRejectsBadDashboardDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Dashboard.DefaultWindow = "2h"
	if _, err := newServerHandler(cfg, slog.Default(), nil, nil, nil); err == nil {
		t.Fatal("newServerHandler() error=nil, want window error")
	}
}

func TestRunVersionJSON(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if code := runVersion([]string{"--format", "json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("runVersion() code=%d, want 0 (stderr=%q)", code, stderr.String())
	}
	var info version.Info
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("decode version json: %v", err)
	}
	if info.Service != "ongoingai-dashboard" || info.Version == "" {
		t.Fatalf("info=%+v, want service and version", info)
	}

	stdout.Reset()
	if code := runVersion(nil, &stdout, &stderr); code != 0 || strings.TrimSpace(stdout.String()) != version.String() {
		t.Fatalf("runVersion() code=%d stdout=%q, want %q", code, stdout.String(), version.String())
	}
	if code := runVersion([]string{"--format", "xml"}, &stdout, &stderr); code != 2 {
		t.Fatalf("runVersion(xml) code=%d, want 2", code)
	}
}

func TestNewServerHandlerThrottlesManualRefresh(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Limits.RefreshRequestsPerMinute = 1

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	refresher, err := snapshot.NewRefresher(snapshot.Options{Source: emptySource(), Logger: logger})
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	handler, err := newServerHandler(cfg, logger, refresher, nil, nil)
	if err != nil {
		t.Fatalf("newServerHandler() error: %v", err)
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshot/refresh", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("refresh codes=%v, want [200 429]", codes)
	}
}
