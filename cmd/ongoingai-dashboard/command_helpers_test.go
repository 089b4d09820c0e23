package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeTextJSONFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		raw           string
		want          string
		wantErrSubstr string
	}{
		{name: "default text", raw: "", want: "text"},
		{name: "normalizes case and whitespace", raw: " JSON ", want: "json"},
		{name: "rejects unsupported format", raw: "yaml", wantErrSubstr: `invalid report format "yaml": expected text or json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := normalizeTextJSONFormat("report", tt.raw, "text")
			if tt.wantErrSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Fatalf("error=%v, want substring %q", err, tt.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeTextJSONFormat() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("format=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadAndValidateConfigReportsStage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	badYAML := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("server: [\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, stage, err := loadAndValidateConfig(badYAML); err == nil || stage != configStageLoad {
		t.Fatalf("stage=%q err=%v, want load failure", stage, err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("cache:\n  driver: memcached\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, stage, err := loadAndValidateConfig(invalid); err == nil || stage != configStageValidate {
		t.Fatalf("stage=%q err=%v, want validate failure", stage, err)
	}

	cfg, stage, err := loadAndValidateConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil || stage != "" {
		t.Fatalf("stage=%q err=%v, want defaults for missing file", stage, err)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("server.port=%d, want default 8090", cfg.Server.Port)
	}
}
