package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ongoingai/dashboard/internal/config"
	"github.com/ongoingai/dashboard/internal/observability"
	"github.com/ongoingai/dashboard/internal/usage"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	switch normalized {
	case "text", "json":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid %s format %q: expected text or json", strings.TrimSpace(command), rawValue)
	}
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

// openStoreForCommand opens the configured store, printing a redacted error.
func openStoreForCommand(cfg config.Config, errOut io.Writer) (usage.Store, bool) {
	store, err := usage.OpenStore(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize usage store: %s\n", observability.Redact(err.Error()))
		return nil, false
	}
	return store, true
}

func closeStoreWithWarning(store usage.Store, errOut io.Writer) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		fmt.Fprintf(errOut, "warning: failed to close usage store: %v\n", err)
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
