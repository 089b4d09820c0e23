package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ongoingai/dashboard/internal/api"
	"github.com/ongoingai/dashboard/internal/auth"
	"github.com/ongoingai/dashboard/internal/config"
	"github.com/ongoingai/dashboard/internal/correlation"
	"github.com/ongoingai/dashboard/internal/limits"
	"github.com/ongoingai/dashboard/internal/observability"
	"github.com/ongoingai/dashboard/internal/snapshot"
	"github.com/ongoingai/dashboard/internal/usage"
	"github.com/ongoingai/dashboard/internal/version"
	"github.com/ongoingai/dashboard/internal/viewcache"
)

const defaultConfigPath = "ongoingai-dashboard.yaml"

const otelShutdownTimeout = 5 * time.Second
const serverShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverWriteTimeout = 60 * time.Second
const serverIdleTimeout = 2 * time.Minute

var signalNotifyContext = signal.NotifyContext

var logOutput io.Writer = os.Stdout

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "version", "--version", "-v":
		return runVersion(args[1:], os.Stdout, os.Stderr)
	case "serve":
		return runServe(args[1:])
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	case "report":
		return runReport(args[1:], os.Stdout, os.Stderr)
	case "import":
		return runImport(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runVersion(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("version", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	format := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("version", *format, "text")
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if normalizedFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(version.Get()); err != nil {
			fmt.Fprintf(errOut, "failed to write version: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintln(out, version.String())
	return 0
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	_, _, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		}
		return 1
	}

	logger := observability.NewLogger(logOutput, cfg.Log.Level)
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	store, err := usage.OpenStore(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize %s storage: %v\n", cfg.Storage.Driver, observability.Redact(err.Error()))
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close usage store", "error", err)
		}
	}()

	refresher, err := newRefresher(cfg, store, logger, otelRuntime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize snapshot refresher: %v\n", err)
		return 1
	}

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := viewcache.New(ctx, cfg.Cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize view cache: %v\n", observability.Redact(err.Error()))
		return 1
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Error("failed to close view cache", "error", err)
			}
		}()
	}

	handler, err := newServerHandler(cfg, logger, refresher, cache, otelRuntime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize auth config: %v\n", err)
		return 1
	}
	server := newDashboardServer(cfg, handler)

	// The first snapshot loads in the background; dashboard routes answer 503
	// until it commits.
	go func() {
		if _, err := refresher.Refresh(ctx); err != nil {
			logger.Warn("initial snapshot refresh failed", "error", err)
		}
		refresher.Run(ctx)
	}()

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"port", cfg.Server.Port,
		"storage_driver", cfg.Storage.Driver,
		"refresh_mode", cfg.Refresh.Mode,
		"cache_driver", cfg.Cache.Driver,
		"config_path", *configPath,
		"auth_enabled", cfg.Auth.Enabled,
		"refresh_rpm", cfg.Limits.RefreshRequestsPerMinute,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("dashboard stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("dashboard server failed", "error", err)
			return 1
		}
		return 0
	}
}

func newRefresher(cfg config.Config, source usage.Source, logger *slog.Logger, recorder snapshot.RefreshRecorder) (*snapshot.Refresher, error) {
	location, err := cfg.Dashboard.TimeLocation()
	if err != nil {
		return nil, err
	}
	return snapshot.NewRefresher(snapshot.Options{
		Source:       source,
		Logger:       logger,
		Recorder:     recorder,
		Mode:         cfg.Refresh.Mode,
		Interval:     cfg.Refresh.Interval(),
		StaleAfter:   cfg.Refresh.StaleAfter(),
		FetchTimeout: cfg.Refresh.FetchTimeout(),
		Lookback:     cfg.Refresh.Lookback(),
		Location:     location,
	})
}

// newServerHandler assembles the API router behind rate limits, auth, request
// logging and OpenTelemetry, outermost last.
func newServerHandler(cfg config.Config, logger *slog.Logger, snapshots api.SnapshotProvider, cache viewcache.Cache, otelRuntime *observability.Runtime) (http.Handler, error) {
	window, err := cfg.Dashboard.Window()
	if err != nil {
		return nil, err
	}
	granularity, err := cfg.Dashboard.Granularity()
	if err != nil {
		return nil, err
	}

	router := api.NewRouter(api.RouterOptions{
		AppVersion:         version.String(),
		StorageDriver:      cfg.Storage.Driver,
		Snapshots:          snapshots,
		Cache:              cache,
		CacheRecorder:      otelRuntime,
		Logger:             logger,
		DefaultWindow:      window,
		DefaultGranularity: granularity,
	})

	authorizer, err := auth.NewAuthorizer(auth.Options{
		Enabled: cfg.Auth.Enabled,
		Header:  cfg.Auth.Header,
		Keys:    authKeysFromConfig(cfg.Auth.Keys),
	})
	if err != nil {
		return nil, err
	}
	limiter := limits.NewLimiter(limits.Config{
		Read:    limits.Policy{RequestsPerMinute: cfg.Limits.ReadRequestsPerMinute},
		Refresh: limits.Policy{RequestsPerMinute: cfg.Limits.RefreshRequestsPerMinute},
	})
	handler := limits.Middleware(limiter, "/api", router)
	handler = auth.Middleware(authorizer, auth.MiddlewareOptions{
		APIPrefix:     "/api",
		AuditRecorder: newAuthAuditRecorder(logger),
	}, handler)
	handler = correlation.Middleware(logger, handler)
	return otelRuntime.WrapHTTPHandler(handler), nil
}

func newDashboardServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

func authKeysFromConfig(keys []config.APIKeyConfig) []auth.KeyConfig {
	if len(keys) == 0 {
		return nil
	}
	out := make([]auth.KeyConfig, 0, len(keys))
	for _, key := range keys {
		out = append(out, auth.KeyConfig{
			ID:        key.ID,
			Token:     key.Token,
			TokenHash: key.TokenHash,
			Role:      key.Role,
		})
	}
	return out
}

func newAuthAuditRecorder(logger *slog.Logger) auth.AuditRecorder {
	if logger == nil {
		return nil
	}
	return func(req *http.Request, event auth.AuditEvent) {
		requestID, _ := correlation.FromContext(req.Context())
		logger.WarnContext(
			req.Context(),
			"audit dashboard auth deny",
			"request_id", requestID,
			"audit_outcome", event.Outcome,
			"audit_reason", event.Reason,
			"status_code", event.StatusCode,
			"path", event.Path,
			"required_permission", string(event.RequiredPermission),
			"key_id", event.KeyID,
		)
	}
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  ongoingai-dashboard serve [--config path/to/ongoingai-dashboard.yaml]")
	fmt.Fprintln(out, "  ongoingai-dashboard version [--format text|json]")
	fmt.Fprintln(out, "  ongoingai-dashboard config validate [--config path/to/ongoingai-dashboard.yaml]")
	fmt.Fprintln(out, "  ongoingai-dashboard report [--config path/to/ongoingai-dashboard.yaml] [--format text|json] [--window W] [--days N] [--granularity day|week|month]")
	fmt.Fprintln(out, "  ongoingai-dashboard import --file data.json [--config path/to/ongoingai-dashboard.yaml]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  ongoingai-dashboard config validate [--config path/to/ongoingai-dashboard.yaml]")
}
