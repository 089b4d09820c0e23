package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/ongoingai/dashboard/internal/analytics"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Storage       StorageConfig       `yaml:"storage"`
	Refresh       RefreshConfig       `yaml:"refresh"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Limits        LimitsConfig        `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

const (
	RefreshModePeriodic  = "periodic"
	RefreshModeStaleness = "staleness"
)

// RefreshConfig drives the snapshot refresher. In periodic mode a refresh
// runs every interval; in staleness mode reads trigger a refresh once the
// snapshot is older than stale_after_sec.
type RefreshConfig struct {
	Mode            string `yaml:"mode"`
	IntervalSec     int    `yaml:"interval_sec"`
	StaleAfterSec   int    `yaml:"stale_after_sec"`
	FetchTimeoutSec int    `yaml:"fetch_timeout_sec"`
	LookbackDays    int    `yaml:"lookback_days"`
}

func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c RefreshConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSec) * time.Second
}

func (c RefreshConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c RefreshConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

type DashboardConfig struct {
	DefaultWindow      string `yaml:"default_window"`
	DefaultGranularity string `yaml:"default_granularity"`
	Location           string `yaml:"location"`
}

func (c DashboardConfig) Window() (analytics.Window, error) {
	return analytics.ParseWindow(c.DefaultWindow)
}

func (c DashboardConfig) Granularity() (analytics.Granularity, error) {
	return analytics.ParseGranularity(c.DefaultGranularity)
}

// TimeLocation resolves the IANA zone snapshot timestamps are expressed in.
func (c DashboardConfig) TimeLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Location)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

const (
	CacheDriverOff    = "off"
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

type CacheConfig struct {
	Driver string      `yaml:"driver"`
	TTLSec int         `yaml:"ttl_sec"`
	Redis  RedisConfig `yaml:"redis"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	Header  string         `yaml:"header"`
	Keys    []APIKeyConfig `yaml:"keys"`
}

// LimitsConfig caps API requests per caller per minute. Zero disables a
// limit.
type LimitsConfig struct {
	ReadRequestsPerMinute    int `yaml:"read_requests_per_minute"`
	RefreshRequestsPerMinute int `yaml:"refresh_requests_per_minute"`
}

// APIKeyConfig is a dashboard access key. Either token or token_hash (hex
// sha256 of the token) must be set.
type APIKeyConfig struct {
	ID        string `yaml:"id"`
	Token     string `yaml:"token"`
	TokenHash string `yaml:"token_hash"`
	Role      string `yaml:"role"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "ongoingai-dashboard"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/dashboard.db",
		},
		Refresh: RefreshConfig{
			Mode:            RefreshModePeriodic,
			IntervalSec:     30,
			StaleAfterSec:   12 * 60 * 60,
			FetchTimeoutSec: 20,
			LookbackDays:    90,
		},
		Dashboard: DashboardConfig{
			DefaultWindow:      string(analytics.WindowDay),
			DefaultGranularity: string(analytics.GranularityDay),
			Location:           "UTC",
		},
		Cache: CacheConfig{
			Driver: CacheDriverMemory,
			TTLSec: 30,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Auth: AuthConfig{
			Enabled: false,
			Header:  "X-OngoingAI-Dashboard-Key",
		},
		Limits: LimitsConfig{
			RefreshRequestsPerMinute: 6,
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", cfg.Log.Level)
	}

	driver := strings.TrimSpace(cfg.Storage.Driver)
	switch driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	if err := validateRefreshConfig(cfg.Refresh); err != nil {
		return err
	}
	if err := validateDashboardConfig(cfg.Dashboard); err != nil {
		return err
	}
	if err := validateCacheConfig(cfg.Cache); err != nil {
		return err
	}
	if err := validateAuthConfig(cfg.Auth); err != nil {
		return err
	}
	if cfg.Limits.ReadRequestsPerMinute < 0 {
		return fmt.Errorf("limits.read_requests_per_minute must be >= 0 (got %d)", cfg.Limits.ReadRequestsPerMinute)
	}
	if cfg.Limits.RefreshRequestsPerMinute < 0 {
		return fmt.Errorf("limits.refresh_requests_per_minute must be >= 0 (got %d)", cfg.Limits.RefreshRequestsPerMinute)
	}
	if err := validateOTelConfig(cfg.Observability.OTel); err != nil {
		return err
	}
	return nil
}

func validateAuthConfig(cfg AuthConfig) error {
	if strings.TrimSpace(cfg.Header) == "" {
		return errors.New("auth.header must not be empty")
	}
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Keys) == 0 {
		return errors.New("auth.keys must not be empty when auth.enabled=true")
	}
	for idx, key := range cfg.Keys {
		name := fmt.Sprintf("auth.keys[%d]", idx)
		if strings.TrimSpace(key.Token) == "" && strings.TrimSpace(key.TokenHash) == "" {
			return fmt.Errorf("%s requires token or token_hash", name)
		}
		switch strings.ToLower(strings.TrimSpace(key.Role)) {
		case "", RoleViewer, RoleAdmin:
		default:
			return fmt.Errorf("%s.role must be one of viewer, admin (got %q)", name, key.Role)
		}
	}
	return nil
}

func validateRefreshConfig(cfg RefreshConfig) error {
	switch strings.TrimSpace(cfg.Mode) {
	case RefreshModePeriodic, RefreshModeStaleness:
	default:
		return fmt.Errorf("refresh.mode must be one of periodic, staleness (got %q)", cfg.Mode)
	}
	if cfg.IntervalSec <= 0 {
		return fmt.Errorf("refresh.interval_sec must be > 0 (got %d)", cfg.IntervalSec)
	}
	if cfg.StaleAfterSec <= 0 {
		return fmt.Errorf("refresh.stale_after_sec must be > 0 (got %d)", cfg.StaleAfterSec)
	}
	if cfg.FetchTimeoutSec <= 0 {
		return fmt.Errorf("refresh.fetch_timeout_sec must be > 0 (got %d)", cfg.FetchTimeoutSec)
	}
	if cfg.LookbackDays < 0 {
		return fmt.Errorf("refresh.lookback_days must be >= 0 (got %d)", cfg.LookbackDays)
	}
	return nil
}

func validateDashboardConfig(cfg DashboardConfig) error {
	if _, err := cfg.Window(); err != nil {
		return fmt.Errorf("dashboard.default_window: %w", err)
	}
	if _, err := cfg.Granularity(); err != nil {
		return fmt.Errorf("dashboard.default_granularity: %w", err)
	}
	if _, err := cfg.TimeLocation(); err != nil {
		return fmt.Errorf("dashboard.location: %w", err)
	}
	return nil
}

func validateCacheConfig(cfg CacheConfig) error {
	switch strings.TrimSpace(cfg.Driver) {
	case CacheDriverOff:
		return nil
	case CacheDriverMemory:
	case CacheDriverRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return errors.New("cache.redis.addr is required when cache.driver=redis")
		}
		if cfg.Redis.DB < 0 {
			return fmt.Errorf("cache.redis.db must be >= 0 (got %d)", cfg.Redis.DB)
		}
	default:
		return fmt.Errorf("cache.driver must be one of off, memory, redis (got %q)", cfg.Driver)
	}
	if cfg.TTLSec <= 0 {
		return fmt.Errorf("cache.ttl_sec must be > 0 (got %d)", cfg.TTLSec)
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("ONGOINGAI_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if err := envInt("ONGOINGAI_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if level := os.Getenv("ONGOINGAI_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if storageDriver := os.Getenv("ONGOINGAI_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("ONGOINGAI_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("ONGOINGAI_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if mode := os.Getenv("ONGOINGAI_REFRESH_MODE"); mode != "" {
		cfg.Refresh.Mode = mode
	}
	if err := envInt("ONGOINGAI_REFRESH_INTERVAL_SEC", &cfg.Refresh.IntervalSec); err != nil {
		return err
	}
	if err := envInt("ONGOINGAI_REFRESH_STALE_AFTER_SEC", &cfg.Refresh.StaleAfterSec); err != nil {
		return err
	}
	if err := envInt("ONGOINGAI_REFRESH_FETCH_TIMEOUT_SEC", &cfg.Refresh.FetchTimeoutSec); err != nil {
		return err
	}
	if err := envInt("ONGOINGAI_REFRESH_LOOKBACK_DAYS", &cfg.Refresh.LookbackDays); err != nil {
		return err
	}

	if window := os.Getenv("ONGOINGAI_DASHBOARD_WINDOW"); window != "" {
		cfg.Dashboard.DefaultWindow = window
	}
	if granularity := os.Getenv("ONGOINGAI_DASHBOARD_GRANULARITY"); granularity != "" {
		cfg.Dashboard.DefaultGranularity = granularity
	}
	if location := os.Getenv("ONGOINGAI_DASHBOARD_LOCATION"); location != "" {
		cfg.Dashboard.Location = location
	}

	if cacheDriver := os.Getenv("ONGOINGAI_CACHE_DRIVER"); cacheDriver != "" {
		cfg.Cache.Driver = cacheDriver
	}
	if err := envInt("ONGOINGAI_CACHE_TTL_SEC", &cfg.Cache.TTLSec); err != nil {
		return err
	}
	if addr := os.Getenv("ONGOINGAI_REDIS_ADDR"); addr != "" {
		cfg.Cache.Redis.Addr = addr
	}
	if password := os.Getenv("ONGOINGAI_REDIS_PASSWORD"); password != "" {
		cfg.Cache.Redis.Password = password
	}
	if err := envInt("ONGOINGAI_REDIS_DB", &cfg.Cache.Redis.DB); err != nil {
		return err
	}

	if authEnabled := os.Getenv("ONGOINGAI_AUTH_ENABLED"); authEnabled != "" {
		v, err := strconv.ParseBool(authEnabled)
		if err != nil {
			return fmt.Errorf("invalid ONGOINGAI_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if authHeader := os.Getenv("ONGOINGAI_AUTH_HEADER"); authHeader != "" {
		cfg.Auth.Header = authHeader
	}
	if err := envInt("ONGOINGAI_LIMITS_READ_RPM", &cfg.Limits.ReadRequestsPerMinute); err != nil {
		return err
	}
	if err := envInt("ONGOINGAI_LIMITS_REFRESH_RPM", &cfg.Limits.RefreshRequestsPerMinute); err != nil {
		return err
	}

	return applyOTelEnv(&cfg.Observability.OTel)
}

func applyOTelEnv(cfg *OTelConfig) error {
	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.ServiceName = serviceName
		otelConfigured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.TracesEnabled = enabled
		otelConfigured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.MetricsEnabled = enabled
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.MetricExportIntervalMS = v
		otelConfigured = true
	}

	// Any standard OTEL_* variable opts in unless OTEL_SDK_DISABLED said otherwise.
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Enabled = true
	}
	return nil
}

func envInt(name string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}
