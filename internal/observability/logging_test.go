package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json unmarshal %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLoggerAddsTraceContext(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	ctx, span := tp.Tracer("test").Start(context.Background(), "snapshot.refresh")
	logger.InfoContext(ctx, "snapshot committed", "seq", 3)
	span.End()

	entry := decodeLogLine(t, &buf)
	if traceID, _ := entry["trace_id"].(string); len(traceID) != 32 {
		t.Fatalf("trace_id=%v, want 32 hex chars", entry["trace_id"])
	}
	if spanID, _ := entry["span_id"].(string); len(spanID) != 16 {
		t.Fatalf("span_id=%v, want 16 hex chars", entry["span_id"])
	}
}

func TestNewLoggerOmitsTraceContextWithoutSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewLogger(&buf, "info").Info("no span")

	entry := decodeLogLine(t, &buf)
	if _, ok := entry["trace_id"]; ok {
		t.Fatalf("unexpected trace_id in %v", entry)
	}
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, "info").With("component", "snapshot")
	logger.Error("snapshot refresh failed",
		"error", errors.New("connect postgres://dash:hunter22@db/usage: refused"),
		"dsn", "host=db password=hunter22",
	)

	entry := decodeLogLine(t, &buf)
	if got := entry["error"]; got != "connect postgres://dash:[REDACTED]@db/usage: refused" {
		t.Fatalf("error=%v", got)
	}
	if got := entry["dsn"]; got != "host=db password=[REDACTED]" {
		t.Fatalf("dsn=%v", got)
	}
	if got := entry["component"]; got != "snapshot" {
		t.Fatalf("component=%v, want snapshot", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		if got := ParseLogLevel(raw); got != want {
			t.Fatalf("ParseLogLevel(%q)=%v, want %v", raw, got, want)
		}
	}

	var buf bytes.Buffer
	NewLogger(&buf, "warn").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
}
