package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/snapshot"
	"github.com/ongoingai/dashboard/internal/usage"
	"github.com/ongoingai/dashboard/internal/viewcache"
)

// SnapshotProvider is the read and refresh surface of snapshot.Refresher.
type SnapshotProvider interface {
	Latest(ctx context.Context) (*usage.Snapshot, error)
	Refresh(ctx context.Context) (*usage.Snapshot, error)
	Status() snapshot.Status
}

// CacheRecorder observes view cache lookups.
type CacheRecorder interface {
	RecordViewCache(ctx context.Context, path string, hit bool)
}

type RouterOptions struct {
	AppVersion         string
	StorageDriver      string
	Snapshots          SnapshotProvider
	Cache              viewcache.Cache
	CacheRecorder      CacheRecorder
	Logger             *slog.Logger
	DefaultWindow      analytics.Window
	DefaultGranularity analytics.Granularity
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.DefaultWindow == "" {
		options.DefaultWindow = analytics.WindowDay
	}
	if options.DefaultGranularity == "" {
		options.DefaultGranularity = analytics.GranularityDay
	}

	mux := http.NewServeMux()
	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
		Snapshots:     options.Snapshots,
	}))
	mux.Handle("/api/snapshot", SnapshotStatusHandler(options.Snapshots))
	mux.Handle("/api/snapshot/refresh", SnapshotRefreshHandler(options.Snapshots, options.Logger))

	views := &viewHandler{
		snapshots:          options.Snapshots,
		cache:              options.Cache,
		recorder:           options.CacheRecorder,
		logger:             options.Logger,
		defaultWindow:      options.DefaultWindow,
		defaultGranularity: options.DefaultGranularity,
	}
	mux.Handle("/api/dashboard/monitoring", http.HandlerFunc(views.monitoring))
	mux.Handle("/api/dashboard/historical", http.HandlerFunc(views.historical))
	mux.Handle("/api/dashboard/overview", http.HandlerFunc(views.overview))
	mux.Handle("/api/dashboard/models/", http.HandlerFunc(views.model))
	mux.Handle("/api/dashboard/accounts/", http.HandlerFunc(views.account))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "ongoingai dashboard",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(mux)
}

func encodeJSON(payload any) ([]byte, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return nil, err
	}
	return body.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := encodeJSON(payload)
	if err != nil {
		writeInternalError(w)
		return
	}
	writeJSONBytes(w, status, body)
}

func writeJSONBytes(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeInternalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler) http.Handler {
	allowedHeaders := []string{"Content-Type", "Authorization"}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
		w.Header().Set("Access-Control-Expose-Headers", "X-Snapshot-Seq, X-Cache")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
