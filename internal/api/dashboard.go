package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ongoingai/dashboard/internal/analytics"
	"github.com/ongoingai/dashboard/internal/dashboard"
	"github.com/ongoingai/dashboard/internal/pathutil"
	"github.com/ongoingai/dashboard/internal/usage"
	"github.com/ongoingai/dashboard/internal/viewcache"
)

const (
	defaultHistoricalDays = 30
	maxHistoricalDays     = 366
)

type viewHandler struct {
	snapshots          SnapshotProvider
	cache              viewcache.Cache
	recorder           CacheRecorder
	logger             *slog.Logger
	defaultWindow      analytics.Window
	defaultGranularity analytics.Granularity
}

func (h *viewHandler) monitoring(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	window, err := h.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.render(w, r, func(snap *usage.Snapshot) (any, error) {
		return dashboard.Monitoring(snap, window), nil
	})
}

func (h *viewHandler) historical(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	days, err := parseIntQuery(r.URL.Query().Get("days"), "days", 1, maxHistoricalDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if days == 0 {
		days = defaultHistoricalDays
	}
	granularity, err := h.parseGranularity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.render(w, r, func(snap *usage.Snapshot) (any, error) {
		return dashboard.Historical(snap, days, granularity), nil
	})
}

func (h *viewHandler) overview(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	h.render(w, r, func(snap *usage.Snapshot) (any, error) {
		return dashboard.Overview(snap), nil
	})
}

func (h *viewHandler) model(w http.ResponseWriter, r *http.Request) {
	model, ok := pathutil.Segment(r.URL.EscapedPath(), "/api/dashboard/models")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	window, err := h.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	granularity, err := h.parseGranularity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.render(w, r, func(snap *usage.Snapshot) (any, error) {
		return dashboard.ModelDetail(snap, model, window, granularity), nil
	})
}

func (h *viewHandler) account(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathutil.Segment(r.URL.EscapedPath(), "/api/dashboard/accounts")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	h.render(w, r, func(snap *usage.Snapshot) (any, error) {
		view, err := dashboard.Account(snap, userID)
		if err != nil {
			return nil, err
		}
		return view, nil
	})
}

// render resolves the snapshot, then serves the view from cache or builds,
// caches and writes it.
func (h *viewHandler) render(w http.ResponseWriter, r *http.Request, build func(*usage.Snapshot) (any, error)) {
	if h.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot refresher is not configured")
		return
	}
	snap, err := h.snapshots.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "dashboard data is not available yet")
		return
	}
	w.Header().Set("X-Snapshot-Seq", strconv.FormatUint(snap.Seq, 10))

	key := viewcache.Key(snap.Seq, r.URL.RequestURI())
	if body, ok := h.cacheGet(r, key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSONBytes(w, http.StatusOK, body)
		return
	}

	view, err := build(snap)
	if errors.Is(err, dashboard.ErrUnknownUser) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to build dashboard view", "path", r.URL.Path, "error", err)
		writeInternalError(w)
		return
	}
	body, err := encodeJSON(view)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode dashboard view", "path", r.URL.Path, "error", err)
		writeInternalError(w)
		return
	}
	h.cacheSet(r, key, body)
	w.Header().Set("X-Cache", "MISS")
	writeJSONBytes(w, http.StatusOK, body)
}

func (h *viewHandler) cacheGet(r *http.Request, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	body, ok, err := h.cache.Get(r.Context(), key)
	if err != nil {
		h.logger.WarnContext(r.Context(), "view cache read failed", "error", err)
		return nil, false
	}
	if h.recorder != nil {
		h.recorder.RecordViewCache(r.Context(), r.URL.Path, ok)
	}
	return body, ok
}

func (h *viewHandler) cacheSet(r *http.Request, key string, body []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(r.Context(), key, body); err != nil {
		h.logger.WarnContext(r.Context(), "view cache write failed", "error", err)
	}
}

func (h *viewHandler) parseWindow(r *http.Request) (analytics.Window, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window"))
	if raw == "" {
		return h.defaultWindow, nil
	}
	return analytics.ParseWindow(raw)
}

func (h *viewHandler) parseGranularity(r *http.Request) (analytics.Granularity, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("granularity"))
	if raw == "" {
		return h.defaultGranularity, nil
	}
	return analytics.ParseGranularity(raw)
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be >= %d", name, min)
	}
	if max != 0 && parsed > max {
		return 0, fmt.Errorf("%s must be <= %d", name, max)
	}
	return parsed, nil
}
