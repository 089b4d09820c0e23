package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ongoingai/dashboard/internal/observability"
	"github.com/ongoingai/dashboard/internal/snapshot"
)

type refreshFailure struct {
	Error  string          `json:"error"`
	Status snapshot.Status `json:"status"`
}

func SnapshotStatusHandler(snapshots SnapshotProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if snapshots == nil {
			writeError(w, http.StatusServiceUnavailable, "snapshot refresher is not configured")
			return
		}
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, redactedStatus(snapshots))
	})
}

// SnapshotRefreshHandler runs a manual refresh. A failed refresh answers 502
// with the error text; the previously committed snapshot keeps serving.
func SnapshotRefreshHandler(snapshots SnapshotProvider, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if snapshots == nil {
			writeError(w, http.StatusServiceUnavailable, "snapshot refresher is not configured")
			return
		}
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		// A disconnecting client does not abort the fetch it started.
		_, err := snapshots.Refresh(context.WithoutCancel(r.Context()))
		if err != nil && !errors.Is(err, snapshot.ErrSuperseded) {
			if logger != nil {
				logger.WarnContext(r.Context(), "manual snapshot refresh failed", "error", err)
			}
			writeJSON(w, http.StatusBadGateway, refreshFailure{
				Error:  "snapshot refresh failed: " + observability.Redact(err.Error()),
				Status: redactedStatus(snapshots),
			})
			return
		}
		writeJSON(w, http.StatusOK, redactedStatus(snapshots))
	})
}

func redactedStatus(snapshots SnapshotProvider) snapshot.Status {
	status := snapshots.Status()
	status.LastError = observability.Redact(status.LastError)
	return status
}
