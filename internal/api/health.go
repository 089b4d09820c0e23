package api

import (
	"net/http"
	"time"
)

type HealthOptions struct {
	Version       string
	StartedAt     time.Time
	StorageDriver string
	Snapshots     SnapshotProvider
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSec     int64  `json:"uptime_sec"`
	StorageDriver string `json:"storage_driver"`
	SnapshotReady bool   `json:"snapshot_ready"`
	SnapshotSeq   uint64 `json:"snapshot_seq"`
}

// HealthHandler reports liveness. It answers 200 before the first snapshot
// commits; readiness is the snapshot_ready field.
func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		response := healthResponse{
			Status:        "ok",
			Version:       options.Version,
			UptimeSec:     int64(time.Since(options.StartedAt).Seconds()),
			StorageDriver: options.StorageDriver,
		}
		if options.Snapshots != nil {
			status := options.Snapshots.Status()
			response.SnapshotReady = status.Ready
			response.SnapshotSeq = status.Seq
		}
		writeJSON(w, http.StatusOK, response)
	})
}
