package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/medigate/backend/internal/monitor"
)

// MonitoringHandler exposes the in-memory request telemetry to operators
type MonitoringHandler struct {
	recorder *monitor.Recorder
}

// NewMonitoringHandler creates a new MonitoringHandler
func NewMonitoringHandler(recorder *monitor.Recorder) *MonitoringHandler {
	return &MonitoringHandler{recorder: recorder}
}

// Metrics returns the global rolling request log, oldest first. Passing a
// ?client= query narrows the view to that address's own history.
func (h *MonitoringHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	records := h.recorder.RecentRequests()
	if client := r.URL.Query().Get("client"); client != "" {
		records = h.recorder.ClientHistory(client)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"requests": records,
		"count":    len(records),
	})
}
