package handlers

import (
	"net/http"

	"hookgate/internal/engine/metrics"
)

type HealthHandler struct {
	monitor *metrics.Monitor
}

func NewHealthHandler(monitor *metrics.Monitor) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

// Check is the public probe: status only, 503 when unhealthy.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	snap := h.monitor.Snapshot(r.Context())
	writeJSON(w, statusCode(snap), map[string]interface{}{
		"status":    snap.Status,
		"timestamp": snap.CheckedAt,
	})
}

// Detail is the admin view with every component and ratio.
func (h *HealthHandler) Detail(w http.ResponseWriter, r *http.Request) {
	snap := h.monitor.Snapshot(r.Context())
	writeJSON(w, statusCode(snap), snap)
}

func statusCode(s *metrics.Snapshot) int {
	if s.Status == metrics.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
