// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/unclebandit/mailflow-backend/internal/service"
)

// HealthChecker is satisfied by service.HealthMonitor.
type HealthChecker interface {
	Check(ctx context.Context) service.HealthSnapshot
}

type HealthHandler struct {
	Monitor HealthChecker
}

// GetHealth returns the snapshot; only an unhealthy engine answers 503.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.Monitor.Check(r.Context())
	status := http.StatusOK
	if snap.Status == service.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}
