package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/health"
)

// HealthHandler exposes the liveness/readiness probes of C-unnumbered
// health, unauthenticated since orchestrators polling /healthz never
// carry a bearer token.
type HealthHandler struct {
	manager *health.Manager
	logger  *zap.Logger
}

func NewHealthHandler(m *health.Manager, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{manager: m, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleLive)
	mux.HandleFunc("/readyz", h.handleReady)
}

func (h *HealthHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "alive"})
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.Check(r.Context())
	status := http.StatusOK
	if !overall.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall.Status.String(),
		"ready":      overall.Ready,
		"live":       overall.Live,
		"components": overall.Components,
	})
}
