package handlers

import (
	"log/slog"
	"net/http"
)

// HealthHandler answers liveness probes
type HealthHandler struct {
	logger *slog.Logger
	ping   func() error
}

// NewHealthHandler creates a health handler. ping checks the backing
// store and may be nil.
func NewHealthHandler(logger *slog.Logger, ping func() error) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		ping:   ping,
	}
}

// Health handles GET /healthz
// Clients use this endpoint as their connectivity probe, so the response
// carries no body: reachability is the whole answer.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(); err != nil {
			h.logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
