package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/offsync/offsync/internal/server/middleware"
)

// Per-IP request budget. Sync clients batch their traffic, so a chatty
// client hitting this limit is misbehaving.
const (
	rateLimit       = 600
	rateLimitWindow = time.Minute
)

// NewRouter wires the full route table with logging, recovery and rate
// limiting. The health endpoint skips request logging: probes fire often
// and would drown the log.
func NewRouter(records *RecordsHandler, health *HealthHandler, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingWithSkip(logger, []string{"/healthz"}))
	r.Use(middleware.RateLimitMiddleware(rateLimit, rateLimitWindow, logger))

	r.HandleFunc("/healthz", health.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/records/{module}", records.ListModule).Methods(http.MethodGet)
	api.HandleFunc("/records/{module}/{record}", records.Pull).Methods(http.MethodGet)
	api.HandleFunc("/records/{module}/{record}", records.Push).Methods(http.MethodPost)

	return r
}
