package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is one named dependency probed by the readiness endpoint.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 5 * time.Second}
}

// Routes returns a chi router with the probe routes.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	return r
}

// Health handles GET /health. It succeeds whenever the process serves.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// Ready handles GET /ready by pinging every dependency.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			status[c.Name] = "unavailable"
			status["status"] = "error"
			code = http.StatusServiceUnavailable
			continue
		}
		status[c.Name] = "connected"
	}
	response.JSON(w, code, status)
}
