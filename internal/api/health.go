package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthChecker is an optional dependency probed by the health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
	planner HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. planner may be nil.
func NewHealthHandler(base *Handler, planner HealthChecker) *HealthHandler {
	return &HealthHandler{Handler: base, planner: planner, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.planner != nil {
		if err := h.planner.Health(ctx); err != nil {
			slog.Warn("Lesson planner health check failed", "error", err)
			checks["lesson_planner"] = "unreachable"
			if statusCode == http.StatusOK {
				status["status"] = "degraded"
			}
		} else {
			checks["lesson_planner"] = "ok"
		}
	}

	if h.sessions != nil {
		status["live_sessions"] = h.sessions.Count()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
