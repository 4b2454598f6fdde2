package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avelichko/walink/internal/domain"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the admin session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Delete("/sessions/{tenantID}", h.RemoveSession)
		r.Get("/events/ws", h.StreamEvents)
	})
}

// ListSessions returns a snapshot of all live session summaries. The
// snapshot never exposes credential material.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.registry.List(),
	})
}

// RemoveSession force-removes a tenant's session and erases its stored
// credentials. The remote link is left untouched; the device can be
// unlinked from the phone.
func (h *Handler) RemoveSession(w http.ResponseWriter, r *http.Request) {
	tenant := domain.TenantID(chi.URLParam(r, "tenantID"))
	if tenant == "" {
		Error(w, http.StatusBadRequest, "missing tenant id")
		return
	}

	if err := h.registry.Remove(r.Context(), tenant, false); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("admin session removal failed", "tenant_id", tenant, "error", err)
		Error(w, http.StatusInternalServerError, "failed to remove session")
		return
	}

	slog.Info("session removed via admin API", "tenant_id", tenant)
	JSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	creds interface {
		Ping(ctx context.Context) error
	}
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(creds interface {
	Ping(ctx context.Context) error
}) *HealthHandler {
	return &HealthHandler{creds: creds}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.creds.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}
