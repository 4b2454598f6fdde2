// Package api provides HTTP handlers for the administrative surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/avelichko/walink/internal/credstore"
	"github.com/avelichko/walink/internal/session"
)

// Handler provides common handler dependencies.
type Handler struct {
	registry *session.Registry
	creds    credstore.Store
	bus      *session.Bus
}

// NewHandler creates a new Handler.
func NewHandler(registry *session.Registry, creds credstore.Store, bus *session.Bus) *Handler {
	return &Handler{
		registry: registry,
		creds:    creds,
		bus:      bus,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
