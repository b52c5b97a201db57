// Package api provides HTTP handlers for the tutor API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/registry"
)

// Store is the persistence surface the handlers read from.
type Store interface {
	GetLearner(ctx context.Context, learnerID string) (*domain.LearnerProfile, error)
	GetArtifact(ctx context.Context, sessionID string) (*domain.SessionArtifact, error)
	ListSessions(ctx context.Context, learnerID string, limit int) ([]*domain.SessionRecord, error)
	Ping(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	repo     Store
	sessions *registry.Registry
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo Store, sessions *registry.Registry) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
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
