// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

// ErrNotFound is returned when a session or artifact does not exist.
var ErrNotFound = errors.New("store: not found")

// MaxOpenLoops caps the durable open loops kept per learner.
const MaxOpenLoops = 20

// Repository defines the interface for persisting learners and sessions.
type Repository interface {
	// GetLearner retrieves a learner profile. It returns nil, nil when absent.
	GetLearner(ctx context.Context, learnerID string) (*domain.LearnerProfile, error)

	// UpsertLearner creates or updates a learner's profile fields. Session
	// counters and open loops are owned by CompleteSession.
	UpsertLearner(ctx context.Context, learner *domain.LearnerProfile) error

	// UpdateLastSeen updates the last_seen_at timestamp for a learner.
	UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error

	// CreateSession records a new session and returns its id.
	CreateSession(ctx context.Context, learnerID string) (string, error)

	// CompleteSession stores the final artifact, merges its open loops into
	// the learner profile, and increments the learner's session count.
	CompleteSession(ctx context.Context, artifact *domain.SessionArtifact) error

	// GetSession retrieves one session record.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// GetArtifact retrieves the artifact of a completed session.
	GetArtifact(ctx context.Context, sessionID string) (*domain.SessionArtifact, error)

	// ListSessions returns sessions newest first. An empty learnerID lists all.
	ListSessions(ctx context.Context, learnerID string, limit int) ([]*domain.SessionRecord, error)

	// MarkAbandonedSessions flags sessions created before now-ttl that never
	// completed and returns how many were flagged.
	MarkAbandonedSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
