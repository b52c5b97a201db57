package tutor

import (
	"context"

	"github.com/ashureev/tutorlive/internal/domain"
)

// CredentialIssuer mints the short-lived credential for one session along with
// the learner's profile snapshot and initial topic set.
type CredentialIssuer interface {
	Issue(ctx context.Context, learnerID string) (*domain.Credential, error)
}

// LessonPlanner generates a plan for the chosen topic. A nil plan with a nil
// error means no plan is available.
type LessonPlanner interface {
	GeneratePlan(ctx context.Context, req domain.LessonPlanRequest) (*domain.LessonPlan, error)
}

// SessionRecorder persists sessions. CreateSession assigns the session id;
// CompleteSession receives the final artifact.
type SessionRecorder interface {
	CreateSession(ctx context.Context, learnerID string) (string, error)
	CompleteSession(ctx context.Context, artifact *domain.SessionArtifact) error
}
