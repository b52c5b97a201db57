package tutor

import "github.com/ashureev/tutorlive/internal/domain"

// UpdateKind says what changed in a session.
type UpdateKind string

const (
	UpdateStatus     UpdateKind = "status"
	UpdatePhase      UpdateKind = "phase"
	UpdateActivity   UpdateKind = "activity"
	UpdateTranscript UpdateKind = "transcript"
	UpdateVisual     UpdateKind = "visual"
	UpdateTopics     UpdateKind = "topics"
	UpdateRecord     UpdateKind = "record"
	UpdateElapsed    UpdateKind = "elapsed"
	UpdateError      UpdateKind = "error"
)

// Update is a change notification for the rendering layer. Every update
// carries the session header; the payload fields depend on Kind.
type Update struct {
	Kind             UpdateKind      `json:"kind"`
	LearnerID        string          `json:"learner_id"`
	SessionID        string          `json:"session_id,omitempty"`
	Status           domain.Status   `json:"status"`
	Phase            domain.Phase    `json:"phase"`
	Activity         domain.Activity `json:"activity"`
	ElapsedSeconds   int             `json:"elapsed_seconds"`
	RemainingSeconds int             `json:"remaining_seconds"`

	TranscriptIndex *int                    `json:"transcript_index,omitempty"`
	Transcript      *domain.TranscriptEntry `json:"transcript,omitempty"`
	Visual          *domain.SessionVisual   `json:"visual,omitempty"`
	Topics          []domain.PresentedTopic `json:"topics,omitempty"`
	Record          string                  `json:"record,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Publisher receives session updates. Publish must not block.
type Publisher interface {
	Publish(Update)
}

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc func(Update)

func (f PublisherFunc) Publish(u Update) { f(u) }

type noopPublisher struct{}

func (noopPublisher) Publish(Update) {}
