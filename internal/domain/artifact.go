package domain

import "time"

// EndReason says why a session ended.
type EndReason string

const (
	EndReasonUser      EndReason = "user"
	EndReasonTimeLimit EndReason = "time_limit"
	EndReasonError     EndReason = "error"
	EndReasonShutdown  EndReason = "shutdown"
)

// SessionArtifact is everything a finished session hands to persistence.
type SessionArtifact struct {
	SessionID               string                   `json:"session_id" yaml:"session_id"`
	LearnerID               string                   `json:"learner_id" yaml:"learner_id"`
	Transcript              []TranscriptEntry        `json:"transcript" yaml:"transcript"`
	SkillObservations       []SkillObservation       `json:"skill_observations" yaml:"skill_observations"`
	OpenLoops               []OpenLoop               `json:"open_loops" yaml:"open_loops"`
	Visuals                 []SessionVisual          `json:"visuals" yaml:"visuals"`
	LessonPlanModifications []LessonPlanModification `json:"lesson_plan_modifications" yaml:"lesson_plan_modifications"`
	Misconceptions          []SessionMisconception   `json:"misconceptions" yaml:"misconceptions"`
	DurationSeconds         int                      `json:"duration_seconds" yaml:"duration_seconds"`
	FinalPhase              Phase                    `json:"final_phase" yaml:"final_phase"`
	SelectedTopic           string                   `json:"selected_topic,omitempty" yaml:"selected_topic,omitempty"`
	EndReason               EndReason                `json:"end_reason" yaml:"end_reason"`
	StartedAt               time.Time                `json:"started_at" yaml:"started_at"`
	EndedAt                 time.Time                `json:"ended_at" yaml:"ended_at"`
}

// ArtifactFromState assembles the artifact for a session ending at endedAt.
func ArtifactFromState(s SessionState, reason EndReason, endedAt time.Time) *SessionArtifact {
	c := s.Clone()
	return &SessionArtifact{
		SessionID:               c.SessionID,
		LearnerID:               c.LearnerID,
		Transcript:              c.Transcript,
		SkillObservations:       c.SkillObservations,
		OpenLoops:               c.OpenLoops,
		Visuals:                 c.Visuals,
		LessonPlanModifications: c.LessonPlanModifications,
		Misconceptions:          c.Misconceptions,
		DurationSeconds:         c.ElapsedSeconds,
		FinalPhase:              c.Phase,
		SelectedTopic:           c.SelectedTopic,
		EndReason:               reason,
		StartedAt:               c.StartedAt,
		EndedAt:                 endedAt,
	}
}

// SessionRecordStatus is the persisted lifecycle of a session row.
type SessionRecordStatus string

const (
	SessionRecordCreated   SessionRecordStatus = "created"
	SessionRecordCompleted SessionRecordStatus = "completed"
	SessionRecordAbandoned SessionRecordStatus = "abandoned"
)

// SessionRecord is the summary row persisted for every session.
type SessionRecord struct {
	SessionID       string              `json:"session_id" yaml:"session_id"`
	LearnerID       string              `json:"learner_id" yaml:"learner_id"`
	Status          SessionRecordStatus `json:"status" yaml:"status"`
	SelectedTopic   string              `json:"selected_topic,omitempty" yaml:"selected_topic,omitempty"`
	FinalPhase      Phase               `json:"final_phase,omitempty" yaml:"final_phase,omitempty"`
	DurationSeconds int                 `json:"duration_seconds" yaml:"duration_seconds"`
	EndReason       EndReason           `json:"end_reason,omitempty" yaml:"end_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at" yaml:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}
