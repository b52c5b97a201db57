// Package domain contains core domain types for live tutoring sessions.
package domain

import (
	"time"
)

// Status is the connection-level state of a tutoring session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusPaused     Status = "paused"
	StatusEnding     Status = "ending"
	StatusError      Status = "error"
)

// Phase is the coarse pedagogical stage declared by the conversational engine.
type Phase string

const (
	PhaseWarmEntry   Phase = "warm_entry"
	PhaseDiagnostic  Phase = "diagnostic"
	PhaseScaffolding Phase = "scaffolding"
	PhaseDeepening   Phase = "deepening"
	PhaseTransfer    Phase = "transfer"
	PhaseReflection  Phase = "reflection"
)

// Phases lists every phase in its nominal order.
var Phases = []Phase{
	PhaseWarmEntry,
	PhaseDiagnostic,
	PhaseScaffolding,
	PhaseDeepening,
	PhaseTransfer,
	PhaseReflection,
}

// ParsePhase returns the phase named by s.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Activity is the finer-grained sub-phase used to author resume instructions.
type Activity string

const (
	ActivityGreeting          Activity = "greeting"
	ActivityOfferingTopics    Activity = "offering_topics"
	ActivityAwaitingSelection Activity = "awaiting_selection"
	ActivityDiscussing        Activity = "discussing"
	ActivityReflecting        Activity = "reflecting"
)

// SessionState is the full mutable state of one tutoring session.
// It is owned by a single orchestrator; everything else sees copies.
type SessionState struct {
	Status                  Status                   `json:"status"`
	Phase                   Phase                    `json:"phase"`
	Activity                Activity                 `json:"activity"`
	ElapsedSeconds          int                      `json:"elapsed_seconds"`
	Transcript              []TranscriptEntry        `json:"transcript"`
	SkillObservations       []SkillObservation       `json:"skill_observations"`
	OpenLoops               []OpenLoop               `json:"open_loops"`
	Visuals                 []SessionVisual          `json:"visuals"`
	LessonPlanModifications []LessonPlanModification `json:"lesson_plan_modifications"`
	Misconceptions          []SessionMisconception   `json:"misconceptions"`
	PresentedTopics         []PresentedTopic         `json:"presented_topics"`
	SelectedTopic           string                   `json:"selected_topic,omitempty"`
	SessionID               string                   `json:"session_id,omitempty"`
	LearnerID               string                   `json:"learner_id,omitempty"`
	LastError               string                   `json:"last_error,omitempty"`
	StartedAt               time.Time                `json:"started_at,omitzero"`
}

// NewSessionState returns the default state a session starts from.
func NewSessionState() SessionState {
	return SessionState{
		Status:   StatusIdle,
		Phase:    PhaseWarmEntry,
		Activity: ActivityGreeting,
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s SessionState) Clone() SessionState {
	out := s
	out.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	out.SkillObservations = append([]SkillObservation(nil), s.SkillObservations...)
	out.OpenLoops = append([]OpenLoop(nil), s.OpenLoops...)
	out.Visuals = append([]SessionVisual(nil), s.Visuals...)
	out.LessonPlanModifications = append([]LessonPlanModification(nil), s.LessonPlanModifications...)
	out.Misconceptions = append([]SessionMisconception(nil), s.Misconceptions...)
	out.PresentedTopics = append([]PresentedTopic(nil), s.PresentedTopics...)
	return out
}

// PresentedTopicByNumber returns the presented topic for option n, if any.
func (s *SessionState) PresentedTopicByNumber(n int) (PresentedTopic, bool) {
	for _, t := range s.PresentedTopics {
		if t.OptionNumber == n {
			return t, true
		}
	}
	return PresentedTopic{}, false
}
