package domain

import (
	"time"
)

// Topic is a candidate discussion topic suggested for a learner.
type Topic struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// LearnerProfile is the durable snapshot of a learner used to seed a session.
type LearnerProfile struct {
	LearnerID    string     `json:"learner_id" yaml:"learner_id"`
	DisplayName  string     `json:"display_name" yaml:"display_name"`
	GradeLevel   string     `json:"grade_level,omitempty" yaml:"grade_level,omitempty"`
	Interests    []string   `json:"interests,omitempty" yaml:"interests,omitempty"`
	Topics       []Topic    `json:"topics,omitempty" yaml:"topics,omitempty"`
	OpenLoops    []OpenLoop `json:"open_loops,omitempty" yaml:"open_loops,omitempty"`
	SessionCount int        `json:"session_count" yaml:"session_count"`
	LastSeenAt   time.Time  `json:"last_seen_at" yaml:"last_seen_at"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Credential authorizes one real-time connection to the conversational engine.
type Credential struct {
	Token     string          `json:"-"`
	ExpiresAt time.Time       `json:"expires_at"`
	Model     string          `json:"model"`
	Voice     string          `json:"voice,omitempty"`
	Topics    []Topic         `json:"topics"`
	Profile   *LearnerProfile `json:"profile,omitempty"`
}

// Expired reports whether the credential can no longer be used at now.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.Token == "" {
		return true
	}
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
