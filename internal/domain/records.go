package domain

import "time"

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TranscriptEntry is one utterance in the session transcript.
type TranscriptEntry struct {
	Role      Role      `json:"role" yaml:"role"`
	Text      string    `json:"text" yaml:"text"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Skill is one of the fixed reasoning skills the tutor observes.
type Skill string

const (
	SkillArgumentation       Skill = "argumentation"
	SkillEvidenceEvaluation  Skill = "evidence_evaluation"
	SkillPerspectiveTaking   Skill = "perspective_taking"
	SkillQuestioning         Skill = "questioning"
	SkillMetacognition       Skill = "metacognition"
	SkillSynthesis           Skill = "synthesis"
	SkillAnalogicalReasoning Skill = "analogical_reasoning"
	SkillHypothesisFormation Skill = "hypothesis_formation"
	SkillClarityOfExpression Skill = "clarity_of_expression"
)

// Skills lists all recognised skill tags.
var Skills = []Skill{
	SkillArgumentation,
	SkillEvidenceEvaluation,
	SkillPerspectiveTaking,
	SkillQuestioning,
	SkillMetacognition,
	SkillSynthesis,
	SkillAnalogicalReasoning,
	SkillHypothesisFormation,
	SkillClarityOfExpression,
}

// ParseSkill returns the skill named by s.
func ParseSkill(s string) (Skill, bool) {
	for _, sk := range Skills {
		if string(sk) == s {
			return sk, true
		}
	}
	return "", false
}

// Classification says whether an observation shows a strength or a struggle.
type Classification string

const (
	ClassificationStrength Classification = "strength"
	ClassificationStruggle Classification = "struggle"
	ClassificationNeutral  Classification = "neutral"
)

// ParseClassification maps free text onto a classification, defaulting to neutral.
func ParseClassification(s string) Classification {
	switch Classification(s) {
	case ClassificationStrength, ClassificationStruggle:
		return Classification(s)
	default:
		return ClassificationNeutral
	}
}

// SkillObservation records one observation of a learner skill.
type SkillObservation struct {
	Skill          Skill          `json:"skill" yaml:"skill"`
	Observation    string         `json:"observation" yaml:"observation"`
	Evidence       string         `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Classification Classification `json:"classification" yaml:"classification"`
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`
}

// OpenLoop is a thread of learner curiosity to pick up in a later session.
type OpenLoop struct {
	Question  string    `json:"question" yaml:"question"`
	Context   string    `json:"context,omitempty" yaml:"context,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// SessionMisconception is a misconception flagged by the tutor.
type SessionMisconception struct {
	Misconception string    `json:"misconception" yaml:"misconception"`
	Correction    string    `json:"correction,omitempty" yaml:"correction,omitempty"`
	Addressed     bool      `json:"addressed" yaml:"addressed"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
}

// LessonPlanModification records a change the tutor made to the lesson plan.
type LessonPlanModification struct {
	Modification string    `json:"modification" yaml:"modification"`
	Reason       string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
}

// SessionVisual is a visual aid the tutor asked the UI to render.
type SessionVisual struct {
	Type      string    `json:"type" yaml:"type"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// PresentedTopic is a topic option offered to the learner, keyed by option number.
type PresentedTopic struct {
	OptionNumber int    `json:"option_number" yaml:"option_number"`
	Title        string `json:"title" yaml:"title"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	IsSelected   bool   `json:"is_selected" yaml:"is_selected"`
}
