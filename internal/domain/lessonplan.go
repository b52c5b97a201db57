package domain

// LessonPlanRequest asks the lesson-plan collaborator for a plan on one topic.
type LessonPlanRequest struct {
	LearnerID      string
	Topic          string
	PriorKnowledge string
	Profile        *LearnerProfile
}

// LessonPlan is a structured plan for discussing the selected topic.
// Every field is optional; renderers include only what is present.
type LessonPlan struct {
	Title                string   `json:"title,omitempty"`
	Objectives           []string `json:"objectives,omitempty"`
	EntryQuestion        string   `json:"entry_question,omitempty"`
	KeyQuestions         []string `json:"key_questions,omitempty"`
	CommonMisconceptions []string `json:"common_misconceptions,omitempty"`
	Scaffolds            []string `json:"scaffolds,omitempty"`
	TransferChallenge    string   `json:"transfer_challenge,omitempty"`
	ReflectionPrompt     string   `json:"reflection_prompt,omitempty"`
}
