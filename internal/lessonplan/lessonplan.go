// Package lessonplan implements the lesson-plan generation collaborator:
// given a chosen topic and the learner's stated prior knowledge it returns a
// structured plan, or nothing when no plan can be produced.
package lessonplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/tutorlive/internal/domain"
)

var errEmptyPlan = errors.New("planner returned an empty plan")

// None never produces a plan; the tutor falls back to generic guidance.
type None struct{}

// GeneratePlan returns no plan.
func (None) GeneratePlan(context.Context, domain.LessonPlanRequest) (*domain.LessonPlan, error) {
	return nil, nil
}

// buildPrompt renders the request for a text-generation backend.
func buildPrompt(req domain.LessonPlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	prior := strings.TrimSpace(req.PriorKnowledge)
	if prior == "" {
		prior = "unknown"
	}
	fmt.Fprintf(&b, "What the learner already knows: %s\n", prior)
	if p := req.Profile; p != nil {
		if p.GradeLevel != "" {
			fmt.Fprintf(&b, "Grade level: %s\n", p.GradeLevel)
		}
		if len(p.Interests) > 0 {
			fmt.Fprintf(&b, "Interests: %s\n", strings.Join(p.Interests, ", "))
		}
	}
	b.WriteString("Write a Socratic lesson plan for a 20 minute spoken conversation.")
	return b.String()
}

const systemInstruction = `You design short Socratic lesson plans for a voice tutor.
Return JSON only. Questions must be answerable aloud and build from the learner's prior knowledge.
Keep every list to at most four items.`

// parsePlan decodes a JSON plan, tolerating a fenced code block around it.
func parsePlan(text string) (*domain.LessonPlan, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyPlan
	}

	var plan domain.LessonPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("decode lesson plan: %w", err)
	}
	if isEmpty(&plan) {
		return nil, errEmptyPlan
	}
	return &plan, nil
}

func isEmpty(p *domain.LessonPlan) bool {
	return p.Title == "" && p.EntryQuestion == "" && p.TransferChallenge == "" && p.ReflectionPrompt == "" &&
		len(p.Objectives) == 0 && len(p.KeyQuestions) == 0 &&
		len(p.CommonMisconceptions) == 0 && len(p.Scaffolds) == 0
}
