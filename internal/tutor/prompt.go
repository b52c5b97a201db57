package tutor

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

const basePersona = `You are a warm, curious Socratic tutor talking with a learner by voice.
Ask one question at a time and keep turns short. Never lecture; draw ideas out of the learner.
The session moves through phases: warm_entry, diagnostic, scaffolding, deepening, transfer, reflection.
Declare every phase change with transition_phase. Record what you notice with log_skill_observation,
flag_misconception, create_open_loop and update_lesson_plan. Use display_visual when a picture helps.

Start by greeting the learner. Then offer three topics by calling present_topic_option for options 1, 2 and 3,
describing each aloud. When the learner picks one, call confirm_topic_selection with its number, ask what they
already know about it, and then call select_topic.`

// FallbackGuidance is injected when no lesson plan is available for the chosen topic.
const FallbackGuidance = `LESSON GUIDANCE
No structured plan is available for this topic. Teach it Socratically:
- Start from what the learner already knows and ask them to explain it in their own words.
- Probe each claim with "how do you know?" and "what would change your mind?".
- Offer a counterexample when reasoning is too neat, and let the learner repair it.
- Move toward applying the idea somewhere new, then close with a reflection on what changed in their thinking.`

// BuildInstructions renders the base instructions for a learner.
func BuildInstructions(profile *domain.LearnerProfile, topics []domain.Topic) string {
	var b strings.Builder
	b.WriteString(basePersona)

	if profile != nil {
		b.WriteString("\n\nLEARNER\n")
		if profile.DisplayName != "" {
			fmt.Fprintf(&b, "Name: %s\n", profile.DisplayName)
		}
		if profile.GradeLevel != "" {
			fmt.Fprintf(&b, "Grade level: %s\n", profile.GradeLevel)
		}
		if len(profile.Interests) > 0 {
			fmt.Fprintf(&b, "Interests: %s\n", strings.Join(profile.Interests, ", "))
		}
		fmt.Fprintf(&b, "Previous sessions: %d\n", profile.SessionCount)
		if len(profile.OpenLoops) > 0 {
			b.WriteString("Open questions from earlier sessions:\n")
			for _, loop := range profile.OpenLoops {
				fmt.Fprintf(&b, "- %s\n", loop.Question)
			}
		}
	}

	if len(topics) > 0 {
		if profile == nil {
			b.WriteString("\n")
		}
		b.WriteString("\nTOPICS TO OFFER\n")
		for i, t := range topics {
			if i == MaxTopicOptions {
				break
			}
			if t.Description != "" {
				fmt.Fprintf(&b, "%d. %s: %s\n", i+1, t.Title, t.Description)
			} else {
				fmt.Fprintf(&b, "%d. %s\n", i+1, t.Title)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderLessonPlan renders the fields of plan that are present. A nil plan
// renders FallbackGuidance.
func RenderLessonPlan(topic string, plan *domain.LessonPlan) string {
	if plan == nil {
		return FallbackGuidance
	}

	var b strings.Builder
	title := plan.Title
	if title == "" {
		title = topic
	}
	fmt.Fprintf(&b, "LESSON PLAN: %s\n", title)
	if plan.EntryQuestion != "" {
		fmt.Fprintf(&b, "Entry question: %s\n", plan.EntryQuestion)
	}
	writeList(&b, "Objectives", plan.Objectives)
	writeList(&b, "Key questions", plan.KeyQuestions)
	writeList(&b, "Common misconceptions to watch for", plan.CommonMisconceptions)
	writeList(&b, "Scaffolds if the learner is stuck", plan.Scaffolds)
	if plan.TransferChallenge != "" {
		fmt.Fprintf(&b, "Transfer challenge: %s\n", plan.TransferChallenge)
	}
	if plan.ReflectionPrompt != "" {
		fmt.Fprintf(&b, "Reflection prompt: %s\n", plan.ReflectionPrompt)
	}
	b.WriteString("Follow the plan loosely; the learner's thinking comes first.")
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// ResumeMessage is the context and instruction pair sent after a pause.
type ResumeMessage struct {
	Context     string
	Instruction string
}

var resumeMessages = map[domain.Activity]ResumeMessage{
	domain.ActivityGreeting: {
		Context:     "[Session resumed] I stepped away for a moment while you were greeting me.",
		Instruction: "Welcome the learner back warmly and pick up the greeting where it left off. Then move on to offering topics.",
	},
	domain.ActivityOfferingTopics: {
		Context:     "[Session resumed] I paused while you were telling me about the topic options.",
		Instruction: "Briefly recap the topic options presented so far, then finish presenting the remaining options.",
	},
	domain.ActivityAwaitingSelection: {
		Context:     "[Session resumed] I paused before choosing one of the three topics.",
		Instruction: "Remind the learner of the three options in one sentence each and ask which one they want to explore.",
	},
	domain.ActivityDiscussing: {
		Context:     "[Session resumed] I paused in the middle of our discussion.",
		Instruction: "Summarize where the discussion stood in one or two sentences, then repeat or rephrase the last question you asked.",
	},
	domain.ActivityReflecting: {
		Context:     "[Session resumed] I paused while we were reflecting on the session.",
		Instruction: "Return to the reflection: restate the reflection question and invite the learner to continue their answer.",
	},
}

var genericResume = ResumeMessage{
	Context:     "[Session resumed] I'm back after a short pause.",
	Instruction: "Welcome the learner back and continue from where the conversation left off.",
}

// ResumeMessageFor returns the resume message for the given activity.
func ResumeMessageFor(a domain.Activity) ResumeMessage {
	if m, ok := resumeMessages[a]; ok {
		return m
	}
	return genericResume
}

// TimeMessage renders the periodic time-awareness instruction.
func TimeMessage(cfg Config, elapsed time.Duration) string {
	remaining := cfg.MaxDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	head := fmt.Sprintf("[TIME UPDATE] %d minutes elapsed, %d minutes remaining.",
		int(elapsed/time.Minute), int((remaining+time.Minute-1)/time.Minute))

	switch {
	case remaining <= cfg.WarnImminent:
		return head + " The session is about to end. Wrap up now: ask the learner for one final reflection and say goodbye."
	case remaining <= cfg.WarnNear:
		return head + " Begin moving to reflection if you have not already. Do not start new lines of inquiry."
	case remaining <= cfg.WarnFar:
		return head + " Start steering toward the transfer challenge so there is time to reflect."
	default:
		return head + " Keep pacing naturally. Do not mention the time to the learner."
	}
}
