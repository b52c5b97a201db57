package tutor

import (
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

func str(desc string) realtime.ToolProperty {
	return realtime.ToolProperty{Type: "string", Description: desc}
}

func enum(desc string, values ...string) realtime.ToolProperty {
	return realtime.ToolProperty{Type: "string", Description: desc, Enum: values}
}

func tool(name ToolName, desc string, props map[string]realtime.ToolProperty, required ...string) realtime.ToolDefinition {
	return realtime.ToolDefinition{
		Type:        "function",
		Name:        string(name),
		Description: desc,
		Parameters: realtime.ToolParameters{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// ToolDefinitions declares the tool vocabulary to the engine, in AllToolNames order.
func ToolDefinitions() []realtime.ToolDefinition {
	phases := make([]string, len(domain.Phases))
	for i, p := range domain.Phases {
		phases[i] = string(p)
	}
	skills := make([]string, len(domain.Skills))
	for i, s := range domain.Skills {
		skills[i] = string(s)
	}
	options := []string{"1", "2", "3"}

	return []realtime.ToolDefinition{
		tool(ToolTransitionPhase,
			"Move the session to a new pedagogical phase. Call this whenever the conversation changes stage.",
			map[string]realtime.ToolProperty{
				"phase": enum("The phase being entered.", phases...),
			}, "phase"),
		tool(ToolLogSkillObservation,
			"Record an observation of the learner's reasoning skill with the evidence that supports it.",
			map[string]realtime.ToolProperty{
				"skill":                enum("The reasoning skill observed.", skills...),
				"observation":          str("What the learner did."),
				"evidence":             str("A short quote from the learner, if available."),
				"strength_or_struggle": enum("Whether this shows a strength or a struggle.", "strength", "struggle", "neutral"),
			}, "skill", "observation", "strength_or_struggle"),
		tool(ToolCreateOpenLoop,
			"Note a question or curiosity the learner raised that is worth returning to in a later session.",
			map[string]realtime.ToolProperty{
				"question": str("The open question."),
				"context":  str("What prompted it."),
			}, "question"),
		tool(ToolDisplayVisual,
			"Show the learner a visual aid such as a diagram, a list of key terms, or a quote.",
			map[string]realtime.ToolProperty{
				"type":    enum("Kind of visual.", "diagram", "key_terms", "quote", "timeline", "comparison", "text"),
				"title":   str("Heading shown above the visual."),
				"content": str("The visual content, as markdown or mermaid source."),
			}, "type", "content"),
		tool(ToolUpdateLessonPlan,
			"Record a change to the lesson plan in response to how the learner is doing.",
			map[string]realtime.ToolProperty{
				"modification": str("The change being made."),
				"reason":       str("Why the change is needed."),
			}, "modification"),
		tool(ToolFlagMisconception,
			"Flag a misconception the learner expressed and whether it has been addressed.",
			map[string]realtime.ToolProperty{
				"misconception": str("The mistaken belief."),
				"correction":    str("The accurate understanding."),
				"addressed":     enum("Whether the misconception was addressed in conversation.", "true", "false"),
			}, "misconception", "addressed"),
		tool(ToolPresentTopicOption,
			"Present one topic option to the learner. Present options 1, 2 and 3 in turn.",
			map[string]realtime.ToolProperty{
				"option_number": enum("Which option this is.", options...),
				"title":         str("Short title of the topic."),
				"description":   str("One sentence on what the discussion would explore."),
			}, "option_number", "title"),
		tool(ToolConfirmTopicSelection,
			"Highlight the option the learner chose, before discussing it.",
			map[string]realtime.ToolProperty{
				"option_number": enum("The chosen option.", options...),
			}, "option_number"),
		tool(ToolSelectTopic,
			"Lock in the discussion topic and what the learner already knows about it.",
			map[string]realtime.ToolProperty{
				"topic":           str("The chosen topic."),
				"prior_knowledge": str("What the learner said they already know."),
			}, "topic"),
	}
}
