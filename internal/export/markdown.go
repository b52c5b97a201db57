package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

// MarkdownExporter exports artifacts as a readable session report
type MarkdownExporter struct{}

// Export exports an artifact to Markdown format
func (e *MarkdownExporter) Export(a *domain.SessionArtifact, w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", a.SessionID)
	fmt.Fprintf(&b, "**Learner:** %s  \n", a.LearnerID)
	if a.SelectedTopic != "" {
		fmt.Fprintf(&b, "**Topic:** %s  \n", escapeMarkdown(a.SelectedTopic))
	}
	fmt.Fprintf(&b, "**Duration:** %s  \n", (time.Duration(a.DurationSeconds) * time.Second).String())
	fmt.Fprintf(&b, "**Final phase:** %s  \n", a.FinalPhase)
	if a.EndReason != "" {
		fmt.Fprintf(&b, "**Ended:** %s\n\n", a.EndReason)
	} else {
		b.WriteString("\n")
	}

	if len(a.SkillObservations) > 0 {
		b.WriteString("## Skill observations\n\n")
		for _, o := range a.SkillObservations {
			fmt.Fprintf(&b, "- **%s** (%s): %s", o.Skill, o.Classification, escapeMarkdown(o.Observation))
			if o.Evidence != "" {
				fmt.Fprintf(&b, " _Evidence:_ %s", escapeMarkdown(o.Evidence))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(a.Misconceptions) > 0 {
		b.WriteString("## Misconceptions\n\n")
		for _, m := range a.Misconceptions {
			mark := " "
			if m.Addressed {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s", mark, escapeMarkdown(m.Misconception))
			if m.Correction != "" {
				fmt.Fprintf(&b, " -> %s", escapeMarkdown(m.Correction))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(a.OpenLoops) > 0 {
		b.WriteString("## Open loops\n\n")
		for _, l := range a.OpenLoops {
			fmt.Fprintf(&b, "- %s\n", escapeMarkdown(l.Question))
		}
		b.WriteString("\n")
	}

	if len(a.LessonPlanModifications) > 0 {
		b.WriteString("## Lesson plan changes\n\n")
		for _, m := range a.LessonPlanModifications {
			fmt.Fprintf(&b, "- %s", escapeMarkdown(m.Modification))
			if m.Reason != "" {
				fmt.Fprintf(&b, " (%s)", escapeMarkdown(m.Reason))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(a.Visuals) > 0 {
		b.WriteString("## Visuals\n\n")
		for _, v := range a.Visuals {
			title := v.Title
			if title == "" {
				title = v.Type
			}
			fmt.Fprintf(&b, "### %s\n\n```%s\n%s\n```\n\n", escapeMarkdown(title), v.Type, v.Content)
		}
	}

	b.WriteString("---\n\n## Transcript\n\n")
	for i, entry := range a.Transcript {
		timestamp := ""
		if !entry.Timestamp.IsZero() {
			timestamp = fmt.Sprintf(" (%s)", entry.Timestamp.Format("15:04:05"))
		}
		fmt.Fprintf(&b, "**%s:**%s\n\n%s\n\n", speaker(entry.Role), timestamp, escapeMarkdown(entry.Text))
		if i < len(a.Transcript)-1 {
			b.WriteString("---\n\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func speaker(r domain.Role) string {
	switch r {
	case domain.RoleAssistant:
		return "Tutor"
	case domain.RoleUser:
		return "Learner"
	default:
		return "System"
	}
}

// escapeMarkdown escapes emphasis markers outside code blocks
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	inCodeBlock := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "```"):
			inCodeBlock = !inCodeBlock
			result = append(result, line)
		case inCodeBlock:
			result = append(result, line)
		default:
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
