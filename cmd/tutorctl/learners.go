package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newLearnersCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "learners",
		Aliases: []string{"learner"},
		Short:   "Inspect learner profiles",
	}
	cmd.AddCommand(newLearnersShowCmd(root))
	return cmd
}

func newLearnersShowCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <learner-id>",
		Short: "Show a learner profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			learner, err := repo.GetLearner(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load learner: %w", err)
			}
			if learner == nil {
				return fmt.Errorf("learner %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text", "":
				displayLearner(out, learner, time.Now())
				return nil
			case "yaml", "yml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(learner); err != nil {
					return fmt.Errorf("failed to encode learner: %w", err)
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(learner)
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, yaml, json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, yaml, json)")
	return cmd
}

func displayLearner(out io.Writer, l *domain.LearnerProfile, now time.Time) {
	_, _ = fmt.Fprintln(out, headerStyle.Render(l.DisplayName))
	_, _ = fmt.Fprintln(out)

	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label+":")), value)
	}
	field("ID", idStyle.Render(l.LearnerID))
	field("Grade", l.GradeLevel)
	field("Interests", strings.Join(l.Interests, ", "))
	field("Sessions", countStyle.Render(fmt.Sprintf("%d", l.SessionCount)))
	field("Last seen", dateStyle.Render(formatWhen(l.LastSeenAt, now)))

	if len(l.Topics) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, titleStyle.Render("Topics"))
		for _, t := range l.Topics {
			_, _ = fmt.Fprintf(out, "  - %s\n", t.Title)
		}
	}
	if len(l.OpenLoops) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, titleStyle.Render("Open loops"))
		for _, o := range l.OpenLoops {
			_, _ = fmt.Fprintf(out, "  - %s\n", o.Question)
		}
	}
}
