package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/export"
	"github.com/ashureev/tutorlive/internal/store"
	"github.com/spf13/cobra"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List, render and sweep recorded sessions",
	}
	cmd.AddCommand(newSessionsListCmd(root), newSessionsShowCmd(root), newSessionsSweepCmd(root))
	return cmd
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	var (
		learnerID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			records, err := repo.ListSessions(cmd.Context(), learnerID, limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			displaySessions(cmd.OutOrStdout(), records, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&learnerID, "learner", "", "Only show sessions for this learner")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show")
	return cmd
}

func displaySessions(out io.Writer, records []*domain.SessionRecord, now time.Time) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(records))))
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join([]string{
		titleStyle.Render("ID"),
		titleStyle.Render("Learner"),
		titleStyle.Render("Status"),
		titleStyle.Render("Topic"),
		titleStyle.Render("Phase"),
		titleStyle.Render("Duration"),
		titleStyle.Render("Created"),
	}, "\t")+"\t")

	for _, r := range records {
		topic := r.SelectedTopic
		if topic == "" {
			topic = "-"
		}
		if len(topic) > 40 {
			topic = topic[:37] + "..."
		}
		phase := string(r.FinalPhase)
		if phase == "" {
			phase = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(r.SessionID),
			r.LearnerID,
			statusStyle(string(r.Status)).Render(string(r.Status)),
			topic,
			phase,
			countStyle.Render(formatDuration(r.DurationSeconds)),
			dateStyle.Render(formatWhen(r.CreatedAt, now)),
		)
	}
	_ = w.Flush()
}

func newSessionsShowCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Render a session artifact",
		Long: `Render the artifact of a completed session.

Supported formats: md (default), yaml, json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.NewExporter(format)
			if err != nil {
				return err
			}

			repo, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			artifact, err := repo.GetArtifact(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no artifact for session %s (it may still be live or was abandoned)", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to load artifact: %w", err)
			}

			if output == "" {
				return exporter.Export(artifact, cmd.OutOrStdout())
			}
			return writeArtifactFile(exporter, artifact, output, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "md", "Output format (md, yaml, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file or directory instead of stdout")
	return cmd
}

// writeArtifactFile writes to path, or to <path>/<session>.<ext> when path is a directory.
func writeArtifactFile(exporter export.Exporter, artifact *domain.SessionArtifact, path string, status io.Writer) error {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, artifact.SessionID+"."+exporter.Extension())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := exporter.Export(artifact, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export session: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	_, _ = fmt.Fprintln(status, labelStyle.Render("Exported")+" "+path)
	return nil
}

func newSessionsSweepCmd(root *rootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark sessions that never completed as abandoned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			repo, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			n, err := repo.MarkAbandonedSessions(cmd.Context(), ttl)
			if err != nil {
				return fmt.Errorf("failed to sweep sessions: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d session(s) older than %s\n",
				labelStyle.Render("Abandoned"), n, ttl)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 2*time.Hour, "Age after which an unfinished session is abandoned")
	return cmd
}
