package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ashureev/tutorlive/internal/store"
	"github.com/spf13/cobra"
)

const defaultDBPath = "./data/tutor.db"

type rootOptions struct {
	dbPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tutorctl",
		Short: "Inspect persisted tutoring sessions",
		Long: `Inspect the sessions, artifacts and learner profiles recorded by the
tutoring server.

Quick Start:
  tutorctl sessions list                      # Newest sessions first
  tutorctl sessions show <session-id>         # Render one artifact as Markdown
  tutorctl sessions show <id> --format yaml   # Or as YAML / JSON
  tutorctl learners show <learner-id>         # Learner profile`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", defaultDBPath), "Path to the session database")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newSessionsCmd(opts), newLearnersCmd(opts))
	return cmd
}

// open connects to the database named by --db.
func (o *rootOptions) open(ctx context.Context) (*store.SQLiteStore, error) {
	if _, err := os.Stat(o.dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", o.dbPath, err)
	}
	repo, err := store.NewSQLite(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	return repo, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
