package store

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 5 * time.Minute

// Sweeper is the subset of Repository the abandoned-session worker needs.
type Sweeper interface {
	MarkAbandonedSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// SweepCallback is called with the number of sessions flagged in one sweep.
type SweepCallback func(flagged int64)

// StartSweeper runs a background goroutine that periodically marks sessions
// that were created but never completed within ttl as abandoned.
func StartSweeper(ctx context.Context, repo Sweeper, ttl time.Duration, onSweep SweepCallback) {
	startSweeper(ctx, repo, ttl, sweepInterval, onSweep)
}

func startSweeper(ctx context.Context, repo Sweeper, ttl, interval time.Duration, onSweep SweepCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepAbandoned(ctx, repo, ttl, onSweep)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepAbandoned(ctx context.Context, repo Sweeper, ttl time.Duration, onSweep SweepCallback) {
	flagged, err := repo.MarkAbandonedSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session sweeper: context canceled during sweep", "error", err)
			return
		}
		slog.Error("Session sweeper failed to mark abandoned sessions", "error", err)
		return
	}
	if flagged == 0 {
		return
	}
	slog.Info("Session sweeper marked abandoned sessions", "count", flagged)
	if onSweep != nil {
		onSweep(flagged)
	}
}
