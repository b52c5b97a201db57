package tutor

import (
	"context"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

// tick advances the elapsed counter and enforces the session time limit.
func (o *Orchestrator) tick() {
	if o.state.Status != domain.StatusConnected {
		return
	}
	el := o.elapsed()
	if secs := int(el / time.Second); secs > o.state.ElapsedSeconds {
		o.update(func(s *domain.SessionState) { s.ElapsedSeconds = secs })
		o.publish(UpdateElapsed, nil)
	}
	if el < o.cfg.MaxDuration || o.autoEnded {
		return
	}
	o.autoEnded = true
	o.logger.Info("Session time limit reached", "learner_id", o.state.LearnerID, "elapsed_seconds", o.state.ElapsedSeconds)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SubmitTimeout)
	defer cancel()
	if _, err := o.end(ctx, domain.EndReasonTimeLimit); err != nil {
		o.logger.Warn("Failed to end session at time limit", "error", err)
	}
}

// broadcastTime tells the model how much time is left.
func (o *Orchestrator) broadcastTime() {
	if o.state.Status != domain.StatusConnected || o.conn == nil {
		return
	}
	_ = o.send(realtime.SystemMessage(TimeMessage(o.cfg, o.elapsed())))
}
