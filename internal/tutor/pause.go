package tutor

import (
	"time"

	"github.com/ashureev/tutorlive/internal/convlog"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

func (o *Orchestrator) pause() error {
	if o.conn == nil {
		o.logger.Warn("Pause ignored, control channel not open", "status", string(o.state.Status))
		return ErrNotConnected
	}
	switch o.state.Status {
	case domain.StatusPaused:
		return nil
	case domain.StatusConnected:
	default:
		o.logger.Warn("Pause ignored, session not live", "status", string(o.state.Status))
		return ErrNotConnected
	}

	o.conn.SetCaptureEnabled(false)
	_ = o.send(realtime.ResponseCancel{})
	_ = o.send(realtime.OutputAudioBufferClear{})
	_ = o.send(realtime.InputAudioBufferClear{})
	o.conn.PausePlayback()

	stopTimer(&o.resumeTimer)
	o.resumeToken++
	o.assistantOpen = false
	o.frozen = o.clock.Now().Sub(o.startTime)
	o.prePauseStatus = o.state.Status
	o.update(func(s *domain.SessionState) {
		s.Status = domain.StatusPaused
		if secs := int(o.frozen / time.Second); secs > s.ElapsedSeconds {
			s.ElapsedSeconds = secs
		}
	})

	o.logger.Info("Session paused", "learner_id", o.state.LearnerID, "elapsed_seconds", o.state.ElapsedSeconds)
	o.logConversation(convlog.Internal, "paused", "", nil)
	o.publish(UpdateStatus, nil)
	return nil
}

func (o *Orchestrator) resume() error {
	if o.state.Status != domain.StatusPaused {
		return ErrNotPaused
	}
	if o.conn == nil {
		o.logger.Warn("Resume ignored, control channel not open")
		return ErrNotConnected
	}

	o.conn.SetCaptureEnabled(true)
	o.conn.ResumePlayback()

	msg := ResumeMessageFor(o.state.Activity)
	_ = o.send(realtime.UserMessage(msg.Context))

	o.startTime = o.clock.Now().Add(-o.frozen)
	o.update(func(s *domain.SessionState) { s.Status = domain.StatusConnected })

	o.resumeToken++
	token := o.resumeToken
	o.resumeTimer = o.clock.AfterFunc(o.cfg.ResumeDelay, func() {
		o.post(resumeFire{token: token, instruction: msg.Instruction})
	})

	o.logger.Info("Session resumed",
		"learner_id", o.state.LearnerID,
		"activity", string(o.state.Activity),
		"previous_status", string(o.prePauseStatus),
	)
	o.logConversation(convlog.Internal, "resumed", msg.Context, nil)
	o.publish(UpdateStatus, nil)
	return nil
}

// handleResumeFire asks the engine to speak again after a resume, unless the
// session was paused again or torn down in the meantime.
func (o *Orchestrator) handleResumeFire(m resumeFire) {
	if m.token != o.resumeToken || o.state.Status != domain.StatusConnected || o.conn == nil {
		return
	}
	o.resumeTimer = nil
	_ = o.send(realtime.ResponseCreate{Response: &realtime.ResponseOptions{Instructions: m.instruction}})
}
