package tutor

import (
	"fmt"
	"strings"

	"github.com/ashureev/tutorlive/internal/convlog"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

// Engine error codes that are expected side effects rather than failures.
const (
	codeCancelNotActive      = "response_cancel_not_active"
	codeActiveResponseExists = "conversation_already_has_active_response"
)

func (o *Orchestrator) handleEvent(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.SessionCreated:
		o.configureSession(e)
	case realtime.SessionUpdated:
		o.logger.Debug("[ENGINE] session updated", "learner_id", o.state.LearnerID)
	case realtime.ResponseCreated:
		o.logger.Debug("[ENGINE] response created", "response_id", e.ResponseID)
	case realtime.ResponseDone:
		o.assistantOpen = false
		for _, skipped := range e.Skipped {
			o.logger.Warn("[TOOL] tool call without call id dropped", "learner_id", o.state.LearnerID,
				"response_id", e.ResponseID, "error", skipped)
		}
		for _, fc := range e.FunctionCalls {
			o.dispatchToolCall(fc)
		}
	case realtime.TranscriptDelta:
		o.appendAssistantDelta(e.ItemID, e.Delta)
	case realtime.TranscriptDone:
		o.finishAssistant(e.ItemID, e.Transcript)
	case realtime.InputTranscriptionCompleted:
		o.appendUser(e.Transcript)
	case realtime.ItemCreated:
		if e.Role == string(domain.RoleUser) {
			o.assistantOpen = false
		}
	case realtime.SpeechStarted:
		o.assistantOpen = false
	case realtime.SpeechStopped, realtime.AudioDelta:
	case realtime.ErrorEvent:
		o.handleEngineError(e)
	case realtime.UnknownEvent:
		o.logger.Debug("[ENGINE] ignoring unknown event", "type", e.Type)
	case realtime.MalformedEvent:
		o.logger.Warn("[ENGINE] malformed event", "type", e.Type, "error", e.Err)
	default:
		o.logger.Debug("[ENGINE] unhandled event", "type", typeName(ev))
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

// configureSession sends the session configuration and the greeting prompt
// once per connection.
func (o *Orchestrator) configureSession(e realtime.SessionCreated) {
	if o.configured {
		o.logger.Debug("[ENGINE] duplicate session.created ignored", "session", e.SessionID)
		return
	}
	o.configured = true
	update := realtime.SessionUpdate{Session: realtime.SessionConfig{
		Instructions:            o.baseInstructions,
		Voice:                   o.voice,
		Modalities:              []string{"audio", "text"},
		Tools:                   ToolDefinitions(),
		ToolChoice:              "auto",
		InputAudioTranscription: &realtime.TranscriptionConfig{Model: o.cfg.TranscriptionModel},
		TurnDetection:           &realtime.TurnDetection{Type: "server_vad"},
	}}
	if err := o.send(update); err != nil {
		return
	}
	o.logConversation(convlog.Outbound, "session_configured", "", map[string]any{"model": e.Model})
	_ = o.send(realtime.ResponseCreate{})
}

// appendAssistantDelta extends the entry already holding the delta's item,
// else the open assistant entry, else opens a new one.
func (o *Orchestrator) appendAssistantDelta(itemID, delta string) {
	if delta == "" {
		return
	}
	now := o.clock.Now()
	var idx int
	o.update(func(s *domain.SessionState) {
		if i, ok := o.assistantEntry(s, itemID); ok {
			s.Transcript[i].Text += delta
			idx = i
			return
		}
		n := len(s.Transcript)
		if o.assistantOpen && n > 0 && s.Transcript[n-1].Role == domain.RoleAssistant {
			s.Transcript[n-1].Text += delta
		} else {
			s.Transcript = append(s.Transcript, domain.TranscriptEntry{
				Role:      domain.RoleAssistant,
				Text:      delta,
				Timestamp: now,
			})
		}
		idx = len(s.Transcript) - 1
	})
	o.trackAssistantItem(itemID, idx)
	o.assistantOpen = idx == len(o.state.Transcript)-1
	o.publishTranscript(idx)
}

// finishAssistant settles the entry of the finished item on the final
// transcript. An item seen for the first time opens a new entry unless an
// item-less assistant entry is still open.
func (o *Orchestrator) finishAssistant(itemID, text string) {
	now := o.clock.Now()
	idx := -1
	o.update(func(s *domain.SessionState) {
		if i, ok := o.assistantEntry(s, itemID); ok {
			if text != "" {
				s.Transcript[i].Text = text
			}
			idx = i
			return
		}
		n := len(s.Transcript)
		if o.assistantOpen && n > 0 && s.Transcript[n-1].Role == domain.RoleAssistant {
			if text != "" {
				s.Transcript[n-1].Text = text
			}
			idx = n - 1
			return
		}
		if text != "" {
			s.Transcript = append(s.Transcript, domain.TranscriptEntry{
				Role:      domain.RoleAssistant,
				Text:      text,
				Timestamp: now,
			})
			idx = len(s.Transcript) - 1
		}
	})
	o.assistantOpen = false
	if idx < 0 {
		return
	}
	o.trackAssistantItem(itemID, idx)
	o.publishTranscript(idx)
	o.logConversation(convlog.Inbound, "assistant_transcript", o.state.Transcript[idx].Text, nil)
}

// assistantEntry returns the transcript index already holding itemID.
func (o *Orchestrator) assistantEntry(s *domain.SessionState, itemID string) (int, bool) {
	if itemID == "" {
		return 0, false
	}
	i, ok := o.assistantItems[itemID]
	if !ok || i >= len(s.Transcript) || s.Transcript[i].Role != domain.RoleAssistant {
		return 0, false
	}
	return i, true
}

func (o *Orchestrator) trackAssistantItem(itemID string, idx int) {
	if itemID == "" {
		return
	}
	if o.assistantItems == nil {
		o.assistantItems = make(map[string]int)
	}
	o.assistantItems[itemID] = idx
}

func (o *Orchestrator) appendUser(text string) {
	o.assistantOpen = false
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	now := o.clock.Now()
	var idx int
	o.update(func(s *domain.SessionState) {
		s.Transcript = append(s.Transcript, domain.TranscriptEntry{
			Role:      domain.RoleUser,
			Text:      text,
			Timestamp: now,
		})
		idx = len(s.Transcript) - 1
	})
	o.publishTranscript(idx)
	o.logConversation(convlog.Inbound, "user_transcript", text, nil)
}

func (o *Orchestrator) publishTranscript(idx int) {
	entry := o.state.Transcript[idx]
	o.publish(UpdateTranscript, func(u *Update) {
		u.TranscriptIndex = &idx
		u.Transcript = &entry
	})
}

func (o *Orchestrator) handleEngineError(e realtime.ErrorEvent) {
	if o.state.Status == domain.StatusPaused && isPauseSideEffect(e) {
		o.logger.Debug("[ENGINE] suppressed error caused by pause", "code", e.Code, "message", e.Message)
		return
	}
	if e.Code == codeActiveResponseExists {
		o.logger.Debug("[ENGINE] response already in progress", "message", e.Message)
		return
	}
	o.logger.Warn("[ENGINE] error event",
		"learner_id", o.state.LearnerID, "code", e.Code, "kind", e.Kind, "message", e.Message)
	msg := e.Error()
	o.update(func(s *domain.SessionState) { s.LastError = msg })
	o.logConversation(convlog.Inbound, "engine_error", e.Message, map[string]any{"code": e.Code})
	o.publish(UpdateError, func(u *Update) { u.Error = msg })
}

// isPauseSideEffect reports whether e is the engine complaining about a
// cancel or buffer clear with nothing to act on.
func isPauseSideEffect(e realtime.ErrorEvent) bool {
	if e.Code == codeCancelNotActive {
		return true
	}
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, "no active response") {
		return true
	}
	return strings.Contains(msg, "buffer") && (strings.Contains(msg, "empty") || strings.Contains(msg, "too small"))
}
