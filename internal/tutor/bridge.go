package tutor

import (
	"context"
	"errors"
	"slices"

	"github.com/ashureev/tutorlive/internal/convlog"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

// Tool call acknowledgements.
const (
	toolOK      = `{"success":true}`
	toolUnknown = `{"success":false,"error":"unknown tool"}`
)

// dispatchToolCall applies one model tool call, acknowledges it, and asks the
// engine to continue unless the session is paused.
func (o *Orchestrator) dispatchToolCall(fc realtime.FunctionCall) {
	output := toolOK
	call, err := ParseToolCall(fc)
	switch {
	case errors.Is(err, ErrUnknownTool):
		o.logger.Warn("[TOOL] unknown tool", "learner_id", o.state.LearnerID, "tool", fc.Name, "call_id", fc.CallID)
		output = toolUnknown
	case err != nil:
		o.logger.Warn("[TOOL] invalid arguments, ignoring call",
			"learner_id", o.state.LearnerID, "tool", fc.Name, "call_id", fc.CallID, "error", err)
	default:
		o.applyToolCall(call)
	}
	o.logConversation(convlog.Inbound, "tool_call", fc.Arguments, map[string]any{
		"tool":    fc.Name,
		"call_id": fc.CallID,
	})

	if err := o.send(realtime.FunctionCallOutput(fc.CallID, output)); err != nil {
		return
	}
	if o.state.Status == domain.StatusPaused {
		o.logger.Debug("[TOOL] paused, withholding continuation", "tool", fc.Name)
		return
	}
	_ = o.send(realtime.ResponseCreate{})
}

// applyToolCall mutates session state for call. It reports false for a call
// type it does not know.
func (o *Orchestrator) applyToolCall(call ToolCall) bool {
	now := o.clock.Now()
	switch c := call.(type) {
	case TransitionPhaseCall:
		o.update(func(s *domain.SessionState) {
			s.Phase = c.Phase
			switch {
			case c.Phase == domain.PhaseReflection:
				s.Activity = domain.ActivityReflecting
			case c.Phase != domain.PhaseWarmEntry:
				s.Activity = domain.ActivityDiscussing
			}
		})
		o.logger.Info("[TOOL] phase transition", "learner_id", o.state.LearnerID, "phase", string(c.Phase))
		o.publish(UpdatePhase, nil)

	case LogSkillObservationCall:
		o.update(func(s *domain.SessionState) {
			s.SkillObservations = append(s.SkillObservations, domain.SkillObservation{
				Skill:          c.Skill,
				Observation:    c.Observation,
				Evidence:       c.Evidence,
				Classification: c.Classification,
				Timestamp:      now,
			})
		})
		o.publish(UpdateRecord, func(u *Update) { u.Record = string(ToolLogSkillObservation) })

	case CreateOpenLoopCall:
		o.update(func(s *domain.SessionState) {
			s.OpenLoops = append(s.OpenLoops, domain.OpenLoop{
				Question:  c.Question,
				Context:   c.Context,
				Timestamp: now,
			})
		})
		o.publish(UpdateRecord, func(u *Update) { u.Record = string(ToolCreateOpenLoop) })

	case DisplayVisualCall:
		v := domain.SessionVisual{Type: c.Type, Title: c.Title, Content: c.Content, Timestamp: now}
		o.update(func(s *domain.SessionState) { s.Visuals = append(s.Visuals, v) })
		o.publish(UpdateVisual, func(u *Update) { u.Visual = &v })

	case UpdateLessonPlanCall:
		o.update(func(s *domain.SessionState) {
			s.LessonPlanModifications = append(s.LessonPlanModifications, domain.LessonPlanModification{
				Modification: c.Modification,
				Reason:       c.Reason,
				Timestamp:    now,
			})
		})
		o.publish(UpdateRecord, func(u *Update) { u.Record = string(ToolUpdateLessonPlan) })

	case FlagMisconceptionCall:
		o.update(func(s *domain.SessionState) {
			s.Misconceptions = append(s.Misconceptions, domain.SessionMisconception{
				Misconception: c.Misconception,
				Correction:    c.Correction,
				Addressed:     c.Addressed,
				Timestamp:     now,
			})
		})
		o.publish(UpdateRecord, func(u *Update) { u.Record = string(ToolFlagMisconception) })

	case PresentTopicOptionCall:
		o.presentTopic(c)

	case ConfirmTopicSelectionCall:
		o.confirmTopic(c.OptionNumber)

	case SelectTopicCall:
		o.update(func(s *domain.SessionState) {
			s.Activity = domain.ActivityDiscussing
			s.SelectedTopic = c.Topic
		})
		o.logger.Info("[TOOL] topic selected", "learner_id", o.state.LearnerID, "topic", c.Topic)
		o.publish(UpdateActivity, nil)
		o.requestLessonPlan(c)

	default:
		return false
	}
	return true
}

func (o *Orchestrator) presentTopic(c PresentTopicOptionCall) {
	o.update(func(s *domain.SessionState) {
		if i := slices.IndexFunc(s.PresentedTopics, func(t domain.PresentedTopic) bool {
			return t.OptionNumber == c.OptionNumber
		}); i >= 0 {
			s.PresentedTopics[i].Title = c.Title
			s.PresentedTopics[i].Description = c.Description
		} else {
			s.PresentedTopics = append(s.PresentedTopics, domain.PresentedTopic{
				OptionNumber: c.OptionNumber,
				Title:        c.Title,
				Description:  c.Description,
			})
			slices.SortFunc(s.PresentedTopics, func(a, b domain.PresentedTopic) int {
				return a.OptionNumber - b.OptionNumber
			})
		}
		if c.OptionNumber == MaxTopicOptions {
			s.Activity = domain.ActivityAwaitingSelection
		} else {
			s.Activity = domain.ActivityOfferingTopics
		}
	})
	o.publishTopics()
}

func (o *Orchestrator) confirmTopic(n int) {
	if _, ok := o.state.PresentedTopicByNumber(n); !ok {
		o.logger.Warn("[TOOL] confirmation for a topic that was never presented",
			"learner_id", o.state.LearnerID, "option_number", n)
		return
	}
	o.update(func(s *domain.SessionState) {
		for i := range s.PresentedTopics {
			s.PresentedTopics[i].IsSelected = s.PresentedTopics[i].OptionNumber == n
		}
	})
	o.publishTopics()

	stopTimer(&o.dismissTimer)
	o.dismissToken++
	token := o.dismissToken
	o.dismissTimer = o.clock.AfterFunc(o.cfg.TopicSelectionDisplay, func() {
		o.post(dismissTopics{token: token})
	})
}

func (o *Orchestrator) handleDismiss(m dismissTopics) {
	if m.token != o.dismissToken {
		return
	}
	o.dismissTimer = nil
	if len(o.state.PresentedTopics) == 0 {
		return
	}
	o.update(func(s *domain.SessionState) { s.PresentedTopics = nil })
	o.publishTopics()
}

func (o *Orchestrator) publishTopics() {
	topics := slices.Clone(o.state.PresentedTopics)
	o.publish(UpdateTopics, func(u *Update) { u.Topics = topics })
}

// requestLessonPlan asks the planner for a plan in the background. The
// result comes back through the loop and is dropped if the session has moved
// on by then.
func (o *Orchestrator) requestLessonPlan(c SelectTopicCall) {
	if o.planner == nil {
		o.injectLessonPlan(c.Topic, nil)
		return
	}
	o.planRequests++
	gen := o.gen
	req := domain.LessonPlanRequest{
		LearnerID:      o.state.LearnerID,
		Topic:          c.Topic,
		PriorKnowledge: c.PriorKnowledge,
		Profile:        o.profile,
	}
	ctx, cancel := context.WithTimeout(o.sessionContext(), o.cfg.LessonPlanTimeout)
	go func() {
		defer cancel()
		plan, err := o.planner.GeneratePlan(ctx, req)
		o.post(planResult{gen: gen, topic: req.Topic, plan: plan, err: err})
	}()
}

func (o *Orchestrator) handlePlan(m planResult) {
	if m.gen != o.gen || o.conn == nil {
		o.logger.Debug("[PLAN] dropping lesson plan for a finished session", "topic", m.topic)
		return
	}
	if m.err != nil {
		o.logger.Warn("[PLAN] lesson plan generation failed",
			"learner_id", o.state.LearnerID, "topic", m.topic, "error", m.err)
		return
	}
	o.injectLessonPlan(m.topic, m.plan)
}

// injectLessonPlan extends the live instructions with the plan. It runs even
// while paused so the plan is in place on resume.
func (o *Orchestrator) injectLessonPlan(topic string, plan *domain.LessonPlan) {
	instructions := o.baseInstructions + "\n\n" + RenderLessonPlan(topic, plan)
	if err := o.send(realtime.SessionUpdate{Session: realtime.SessionConfig{Instructions: instructions}}); err != nil {
		return
	}
	o.logger.Info("[PLAN] lesson plan injected",
		"learner_id", o.state.LearnerID, "topic", topic, "fallback", plan == nil)
	o.logConversation(convlog.Outbound, "lesson_plan", topic, map[string]any{"fallback": plan == nil})
}
