package tutor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

// ToolName is the name of a model-initiated tool call.
type ToolName string

const (
	ToolTransitionPhase       ToolName = "transition_phase"
	ToolLogSkillObservation   ToolName = "log_skill_observation"
	ToolCreateOpenLoop        ToolName = "create_open_loop"
	ToolDisplayVisual         ToolName = "display_visual"
	ToolUpdateLessonPlan      ToolName = "update_lesson_plan"
	ToolFlagMisconception     ToolName = "flag_misconception"
	ToolPresentTopicOption    ToolName = "present_topic_option"
	ToolConfirmTopicSelection ToolName = "confirm_topic_selection"
	ToolSelectTopic           ToolName = "select_topic"
)

// AllToolNames is the closed tool vocabulary.
var AllToolNames = []ToolName{
	ToolTransitionPhase,
	ToolLogSkillObservation,
	ToolCreateOpenLoop,
	ToolDisplayVisual,
	ToolUpdateLessonPlan,
	ToolFlagMisconception,
	ToolPresentTopicOption,
	ToolConfirmTopicSelection,
	ToolSelectTopic,
}

// MaxTopicOptions is the number of topic options offered at once.
const MaxTopicOptions = 3

// ToolCall is a parsed tool call. The set of implementations is closed.
type ToolCall interface {
	Tool() ToolName
	isToolCall()
}

// TransitionPhaseCall moves the session to a declared phase.
type TransitionPhaseCall struct {
	Phase domain.Phase
}

// LogSkillObservationCall records evidence of a reasoning skill.
type LogSkillObservationCall struct {
	Skill          domain.Skill
	Observation    string
	Evidence       string
	Classification domain.Classification
}

// CreateOpenLoopCall parks a question to revisit in a later session.
type CreateOpenLoopCall struct {
	Question string
	Context  string
}

// DisplayVisualCall shows a visual aid to the learner.
type DisplayVisualCall struct {
	Type    string
	Title   string
	Content string
}

// UpdateLessonPlanCall notes a deviation from the lesson plan.
type UpdateLessonPlanCall struct {
	Modification string
	Reason       string
}

// FlagMisconceptionCall records a misconception and whether it was addressed.
type FlagMisconceptionCall struct {
	Misconception string
	Correction    string
	Addressed     bool
}

// PresentTopicOptionCall offers one of up to three numbered topics.
type PresentTopicOptionCall struct {
	OptionNumber int
	Title        string
	Description  string
}

// ConfirmTopicSelectionCall highlights the option the learner picked.
type ConfirmTopicSelectionCall struct {
	OptionNumber int
}

// SelectTopicCall commits to a topic and requests a lesson plan.
type SelectTopicCall struct {
	Topic          string
	PriorKnowledge string
}

func (TransitionPhaseCall) Tool() ToolName       { return ToolTransitionPhase }
func (LogSkillObservationCall) Tool() ToolName   { return ToolLogSkillObservation }
func (CreateOpenLoopCall) Tool() ToolName        { return ToolCreateOpenLoop }
func (DisplayVisualCall) Tool() ToolName         { return ToolDisplayVisual }
func (UpdateLessonPlanCall) Tool() ToolName      { return ToolUpdateLessonPlan }
func (FlagMisconceptionCall) Tool() ToolName     { return ToolFlagMisconception }
func (PresentTopicOptionCall) Tool() ToolName    { return ToolPresentTopicOption }
func (ConfirmTopicSelectionCall) Tool() ToolName { return ToolConfirmTopicSelection }
func (SelectTopicCall) Tool() ToolName           { return ToolSelectTopic }

func (TransitionPhaseCall) isToolCall()       {}
func (LogSkillObservationCall) isToolCall()   {}
func (CreateOpenLoopCall) isToolCall()        {}
func (DisplayVisualCall) isToolCall()         {}
func (UpdateLessonPlanCall) isToolCall()      {}
func (FlagMisconceptionCall) isToolCall()     {}
func (PresentTopicOptionCall) isToolCall()    {}
func (ConfirmTopicSelectionCall) isToolCall() {}
func (SelectTopicCall) isToolCall()           {}

// flexString accepts a JSON string, number, or boolean and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = ""
	case float64, bool:
		*f = flexString(fmt.Sprint(x))
	default:
		return fmt.Errorf("unsupported value %s", data)
	}
	return nil
}

type toolArgs struct {
	Phase              string     `json:"phase"`
	Skill              string     `json:"skill"`
	Observation        string     `json:"observation"`
	Evidence           string     `json:"evidence"`
	StrengthOrStruggle string     `json:"strength_or_struggle"`
	Question           string     `json:"question"`
	Context            string     `json:"context"`
	Type               string     `json:"type"`
	Title              string     `json:"title"`
	Content            string     `json:"content"`
	Modification       string     `json:"modification"`
	Reason             string     `json:"reason"`
	Misconception      string     `json:"misconception"`
	Correction         string     `json:"correction"`
	Addressed          flexString `json:"addressed"`
	OptionNumber       flexString `json:"option_number"`
	Description        string     `json:"description"`
	Topic              string     `json:"topic"`
	PriorKnowledge     string     `json:"prior_knowledge"`
}

// ParseToolCall validates a raw function call into its typed form. Unknown
// names return ErrUnknownTool; bad arguments return *ToolArgumentError.
func ParseToolCall(fc realtime.FunctionCall) (ToolCall, error) {
	name := ToolName(strings.TrimSpace(fc.Name))
	if !knownTool(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, fc.Name)
	}

	var args toolArgs
	raw := strings.TrimSpace(fc.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ToolArgumentError{Tool: name, Field: "arguments", Err: err}
	}

	missing := func(field string) error { return &ToolArgumentError{Tool: name, Field: field} }

	switch name {
	case ToolTransitionPhase:
		phase, ok := domain.ParsePhase(strings.TrimSpace(args.Phase))
		if !ok {
			return nil, &ToolArgumentError{Tool: name, Field: "phase", Err: fmt.Errorf("unknown phase %q", args.Phase)}
		}
		return TransitionPhaseCall{Phase: phase}, nil
	case ToolLogSkillObservation:
		skill, ok := domain.ParseSkill(strings.TrimSpace(args.Skill))
		if !ok {
			return nil, &ToolArgumentError{Tool: name, Field: "skill", Err: fmt.Errorf("unknown skill %q", args.Skill)}
		}
		if strings.TrimSpace(args.Observation) == "" {
			return nil, missing("observation")
		}
		return LogSkillObservationCall{
			Skill:          skill,
			Observation:    args.Observation,
			Evidence:       args.Evidence,
			Classification: domain.ParseClassification(strings.ToLower(strings.TrimSpace(args.StrengthOrStruggle))),
		}, nil
	case ToolCreateOpenLoop:
		if strings.TrimSpace(args.Question) == "" {
			return nil, missing("question")
		}
		return CreateOpenLoopCall{Question: args.Question, Context: args.Context}, nil
	case ToolDisplayVisual:
		if strings.TrimSpace(args.Content) == "" {
			return nil, missing("content")
		}
		typ := strings.TrimSpace(args.Type)
		if typ == "" {
			return nil, missing("type")
		}
		return DisplayVisualCall{Type: typ, Title: args.Title, Content: args.Content}, nil
	case ToolUpdateLessonPlan:
		if strings.TrimSpace(args.Modification) == "" {
			return nil, missing("modification")
		}
		return UpdateLessonPlanCall{Modification: args.Modification, Reason: args.Reason}, nil
	case ToolFlagMisconception:
		if strings.TrimSpace(args.Misconception) == "" {
			return nil, missing("misconception")
		}
		return FlagMisconceptionCall{
			Misconception: args.Misconception,
			Correction:    args.Correction,
			Addressed:     parseBoolish(string(args.Addressed)),
		}, nil
	case ToolPresentTopicOption:
		n, err := parseOptionNumber(args.OptionNumber)
		if err != nil {
			return nil, &ToolArgumentError{Tool: name, Field: "option_number", Err: err}
		}
		if strings.TrimSpace(args.Title) == "" {
			return nil, missing("title")
		}
		return PresentTopicOptionCall{OptionNumber: n, Title: args.Title, Description: args.Description}, nil
	case ToolConfirmTopicSelection:
		n, err := parseOptionNumber(args.OptionNumber)
		if err != nil {
			return nil, &ToolArgumentError{Tool: name, Field: "option_number", Err: err}
		}
		return ConfirmTopicSelectionCall{OptionNumber: n}, nil
	case ToolSelectTopic:
		if strings.TrimSpace(args.Topic) == "" {
			return nil, missing("topic")
		}
		return SelectTopicCall{Topic: strings.TrimSpace(args.Topic), PriorKnowledge: args.PriorKnowledge}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, fc.Name)
}

func knownTool(name ToolName) bool {
	for _, n := range AllToolNames {
		if n == name {
			return true
		}
	}
	return false
}

var errOptionRange = errors.New("must be 1, 2 or 3")

func parseOptionNumber(v flexString) (int, error) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return 0, errors.New("required")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	n := int(f)
	if float64(n) != f || n < 1 || n > MaxTopicOptions {
		return 0, errOptionRange
	}
	return n, nil
}

func parseBoolish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}
