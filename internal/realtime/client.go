package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Client event type tags.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeOutputAudioBufferClear = "output_audio_buffer.clear"
	TypeInputAudioBufferClear  = "input_audio_buffer.clear"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
)

// ClientEvent is a frame sent to the engine.
type ClientEvent interface {
	ClientEventType() string
}

// ToolProperty describes one tool argument.
type ToolProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolParameters is the JSON schema object for a tool's arguments.
type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required,omitempty"`
}

// ToolDefinition declares a callable tool to the engine.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// TranscriptionConfig enables transcription of learner audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the session body of a session.update.
type SessionConfig struct {
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	Tools                   []ToolDefinition     `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
}

// SessionUpdate reconfigures the engine session.
type SessionUpdate struct {
	Session SessionConfig `json:"session"`
}

// ContentPart is one piece of message content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ConversationItem is a message or a function call output.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ConversationItemCreate appends an item to the engine conversation.
type ConversationItemCreate struct {
	Item ConversationItem `json:"item"`
}

// ResponseOptions overrides settings for a single response.
type ResponseOptions struct {
	Instructions string `json:"instructions,omitempty"`
}

// ResponseCreate asks the engine to produce a turn.
type ResponseCreate struct {
	Response *ResponseOptions `json:"response,omitempty"`
}

// ResponseCancel cancels the in-flight response, if any.
type ResponseCancel struct{}

// OutputAudioBufferClear drops engine audio not yet played.
type OutputAudioBufferClear struct{}

// InputAudioBufferClear drops uncommitted learner audio.
type InputAudioBufferClear struct{}

// InputAudioBufferAppend streams learner audio over the control channel.
type InputAudioBufferAppend struct {
	Audio string `json:"audio"`
}

func (SessionUpdate) ClientEventType() string          { return TypeSessionUpdate }
func (ConversationItemCreate) ClientEventType() string { return TypeConversationItemCreate }
func (ResponseCreate) ClientEventType() string         { return TypeResponseCreate }
func (ResponseCancel) ClientEventType() string         { return TypeResponseCancel }
func (OutputAudioBufferClear) ClientEventType() string { return TypeOutputAudioBufferClear }
func (InputAudioBufferClear) ClientEventType() string  { return TypeInputAudioBufferClear }
func (InputAudioBufferAppend) ClientEventType() string { return TypeInputAudioBufferAppend }

// UserMessage builds a learner-authored text item.
func UserMessage(text string) ConversationItemCreate {
	return message("user", text)
}

// SystemMessage builds a system-authored text item.
func SystemMessage(text string) ConversationItemCreate {
	return message("system", text)
}

func message(role, text string) ConversationItemCreate {
	return ConversationItemCreate{Item: ConversationItem{
		Type:    "message",
		Role:    role,
		Content: []ContentPart{{Type: "input_text", Text: text}},
	}}
}

// FunctionCallOutput acknowledges the tool call identified by callID.
func FunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{Item: ConversationItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}}
}

// AppendAudio wraps raw audio for input_audio_buffer.append.
func AppendAudio(audio []byte) InputAudioBufferAppend {
	return InputAudioBufferAppend{Audio: base64.StdEncoding.EncodeToString(audio)}
}

var errNilClientEvent = errors.New("realtime: nil client event")

// Encode serializes ev with its type tag as the first field.
func Encode(ev ClientEvent) ([]byte, error) {
	if ev == nil {
		return nil, errNilClientEvent
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", ev.ClientEventType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("realtime: encode %s: body is not an object", ev.ClientEventType())
	}
	tag, err := json.Marshal(ev.ClientEventType())
	if err != nil {
		return nil, fmt.Errorf("realtime: encode type tag: %w", err)
	}

	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
