// Package realtime defines the control-channel vocabulary spoken with the
// remote conversational engine: typed server events, client events, and the
// codec between them and raw frames.
package realtime

// Server event type tags.
const (
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeResponseCreated             = "response.created"
	TypeResponseDone                = "response.done"
	TypeTranscriptDelta             = "response.audio_transcript.delta"
	TypeTranscriptDone              = "response.audio_transcript.done"
	TypeOutputTranscriptDelta       = "response.output_audio_transcript.delta"
	TypeOutputTranscriptDone        = "response.output_audio_transcript.done"
	TypeItemCreated                 = "conversation.item.created"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	TypeAudioDelta                  = "response.audio.delta"
	TypeOutputAudioDelta            = "response.output_audio.delta"
	TypeError                       = "error"
)

// Event is a decoded server event. The set of implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

// SessionCreated acknowledges a new engine session.
type SessionCreated struct {
	SessionID string
	Model     string
}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct {
	SessionID string
}

// ResponseCreated marks the start of a model turn.
type ResponseCreated struct {
	ResponseID string
}

// FunctionCall is one model-initiated tool call embedded in a completed turn.
type FunctionCall struct {
	Name      string
	CallID    string
	Arguments string
}

// ResponseDone marks a completed model turn and carries its tool calls in order.
// Calls that cannot be acknowledged are left out and described in Skipped.
type ResponseDone struct {
	ResponseID    string
	Status        string
	FunctionCalls []FunctionCall
	Skipped       []*DecodeError
}

// TranscriptDelta is a streamed fragment of the assistant transcript.
type TranscriptDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

// TranscriptDone closes the assistant transcript of one item.
type TranscriptDone struct {
	ResponseID string
	ItemID     string
	Transcript string
}

// InputTranscriptionCompleted carries the finalized transcript of a user turn.
type InputTranscriptionCompleted struct {
	ItemID     string
	Transcript string
}

// ItemCreated reports a conversation item committed by the engine.
type ItemCreated struct {
	ItemID string
	Role   string
	Kind   string
}

// SpeechStarted marks the learner starting to speak.
type SpeechStarted struct {
	ItemID string
}

// SpeechStopped marks the learner going quiet.
type SpeechStopped struct {
	ItemID string
}

// AudioDelta carries engine audio when audio shares the control channel.
type AudioDelta struct {
	ResponseID string
	Audio      []byte
}

// ErrorEvent is an error reported by the engine.
type ErrorEvent struct {
	EventID string
	Kind    string
	Code    string
	Message string
	Param   string
}

// UnknownEvent is a well-formed frame with an unrecognized type tag.
type UnknownEvent struct {
	Type string
	Raw  []byte
}

// MalformedEvent is a frame that failed validation at the decode boundary.
type MalformedEvent struct {
	Type string
	Raw  []byte
	Err  *DecodeError
}

func (SessionCreated) EventType() string              { return TypeSessionCreated }
func (SessionUpdated) EventType() string              { return TypeSessionUpdated }
func (ResponseCreated) EventType() string             { return TypeResponseCreated }
func (ResponseDone) EventType() string                { return TypeResponseDone }
func (TranscriptDelta) EventType() string             { return TypeTranscriptDelta }
func (TranscriptDone) EventType() string              { return TypeTranscriptDone }
func (InputTranscriptionCompleted) EventType() string { return TypeInputTranscriptionCompleted }
func (ItemCreated) EventType() string                 { return TypeItemCreated }
func (SpeechStarted) EventType() string               { return TypeSpeechStarted }
func (SpeechStopped) EventType() string               { return TypeSpeechStopped }
func (AudioDelta) EventType() string                  { return TypeAudioDelta }
func (ErrorEvent) EventType() string                  { return TypeError }
func (e UnknownEvent) EventType() string              { return e.Type }
func (e MalformedEvent) EventType() string            { return e.Type }

func (SessionCreated) isEvent()              {}
func (SessionUpdated) isEvent()              {}
func (ResponseCreated) isEvent()             {}
func (ResponseDone) isEvent()                {}
func (TranscriptDelta) isEvent()             {}
func (TranscriptDone) isEvent()              {}
func (InputTranscriptionCompleted) isEvent() {}
func (ItemCreated) isEvent()                 {}
func (SpeechStarted) isEvent()               {}
func (SpeechStopped) isEvent()               {}
func (AudioDelta) isEvent()                  {}
func (ErrorEvent) isEvent()                  {}
func (UnknownEvent) isEvent()                {}
func (MalformedEvent) isEvent()              {}

func (e ErrorEvent) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
