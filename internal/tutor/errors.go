package tutor

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned by Start while a session is already running.
	ErrSessionActive = errors.New("tutor: session already active")
	// ErrNotConnected is returned when an operation needs an open control channel.
	ErrNotConnected = errors.New("tutor: control channel not open")
	// ErrNotPaused is returned by Resume when the session is not paused.
	ErrNotPaused = errors.New("tutor: session not paused")
	// ErrRestartUnavailable is returned by Restart outside the early-session window.
	ErrRestartUnavailable = errors.New("tutor: restart no longer available")
	// ErrClosed is returned after the orchestrator has shut down.
	ErrClosed = errors.New("tutor: orchestrator closed")
	// ErrUnknownTool marks a tool call whose name is not in the vocabulary.
	ErrUnknownTool = errors.New("tutor: unknown tool")
)

// Connection stages.
const (
	StageCredential = "credential"
	StageSignaling  = "signaling"
	StageMedia      = "media"
	StageChannel    = "control_channel"
)

// ConnectionError is a failure to bring a session online. The learner may
// retry; nothing retries automatically.
type ConnectionError struct {
	Stage string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect (%s): %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolArgumentError is a tool call with a missing or invalid argument.
type ToolArgumentError struct {
	Tool  ToolName
	Field string
	Err   error
}

func (e *ToolArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s: invalid %s: %v", e.Tool, e.Field, e.Err)
	}
	return fmt.Sprintf("tool %s: missing %s", e.Tool, e.Field)
}

func (e *ToolArgumentError) Unwrap() error { return e.Err }
