// Package transport connects a tutoring session to the remote conversational
// engine: one media path for learner and tutor audio, and one ordered,
// reliable control channel carrying realtime events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/tutorlive/internal/audio"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
)

// ErrClosed is returned by Send after the connection is torn down.
var ErrClosed = errors.New("transport: connection closed")

// Stage names the step of connection setup that failed.
type Stage string

const (
	StageMedia     Stage = "media"
	StageSignaling Stage = "signaling"
	StageChannel   Stage = "control_channel"
)

// Error is a connection setup failure.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &Error{Stage: stage, Err: err}
}

// Connection is one live duplex channel to the engine.
type Connection interface {
	// Events yields decoded control-channel events in arrival order. The
	// channel is closed once the connection is torn down.
	Events() <-chan realtime.Event
	Send(ctx context.Context, ev realtime.ClientEvent) error
	// SetCaptureEnabled mutes or unmutes learner audio without stopping capture.
	SetCaptureEnabled(enabled bool)
	PausePlayback()
	ResumePlayback()
	// Close releases capture, the control channel, and the transport. It is
	// idempotent.
	Close() error
}

// Connector establishes connections using a short-lived credential.
type Connector interface {
	Connect(ctx context.Context, cred *domain.Credential) (Connection, error)
}

// SourceFunc acquires local media capture for one connection.
type SourceFunc func(ctx context.Context) (audio.Source, error)

// SinkFunc returns the playback sink for one connection.
type SinkFunc func() audio.Sink

// Media configures local capture and playback for a connector.
type Media struct {
	NewSource SourceFunc
	NewSink   SinkFunc
	// PlayerQueue bounds queued engine audio. Zero uses the player default.
	PlayerQueue int
}

func (m Media) source(ctx context.Context, fallback func() audio.Source) (audio.Source, error) {
	if m.NewSource == nil {
		return fallback(), nil
	}
	src, err := m.NewSource(ctx)
	if err != nil {
		return nil, stageErr(StageMedia, err)
	}
	return src, nil
}

func (m Media) sink() audio.Sink {
	if m.NewSink == nil {
		return audio.Discard{}
	}
	return m.NewSink()
}

const eventBuffer = 64

// session holds the parts every connection shares: the inbound event channel,
// the capture gate, and the playback path.
type session struct {
	events  chan realtime.Event
	done    chan struct{}
	capture *audio.Gate
	player  *audio.Player
	logger  *slog.Logger

	emitMu   sync.RWMutex
	closed   atomic.Bool
	stopOnce sync.Once
}

func newSession(sink audio.Sink, queue int, logger *slog.Logger) *session {
	return &session{
		events:  make(chan realtime.Event, eventBuffer),
		done:    make(chan struct{}),
		capture: audio.NewGate(true),
		player:  audio.NewPlayer(sink, queue, logger),
		logger:  logger,
	}
}

func (s *session) Events() <-chan realtime.Event { return s.events }

func (s *session) SetCaptureEnabled(enabled bool) { s.capture.Set(enabled) }

func (s *session) PausePlayback() { s.player.Pause() }

func (s *session) ResumePlayback() { s.player.Resume() }

// deliver decodes one control frame. Engine audio that shares the control
// channel goes straight to the player; everything else is emitted in order.
func (s *session) deliver(data []byte) {
	ev := realtime.Decode(data)
	if delta, ok := ev.(realtime.AudioDelta); ok {
		s.player.Enqueue(delta.Audio)
		return
	}
	s.emit(ev)
}

func (s *session) emit(ev realtime.Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// stop closes the event stream exactly once. Emitters blocked on a full
// channel are released by done before events is closed.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.emitMu.Lock()
		s.closed.Store(true)
		close(s.events)
		s.emitMu.Unlock()
		if err := s.player.Close(); err != nil {
			s.logger.Debug("Playback sink close failed", "error", err)
		}
	})
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
