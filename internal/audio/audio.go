// Package audio holds the local media plumbing around a live session: capture
// sources, playback sinks, and the gates that mute them without tearing the
// connection down.
package audio

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// Frame is one encoded chunk of audio.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// Source produces captured audio frames. NextFrame blocks until a frame is
// ready or ctx is done.
type Source interface {
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Sink consumes engine audio for playback.
type Sink interface {
	WriteAudio(p []byte) error
	Close() error
}

// Gate is a concurrency-safe on/off switch for a media path.
type Gate struct {
	open atomic.Bool
}

// NewGate returns a gate in the given state.
func NewGate(open bool) *Gate {
	g := &Gate{}
	g.open.Store(open)
	return g
}

// Set opens or closes the gate.
func (g *Gate) Set(open bool) { g.open.Store(open) }

// Open reports whether media may pass.
func (g *Gate) Open() bool { return g.open.Load() }

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) WriteAudio([]byte) error { return nil }
func (Discard) Close() error            { return nil }

// WriterSink adapts an io.Writer into a Sink.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) WriteAudio(p []byte) error {
	_, err := s.W.Write(p)
	return err
}

func (s WriterSink) Close() error {
	if c, ok := s.W.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
