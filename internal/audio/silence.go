package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FrameDuration is the packetization interval used for captured audio.
const FrameDuration = 20 * time.Millisecond

// OpusSilenceFrame is a single 20ms Opus frame of digital silence.
var OpusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

// ErrSourceClosed is returned by a Source after Close.
var ErrSourceClosed = errors.New("audio: source closed")

// SilenceSource paces out a fixed silent payload in real time. It stands in
// for a microphone when the server has no capture device.
type SilenceSource struct {
	payload []byte
	ticker  *time.Ticker

	closeOnce sync.Once
	done      chan struct{}
}

// NewOpusSilence returns a source of Opus silence frames.
func NewOpusSilence() *SilenceSource {
	return newSilence(OpusSilenceFrame)
}

// NewPCMSilence returns a source of 16-bit mono PCM silence at sampleRate.
func NewPCMSilence(sampleRate int) *SilenceSource {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	samples := sampleRate * int(FrameDuration/time.Millisecond) / 1000
	return newSilence(make([]byte, samples*2))
}

func newSilence(payload []byte) *SilenceSource {
	return &SilenceSource{
		payload: payload,
		ticker:  time.NewTicker(FrameDuration),
		done:    make(chan struct{}),
	}
}

func (s *SilenceSource) NextFrame(ctx context.Context) (Frame, error) {
	select {
	case <-s.done:
		return Frame{}, ErrSourceClosed
	default:
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		return Frame{}, ErrSourceClosed
	case <-s.ticker.C:
		data := make([]byte, len(s.payload))
		copy(data, s.payload)
		return Frame{Data: data, Duration: FrameDuration}, nil
	}
}

func (s *SilenceSource) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
