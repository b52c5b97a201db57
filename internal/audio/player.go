package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPlayerQueue = 64

// Player queues engine audio and writes it to a Sink on its own goroutine so
// the transport read path never blocks on the speaker. Pausing drops what is
// queued and everything that arrives until Resume.
type Player struct {
	sink   Sink
	gate   *Gate
	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
	played    atomic.Int64
	dropped   atomic.Int64
}

// NewPlayer starts a player writing to sink. A zero queueSize uses the default.
func NewPlayer(sink Sink, queueSize int, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = Discard{}
	}
	if queueSize <= 0 {
		queueSize = defaultPlayerQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		sink:   sink,
		gate:   NewGate(true),
		queue:  make(chan []byte, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue hands a chunk to the player. It never blocks: when the queue is
// full the oldest chunk is dropped.
func (p *Player) Enqueue(chunk []byte) {
	if !p.gate.Open() || p.ctx.Err() != nil {
		p.dropped.Add(1)
		return
	}

	data := make([]byte, len(chunk))
	copy(data, chunk)

	select {
	case p.queue <- data:
		return
	default:
	}

	select {
	case <-p.queue:
		p.dropped.Add(1)
	default:
	}
	select {
	case p.queue <- data:
	default:
		p.dropped.Add(1)
		p.logger.Warn("[PLAYER] Failed to queue after backpressure", "queue_len", len(p.queue))
	}
}

// Pause stops playback and discards queued audio.
func (p *Player) Pause() {
	p.gate.Set(false)
	p.drain()
}

// Resume re-enables playback.
func (p *Player) Resume() {
	p.gate.Set(true)
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	return !p.gate.Open()
}

// Played returns the number of chunks written to the sink.
func (p *Player) Played() int64 { return p.played.Load() }

// Dropped returns the number of chunks discarded.
func (p *Player) Dropped() int64 { return p.dropped.Load() }

func (p *Player) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case data := <-p.queue:
			if !p.gate.Open() {
				p.dropped.Add(1)
				continue
			}
			start := time.Now()
			if err := p.sink.WriteAudio(data); err != nil {
				p.logger.Warn("[PLAYER] Sink write failed", "error", err)
				continue
			}
			p.played.Add(1)
			if d := time.Since(start); d > 100*time.Millisecond {
				p.logger.Warn("[PLAYER] Slow sink", "duration_ms", d.Milliseconds())
			}
		}
	}
}

func (p *Player) drain() int {
	n := 0
	for {
		select {
		case <-p.queue:
			n++
			p.dropped.Add(1)
		default:
			return n
		}
	}
}

// Close stops the player and closes the sink. It is safe to call more than once.
func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		if n := p.drain(); n > 0 {
			p.logger.Debug("[PLAYER] Drained queued audio on close", "count", n)
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			p.logger.Warn("[PLAYER] Shutdown timeout")
		}
		err = p.sink.Close()
	})
	return err
}
