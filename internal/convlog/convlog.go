// Package convlog records the conversation of each tutoring session as
// newline-delimited JSON, one file per learner session plus an optional
// global file.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Directions.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
	Internal = "internal"
)

// Config controls where conversation logs are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one line of a conversation log.
type Event struct {
	Timestamp  string         `json:"ts"`
	LearnerID  string         `json:"learner_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger accepts conversation events. Implementations must not block.
type Logger interface {
	Log(Event)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event) {}

// FileLogger writes events from a bounded queue on a background goroutine.
// When the queue is full new events are dropped.
type FileLogger struct {
	cfg    Config
	queue  chan Event
	logger *slog.Logger
	wg     sync.WaitGroup

	files   map[string]*os.File
	global  *os.File
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New creates a FileLogger. A disabled config yields a logger that drops
// everything without touching the filesystem.
func New(cfg Config, logger *slog.Logger) (*FileLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	l := &FileLogger{
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
	}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues ev for writing. Missing timestamps and cleaned content are filled in.
func (l *FileLogger) Log(ev Event) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *FileLogger) Dropped() int64 { return l.dropped.Load() }

func (l *FileLogger) run() {
	defer l.wg.Done()
	for ev := range l.queue {
		l.write(ev)
	}
}

func (l *FileLogger) write(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Failed to encode conversation event", "event_type", ev.EventType, "error", err)
		return
	}
	line = append(line, '\n')

	path := filepath.Join(l.cfg.Dir, safeName(ev.LearnerID, "anonymous"), safeName(ev.SessionID, "unassigned")+".ndjson")
	f, err := l.fileFor(path)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "path", path, "error", err)
	} else if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "path", path, "error", err)
	}

	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Warn("Failed to write global conversation log", "error", err)
		}
	}
}

func (l *FileLogger) fileFor(path string) (*os.File, error) {
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	l.files[path] = f
	return f, nil
}

// Close flushes queued events and closes every open file.
func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	var firstErr error
	for path, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.files, path)
	}
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func safeName(s, fallback string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "_" {
		return fallback
	}
	return s
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
