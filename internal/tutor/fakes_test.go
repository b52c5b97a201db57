package tutor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
	"github.com/ashureev/tutorlive/internal/transport"
)

var testStart = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: testStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{d: d, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pendingTimers returns timers that have neither fired nor been stopped.
func (c *fakeClock) pendingTimers() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.done() {
			out = append(out, t)
		}
	}
	return out
}

type fakeTicker struct {
	d       time.Duration
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

// Fire runs the callback on a separate goroutine the way time.AfterFunc does.
func (t *fakeTimer) Fire() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	f := t.f
	t.mu.Unlock()
	go f()
}

func (t *fakeTimer) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired || t.stopped
}

type fakeConn struct {
	events chan realtime.Event

	mu        sync.Mutex
	sent      []realtime.ClientEvent
	capture   []bool
	paused    int
	resumed   int
	closed    int
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan realtime.Event, 64)}
}

func (c *fakeConn) Events() <-chan realtime.Event { return c.events }

func (c *fakeConn) Send(_ context.Context, ev realtime.ClientEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, ev)
	return nil
}

func (c *fakeConn) SetCaptureEnabled(enabled bool) {
	c.mu.Lock()
	c.capture = append(c.capture, enabled)
	c.mu.Unlock()
}

func (c *fakeConn) PausePlayback() {
	c.mu.Lock()
	c.paused++
	c.mu.Unlock()
}

func (c *fakeConn) ResumePlayback() {
	c.mu.Lock()
	c.resumed++
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) Sent() []realtime.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.ClientEvent(nil), c.sent...)
}

func (c *fakeConn) SentTypes() []string {
	var out []string
	for _, ev := range c.Sent() {
		out = append(out, ev.ClientEventType())
	}
	return out
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

func (c *fakeConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeConnector struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeConnector) Connect(context.Context, *domain.Credential) (transport.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := newFakeConn()
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) Last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeIssuer struct {
	err error
}

func (f fakeIssuer) Issue(_ context.Context, learnerID string) (*domain.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Credential{
		Token:     "ek_test",
		ExpiresAt: testStart.Add(time.Minute),
		Model:     "gpt-realtime",
		Voice:     "verse",
		Profile:   &domain.LearnerProfile{LearnerID: learnerID, DisplayName: "Ada"},
		Topics:    []domain.Topic{{Title: "Why do leaves change color?"}},
	}, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	createErr error
	created   int
	completed []*domain.SessionArtifact
}

func (r *fakeRecorder) CreateSession(context.Context, string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	r.created++
	return "sess-" + string(rune('0'+r.created)), nil
}

func (r *fakeRecorder) CompleteSession(_ context.Context, a *domain.SessionArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, a)
	return nil
}

func (r *fakeRecorder) Completed() []*domain.SessionArtifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.SessionArtifact(nil), r.completed...)
}

type planCall struct {
	req  domain.LessonPlanRequest
	plan *domain.LessonPlan
	err  error
}

// fakePlanner blocks each request until the test releases it.
type fakePlanner struct {
	mu       sync.Mutex
	requests []domain.LessonPlanRequest
	release  chan planCall
}

func newFakePlanner() *fakePlanner {
	return &fakePlanner{release: make(chan planCall, 4)}
}

func (p *fakePlanner) GeneratePlan(ctx context.Context, req domain.LessonPlanRequest) (*domain.LessonPlan, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	select {
	case r := <-p.release:
		return r.plan, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakePlanner) Requests() []domain.LessonPlanRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LessonPlanRequest(nil), p.requests...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []Update
}

func (p *recordingPublisher) Publish(u Update) {
	p.mu.Lock()
	p.updates = append(p.updates, u)
	p.mu.Unlock()
}

func (p *recordingPublisher) Kinds() []UpdateKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []UpdateKind
	for _, u := range p.updates {
		out = append(out, u.Kind)
	}
	return out
}

type harness struct {
	o         *Orchestrator
	clock     *fakeClock
	connector *fakeConnector
	recorder  *fakeRecorder
	planner   *fakePlanner
	pub       *recordingPublisher
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness builds an orchestrator without its loop so tests can drive the
// handlers directly.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		connector: &fakeConnector{},
		recorder:  &fakeRecorder{},
		planner:   newFakePlanner(),
		pub:       &recordingPublisher{},
	}
	h.o = newOrchestrator(DefaultConfig(), Deps{
		Connector: h.connector,
		Issuer:    fakeIssuer{},
		Planner:   h.planner,
		Recorder:  h.recorder,
		Publisher: h.pub,
		Clock:     h.clock,
		Logger:    testLogger(),
	})
	return h
}

// connect starts a session and returns its connection with the sent log cleared.
func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	if err := h.o.start(context.Background(), "learner-1"); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	conn := h.connector.Last()
	h.o.handleEvent(realtime.SessionCreated{SessionID: "sess_engine"})
	conn.Reset()
	return conn
}

// nextMessage waits for a message posted to the inbox by a background
// goroutine or timer.
func (h *harness) nextMessage(t *testing.T) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-h.o.inbox:
			switch msg.(type) {
			case engineEvent, connectionLost:
				continue
			}
			return msg
		case <-deadline:
			t.Fatal("timed out waiting for orchestrator message")
			return nil
		}
	}
}

var errBoom = errors.New("boom")
