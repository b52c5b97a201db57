// Package tutor orchestrates one live tutoring session over a realtime
// connection: it consumes engine events in order, executes model tool calls,
// tracks phase and activity, and owns pause/resume, time-boxing, and the
// hand-off of the finished session.
package tutor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutorlive/internal/convlog"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
	"github.com/ashureev/tutorlive/internal/transport"
)

const (
	inboxSize   = 64
	sendTimeout = 5 * time.Second
)

// Deps are the collaborators of an Orchestrator. Planner, Recorder,
// Publisher, ConvLog, Clock and Logger are optional.
type Deps struct {
	Connector transport.Connector
	Issuer    CredentialIssuer
	Planner   LessonPlanner
	Recorder  SessionRecorder
	Publisher Publisher
	ConvLog   convlog.Logger
	Clock     Clock
	Logger    *slog.Logger
}

// Orchestrator owns the state of one tutoring session. All mutation happens
// on a single loop goroutine; Snapshot hands out copies.
type Orchestrator struct {
	cfg       Config
	connector transport.Connector
	issuer    CredentialIssuer
	planner   LessonPlanner
	recorder  SessionRecorder
	publisher Publisher
	convlog   convlog.Logger
	clock     Clock
	logger    *slog.Logger

	mu    sync.RWMutex
	state domain.SessionState

	inbox    chan any
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}

	// Everything below is owned by the loop goroutine.
	conn             transport.Connection
	gen              uint64
	sessCtx          context.Context
	sessCancel       context.CancelFunc
	configured       bool
	assistantOpen    bool
	assistantItems   map[string]int
	startTime        time.Time
	frozen           time.Duration
	prePauseStatus   domain.Status
	autoEnded        bool
	profile          *domain.LearnerProfile
	topics           []domain.Topic
	voice            string
	baseInstructions string
	planRequests     int

	elapsedTicker   Ticker
	broadcastTicker Ticker
	resumeTimer     Timer
	resumeToken     uint64
	dismissTimer    Timer
	dismissToken    uint64
}

type opKind int

const (
	opStart opKind = iota
	opPause
	opResume
	opEnd
	opRestart
)

type command struct {
	op        opKind
	ctx       context.Context
	learnerID string
	reply     chan result
}

type result struct {
	artifact *domain.SessionArtifact
	err      error
}

type engineEvent struct {
	gen uint64
	ev  realtime.Event
}

type connectionLost struct {
	gen uint64
}

type planResult struct {
	gen   uint64
	topic string
	plan  *domain.LessonPlan
	err   error
}

type resumeFire struct {
	token       uint64
	instruction string
}

type dismissTopics struct {
	token uint64
}

// New creates an orchestrator and starts its loop. Call Close to stop it.
func New(cfg Config, deps Deps) *Orchestrator {
	o := newOrchestrator(cfg, deps)
	go o.run()
	return o
}

func newOrchestrator(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		connector: deps.Connector,
		issuer:    deps.Issuer,
		planner:   deps.Planner,
		recorder:  deps.Recorder,
		publisher: deps.Publisher,
		convlog:   deps.ConvLog,
		clock:     deps.Clock,
		logger:    deps.Logger,
		state:     domain.NewSessionState(),
		inbox:     make(chan any, inboxSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if o.publisher == nil {
		o.publisher = noopPublisher{}
	}
	if o.convlog == nil {
		o.convlog = convlog.Noop{}
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Start connects a new session for learnerID. It fails with ErrSessionActive
// while another session is live and with *ConnectionError when the
// connection cannot be established.
func (o *Orchestrator) Start(ctx context.Context, learnerID string) error {
	return o.call(ctx, command{op: opStart, learnerID: learnerID}).err
}

// Pause mutes the learner, cancels in-flight output, and freezes the clock.
func (o *Orchestrator) Pause() error {
	return o.call(context.Background(), command{op: opPause}).err
}

// Resume restores media and re-establishes conversational context.
func (o *Orchestrator) Resume() error {
	return o.call(context.Background(), command{op: opResume}).err
}

// End tears the session down, submits its artifact, and returns to idle.
// Ending an idle orchestrator is a no-op returning a nil artifact.
func (o *Orchestrator) End(ctx context.Context) (*domain.SessionArtifact, error) {
	r := o.call(ctx, command{op: opEnd})
	return r.artifact, r.err
}

// Restart discards the current session and starts a fresh one for the same
// learner. It is only available early in a session.
func (o *Orchestrator) Restart(ctx context.Context) error {
	return o.call(ctx, command{op: opRestart}).err
}

// Snapshot returns a copy of the current session state.
func (o *Orchestrator) Snapshot() domain.SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// RestartAvailable reports whether Restart would be accepted now.
func (o *Orchestrator) RestartAvailable() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return restartAllowed(o.cfg, o.state.Status, time.Duration(o.state.ElapsedSeconds)*time.Second)
}

// Done is closed once the orchestrator loop has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.stopped
}

// Close ends any live session and stops the loop.
func (o *Orchestrator) Close() error {
	o.quitOnce.Do(func() { close(o.quit) })
	<-o.stopped
	return nil
}

func restartAllowed(cfg Config, status domain.Status, elapsed time.Duration) bool {
	if status != domain.StatusConnected && status != domain.StatusPaused {
		return false
	}
	return elapsed.Truncate(time.Second) <= cfg.RestartWindow
}

func (o *Orchestrator) call(ctx context.Context, cmd command) result {
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)
	select {
	case o.inbox <- cmd:
	case <-o.quit:
		return result{err: ErrClosed}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-o.stopped:
		return result{err: ErrClosed}
	}
}

// post delivers msg to the loop. It reports false once the loop is gone.
func (o *Orchestrator) post(msg any) bool {
	select {
	case o.inbox <- msg:
		return true
	case <-o.quit:
		return false
	}
}

func (o *Orchestrator) run() {
	defer close(o.stopped)
	for {
		select {
		case <-o.quit:
			o.shutdown()
			return
		case msg := <-o.inbox:
			o.handle(msg)
		case <-tickerC(o.elapsedTicker):
			o.tick()
		case <-tickerC(o.broadcastTicker):
			o.broadcastTime()
		}
	}
}

func tickerC(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func (o *Orchestrator) handle(msg any) {
	switch m := msg.(type) {
	case command:
		m.reply <- o.handleCommand(m)
	case engineEvent:
		if m.gen != o.gen || o.conn == nil {
			return
		}
		o.handleEvent(m.ev)
	case connectionLost:
		o.handleConnectionLost(m.gen)
	case planResult:
		o.handlePlan(m)
	case resumeFire:
		o.handleResumeFire(m)
	case dismissTopics:
		o.handleDismiss(m)
	default:
		o.logger.Warn("Unexpected orchestrator message", "type", typeName(msg))
	}
}

func (o *Orchestrator) handleCommand(c command) result {
	switch c.op {
	case opStart:
		return result{err: o.start(c.ctx, c.learnerID)}
	case opPause:
		return result{err: o.pause()}
	case opResume:
		return result{err: o.resume()}
	case opEnd:
		a, err := o.end(c.ctx, domain.EndReasonUser)
		return result{artifact: a, err: err}
	case opRestart:
		return result{err: o.restart(c.ctx)}
	}
	return result{err: errors.New("tutor: unknown command")}
}

func (o *Orchestrator) start(ctx context.Context, learnerID string) error {
	switch o.state.Status {
	case domain.StatusIdle, domain.StatusError:
	default:
		return ErrSessionActive
	}
	if learnerID == "" {
		return errors.New("tutor: learner id is required")
	}

	o.gen++
	gen := o.gen
	o.resetSession()
	st := domain.NewSessionState()
	st.Status = domain.StatusConnecting
	st.LearnerID = learnerID
	o.setState(st)
	o.publish(UpdateStatus, nil)

	cred, err := o.issuer.Issue(ctx, learnerID)
	if err == nil && cred == nil {
		err = errors.New("no credential issued")
	}
	if err != nil {
		return o.failConnect(StageCredential, err)
	}
	o.profile = cred.Profile
	o.topics = cred.Topics
	o.voice = cred.Voice
	if o.voice == "" {
		o.voice = o.cfg.Voice
	}
	o.baseInstructions = BuildInstructions(o.profile, o.topics)

	if o.recorder != nil {
		id, err := o.recorder.CreateSession(ctx, learnerID)
		if err != nil {
			o.logger.Warn("Failed to create session record, continuing without persistence",
				"learner_id", learnerID, "error", err)
		} else {
			o.update(func(s *domain.SessionState) { s.SessionID = id })
		}
	}

	conn, err := o.connector.Connect(ctx, cred)
	if err != nil {
		return o.failConnect(connectStage(err), err)
	}
	o.conn = conn
	o.sessCtx, o.sessCancel = context.WithCancel(context.Background())
	go o.pump(gen, conn)

	now := o.clock.Now()
	o.startTime = now
	o.update(func(s *domain.SessionState) {
		s.Status = domain.StatusConnected
		s.StartedAt = now
	})
	o.elapsedTicker = o.clock.NewTicker(o.cfg.ElapsedTick)
	o.broadcastTicker = o.clock.NewTicker(o.cfg.BroadcastInterval)

	o.logger.Info("Tutoring session started", "learner_id", learnerID, "session_id", o.state.SessionID)
	o.logConversation(convlog.Internal, "session_started", "", nil)
	o.publish(UpdateStatus, nil)
	return nil
}

func connectStage(err error) string {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.Stage {
		case transport.StageMedia:
			return StageMedia
		case transport.StageChannel:
			return StageChannel
		}
	}
	return StageSignaling
}

func (o *Orchestrator) failConnect(stage string, err error) error {
	cerr := &ConnectionError{Stage: stage, Err: err}
	o.update(func(s *domain.SessionState) {
		s.Status = domain.StatusError
		s.LastError = cerr.Error()
	})
	o.logger.Warn("Session connection failed", "learner_id", o.state.LearnerID, "stage", stage, "error", err)
	o.publish(UpdateError, func(u *Update) { u.Error = cerr.Error() })
	return cerr
}

func (o *Orchestrator) pump(gen uint64, conn transport.Connection) {
	for ev := range conn.Events() {
		if !o.post(engineEvent{gen: gen, ev: ev}) {
			return
		}
	}
	o.post(connectionLost{gen: gen})
}

func (o *Orchestrator) resetSession() {
	o.configured = false
	o.assistantOpen = false
	o.assistantItems = nil
	o.startTime = time.Time{}
	o.frozen = 0
	o.prePauseStatus = ""
	o.autoEnded = false
	o.profile = nil
	o.topics = nil
	o.voice = ""
	o.baseInstructions = ""
	o.planRequests = 0
}

// teardown releases the connection and every timer. Events, plan results and
// timer firings from before the teardown are ignored afterwards.
func (o *Orchestrator) teardown() {
	stopTicker(&o.elapsedTicker)
	stopTicker(&o.broadcastTicker)
	stopTimer(&o.resumeTimer)
	stopTimer(&o.dismissTimer)
	o.resumeToken++
	o.dismissToken++
	if o.sessCancel != nil {
		o.sessCancel()
		o.sessCancel = nil
		o.sessCtx = nil
	}
	if o.conn != nil {
		if err := o.conn.Close(); err != nil {
			o.logger.Warn("Connection teardown failed", "learner_id", o.state.LearnerID, "error", err)
		}
		o.conn = nil
	}
	o.gen++
	o.configured = false
	o.assistantOpen = false
}

func stopTicker(t *Ticker) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (o *Orchestrator) end(ctx context.Context, reason domain.EndReason) (*domain.SessionArtifact, error) {
	if o.state.Status == domain.StatusIdle {
		return nil, nil
	}

	elapsed := o.elapsed()
	o.update(func(s *domain.SessionState) {
		s.Status = domain.StatusEnding
		if secs := int(elapsed / time.Second); secs > s.ElapsedSeconds {
			s.ElapsedSeconds = secs
		}
	})
	o.publish(UpdateStatus, nil)
	o.teardown()

	artifact := domain.ArtifactFromState(o.state, reason, o.clock.Now())
	if artifact.SessionID != "" && o.recorder != nil {
		if err := o.recorder.CompleteSession(ctx, artifact); err != nil {
			o.logger.Warn("Failed to persist session artifact",
				"learner_id", artifact.LearnerID, "session_id", artifact.SessionID, "error", err)
		}
	}

	o.logger.Info("Tutoring session ended",
		"learner_id", artifact.LearnerID,
		"session_id", artifact.SessionID,
		"reason", string(reason),
		"duration_seconds", artifact.DurationSeconds,
		"final_phase", string(artifact.FinalPhase),
	)
	o.logConversation(convlog.Internal, "session_ended", "", map[string]any{
		"reason":           string(reason),
		"duration_seconds": artifact.DurationSeconds,
	})

	o.setState(domain.NewSessionState())
	o.publish(UpdateStatus, nil)
	return artifact, nil
}

func (o *Orchestrator) restart(ctx context.Context) error {
	if !restartAllowed(o.cfg, o.state.Status, o.elapsed()) {
		return ErrRestartUnavailable
	}
	learnerID := o.state.LearnerID
	o.logger.Info("Restarting tutoring session", "learner_id", learnerID, "session_id", o.state.SessionID)
	o.teardown()
	o.setState(domain.NewSessionState())
	return o.start(ctx, learnerID)
}

func (o *Orchestrator) handleConnectionLost(gen uint64) {
	if gen != o.gen || o.conn == nil {
		return
	}
	o.logger.Warn("Connection to engine lost", "learner_id", o.state.LearnerID, "session_id", o.state.SessionID)
	learnerID := o.state.LearnerID

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SubmitTimeout)
	defer cancel()
	_, _ = o.end(ctx, domain.EndReasonError)

	const msg = "connection to the tutor was lost"
	o.update(func(s *domain.SessionState) {
		s.Status = domain.StatusError
		s.LearnerID = learnerID
		s.LastError = msg
	})
	o.publish(UpdateError, func(u *Update) { u.Error = msg })
}

func (o *Orchestrator) shutdown() {
	if o.state.Status == domain.StatusIdle {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SubmitTimeout)
	defer cancel()
	if _, err := o.end(ctx, domain.EndReasonShutdown); err != nil {
		o.logger.Warn("Failed to end session on shutdown", "error", err)
	}
}

// elapsed is the pause-aware session time.
func (o *Orchestrator) elapsed() time.Duration {
	switch o.state.Status {
	case domain.StatusConnected:
		if o.startTime.IsZero() {
			return 0
		}
		return o.clock.Now().Sub(o.startTime)
	case domain.StatusPaused:
		return o.frozen
	default:
		return time.Duration(o.state.ElapsedSeconds) * time.Second
	}
}

func (o *Orchestrator) sessionContext() context.Context {
	if o.sessCtx == nil {
		return context.Background()
	}
	return o.sessCtx
}

func (o *Orchestrator) update(fn func(*domain.SessionState)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

func (o *Orchestrator) setState(st domain.SessionState) {
	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
}

func (o *Orchestrator) send(ev realtime.ClientEvent) error {
	if o.conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := o.conn.Send(ctx, ev); err != nil {
		o.logger.Warn("Failed to send control event",
			"learner_id", o.state.LearnerID, "event_type", ev.ClientEventType(), "error", err)
		return err
	}
	return nil
}

func (o *Orchestrator) publish(kind UpdateKind, fill func(*Update)) {
	remaining := o.cfg.MaxDuration - time.Duration(o.state.ElapsedSeconds)*time.Second
	if remaining < 0 {
		remaining = 0
	}
	u := Update{
		Kind:             kind,
		LearnerID:        o.state.LearnerID,
		SessionID:        o.state.SessionID,
		Status:           o.state.Status,
		Phase:            o.state.Phase,
		Activity:         o.state.Activity,
		ElapsedSeconds:   o.state.ElapsedSeconds,
		RemainingSeconds: int(remaining / time.Second),
	}
	if fill != nil {
		fill(&u)
	}
	o.publisher.Publish(u)
}

func (o *Orchestrator) logConversation(direction, eventType, content string, meta map[string]any) {
	o.convlog.Log(convlog.Event{
		Timestamp:  o.clock.Now().UTC().Format(time.RFC3339Nano),
		LearnerID:  o.state.LearnerID,
		SessionID:  o.state.SessionID,
		Channel:    "realtime",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
