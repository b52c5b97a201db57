package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
	"github.com/ashureev/tutorlive/internal/transport"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartConfiguresSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.o.start(context.Background(), "learner-1"); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	st := h.o.Snapshot()
	if st.Status != domain.StatusConnected {
		t.Fatalf("status = %s, want connected", st.Status)
	}
	if st.SessionID != "sess-1" || st.LearnerID != "learner-1" {
		t.Fatalf("ids = %q/%q", st.SessionID, st.LearnerID)
	}
	if !st.StartedAt.Equal(testStart) {
		t.Fatalf("started at = %v", st.StartedAt)
	}

	conn := h.connector.Last()
	h.o.handleEvent(realtime.SessionCreated{SessionID: "sess_engine"})
	h.o.handleEvent(realtime.SessionCreated{SessionID: "sess_engine"})

	sent := conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d events, want session.update and response.create", len(sent))
	}
	upd, ok := sent[0].(realtime.SessionUpdate)
	if !ok {
		t.Fatalf("first event = %T, want SessionUpdate", sent[0])
	}
	if upd.Session.Voice != "verse" || len(upd.Session.Tools) != len(AllToolNames) {
		t.Fatalf("session config = %+v", upd.Session)
	}
	if !strings.Contains(upd.Session.Instructions, "Why do leaves change color?") {
		t.Fatal("instructions missing learner topics")
	}
	if upd.Session.TurnDetection == nil || upd.Session.TurnDetection.Type != "server_vad" {
		t.Fatal("turn detection not configured")
	}
	if _, ok := sent[1].(realtime.ResponseCreate); !ok {
		t.Fatalf("second event = %T, want ResponseCreate", sent[1])
	}
}

func TestStartRejectsActiveSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)
	if err := h.o.start(context.Background(), "learner-2"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("start() error = %v, want ErrSessionActive", err)
	}
}

func TestStartFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		issuerErr error
		connErr   error
		wantStage string
	}{
		{name: "credential", issuerErr: errBoom, wantStage: StageCredential},
		{name: "media", connErr: &transport.Error{Stage: transport.StageMedia, Err: errBoom}, wantStage: StageMedia},
		{name: "control channel", connErr: &transport.Error{Stage: transport.StageChannel, Err: errBoom}, wantStage: StageChannel},
		{name: "signaling", connErr: errBoom, wantStage: StageSignaling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.connector.err = tt.connErr
			h.o.issuer = fakeIssuer{err: tt.issuerErr}

			err := h.o.start(context.Background(), "learner-1")
			var cerr *ConnectionError
			if !errors.As(err, &cerr) {
				t.Fatalf("start() error = %v, want *ConnectionError", err)
			}
			if cerr.Stage != tt.wantStage {
				t.Fatalf("stage = %s, want %s", cerr.Stage, tt.wantStage)
			}
			if !errors.Is(err, errBoom) {
				t.Fatal("cause not wrapped")
			}
			st := h.o.Snapshot()
			if st.Status != domain.StatusError || st.LastError == "" {
				t.Fatalf("state = %s/%q, want error with message", st.Status, st.LastError)
			}
			// A failed start can be retried.
			h.connector.err = nil
			h.o.issuer = fakeIssuer{}
			if err := h.o.start(context.Background(), "learner-1"); err != nil {
				t.Fatalf("retry start() error = %v", err)
			}
		})
	}
}

func TestRecorderFailureKeepsSessionRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recorder.createErr = errBoom
	h.connect(t)

	st := h.o.Snapshot()
	if st.Status != domain.StatusConnected || st.SessionID != "" {
		t.Fatalf("state = %s/%q, want connected without id", st.Status, st.SessionID)
	}
	a, err := h.o.end(context.Background(), domain.EndReasonUser)
	if err != nil || a == nil {
		t.Fatalf("end() = %v, %v", a, err)
	}
	if n := len(h.recorder.Completed()); n != 0 {
		t.Fatalf("completions = %d, want 0 without a session id", n)
	}
}

func TestEndSubmitsArtifactAndResets(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.connect(t)
	h.o.handleEvent(realtime.InputTranscriptionCompleted{Transcript: "hello"})
	respond(h.o, call(ToolCreateOpenLoop, `{"question":"Can ants swim?"}`))
	h.clock.Advance(90 * time.Second)

	a, err := h.o.end(context.Background(), domain.EndReasonUser)
	if err != nil {
		t.Fatalf("end() error = %v", err)
	}
	if a.SessionID != "sess-1" || a.EndReason != domain.EndReasonUser || a.DurationSeconds != 90 {
		t.Fatalf("artifact = %+v", a)
	}
	if len(a.Transcript) != 1 || len(a.OpenLoops) != 1 {
		t.Fatalf("artifact records = %d transcript, %d open loops", len(a.Transcript), len(a.OpenLoops))
	}
	if got := h.recorder.Completed(); len(got) != 1 || got[0] != a {
		t.Fatalf("completions = %d, want the returned artifact", len(got))
	}
	if conn.Closed() != 1 {
		t.Fatalf("connection closed %d times, want 1", conn.Closed())
	}
	if st := h.o.Snapshot(); st.Status != domain.StatusIdle || len(st.Transcript) != 0 {
		t.Fatalf("state after end = %+v", st)
	}

	again, err := h.o.end(context.Background(), domain.EndReasonUser)
	if again != nil || err != nil {
		t.Fatalf("second end() = %v, %v; want no-op", again, err)
	}
	if n := len(h.recorder.Completed()); n != 1 {
		t.Fatalf("completions = %d after second end, want 1", n)
	}
}

func TestTranscriptCoalescing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.o.handleEvent(realtime.TranscriptDelta{Delta: "Hi "})
	h.o.handleEvent(realtime.TranscriptDelta{Delta: "there"})
	h.o.handleEvent(realtime.TranscriptDone{Transcript: "Hi there!"})
	h.o.handleEvent(realtime.InputTranscriptionCompleted{Transcript: " hello "})
	h.o.handleEvent(realtime.TranscriptDelta{Delta: "So"})
	h.o.handleEvent(realtime.SpeechStarted{})
	h.o.handleEvent(realtime.TranscriptDelta{Delta: "Anyway"})
	h.o.handleEvent(realtime.InputTranscriptionCompleted{Transcript: "   "})

	got := h.o.Snapshot().Transcript
	want := []domain.TranscriptEntry{
		{Role: domain.RoleAssistant, Text: "Hi there!"},
		{Role: domain.RoleUser, Text: "hello"},
		{Role: domain.RoleAssistant, Text: "So"},
		{Role: domain.RoleAssistant, Text: "Anyway"},
	}
	if len(got) != len(want) {
		t.Fatalf("transcript = %+v", got)
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Text != want[i].Text {
			t.Fatalf("entry %d = %s %q, want %s %q", i, got[i].Role, got[i].Text, want[i].Role, want[i].Text)
		}
	}
}

func TestInterruptedResponseKeepsOneEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.o.handleEvent(realtime.TranscriptDelta{ItemID: "item_1", Delta: "Hello "})
	h.o.handleEvent(realtime.TranscriptDelta{ItemID: "item_1", Delta: "there"})
	h.o.handleEvent(realtime.SpeechStarted{})
	h.o.handleEvent(realtime.InputTranscriptionCompleted{Transcript: "wait"})
	h.o.handleEvent(realtime.TranscriptDone{ItemID: "item_1", Transcript: "Hello there"})
	h.o.handleEvent(realtime.TranscriptDelta{ItemID: "item_2", Delta: "Sure"})

	got := h.o.Snapshot().Transcript
	want := []domain.TranscriptEntry{
		{Role: domain.RoleAssistant, Text: "Hello there"},
		{Role: domain.RoleUser, Text: "wait"},
		{Role: domain.RoleAssistant, Text: "Sure"},
	}
	if len(got) != len(want) {
		t.Fatalf("transcript has %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Text != want[i].Text {
			t.Fatalf("entry %d = %s %q, want %s %q", i, got[i].Role, got[i].Text, want[i].Role, want[i].Text)
		}
	}
}

func TestPauseSendsCancellationSequence(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.connect(t)

	if err := h.o.pause(); err != nil {
		t.Fatalf("pause() error = %v", err)
	}
	want := []string{
		realtime.TypeResponseCancel,
		realtime.TypeOutputAudioBufferClear,
		realtime.TypeInputAudioBufferClear,
	}
	if got := conn.SentTypes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	if len(conn.capture) != 1 || conn.capture[0] || conn.paused != 1 {
		t.Fatalf("capture = %v, paused = %d", conn.capture, conn.paused)
	}
	if st := h.o.Snapshot().Status; st != domain.StatusPaused {
		t.Fatalf("status = %s, want paused", st)
	}
	if err := h.o.pause(); err != nil {
		t.Fatalf("second pause() error = %v", err)
	}
	if n := len(conn.SentTypes()); n != 3 {
		t.Fatalf("second pause sent more events: %d", n)
	}
}

func TestPauseResumeRequireConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.o.pause(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("pause() error = %v, want ErrNotConnected", err)
	}
	if err := h.o.resume(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume() error = %v, want ErrNotPaused", err)
	}
	h.connect(t)
	if err := h.o.resume(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume() while connected error = %v, want ErrNotPaused", err)
	}
}

func TestPauseSuppressesCancellationErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)
	if err := h.o.pause(); err != nil {
		t.Fatalf("pause() error = %v", err)
	}
	h.o.handleEvent(realtime.ErrorEvent{Code: "response_cancel_not_active", Message: "Cancellation failed: no active response found"})
	h.o.handleEvent(realtime.ErrorEvent{Message: "Error committing input audio buffer: buffer too small"})
	h.o.handleEvent(realtime.ErrorEvent{Code: "conversation_already_has_active_response", Message: "busy"})
	if got := h.o.Snapshot().LastError; got != "" {
		t.Fatalf("last error = %q, want suppressed", got)
	}

	h.o.handleEvent(realtime.ErrorEvent{Code: "invalid_request_error", Message: "bad voice"})
	if got := h.o.Snapshot().LastError; got != "invalid_request_error: bad voice" {
		t.Fatalf("last error = %q", got)
	}
}

func TestErrorsSurfaceWhenNotPaused(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)
	h.o.handleEvent(realtime.ErrorEvent{Code: "response_cancel_not_active", Message: "no active response"})
	if got := h.o.Snapshot().LastError; got == "" {
		t.Fatal("last error empty, want surfaced engine error")
	}
}

func TestResumeInjectsActivityContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.connect(t)
	respond(h.o, call(ToolTransitionPhase, `{"phase":"scaffolding"}`))
	if err := h.o.pause(); err != nil {
		t.Fatalf("pause() error = %v", err)
	}
	conn.Reset()

	if err := h.o.resume(); err != nil {
		t.Fatalf("resume() error = %v", err)
	}
	sent := conn.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d events on resume, want 1", len(sent))
	}
	item, ok := sent[0].(realtime.ConversationItemCreate)
	if !ok || item.Item.Role != "user" {
		t.Fatalf("resume event = %+v, want user message", sent[0])
	}
	text := item.Item.Content[0].Text
	discussing := ResumeMessageFor(domain.ActivityDiscussing)
	if text != discussing.Context {
		t.Fatalf("context = %q, want %q", text, discussing.Context)
	}
	for a, m := range resumeMessages {
		if a != domain.ActivityDiscussing && strings.Contains(text, m.Context) {
			t.Fatalf("context contains %s text", a)
		}
	}
	if !conn.capture[len(conn.capture)-1] || conn.resumed != 1 {
		t.Fatal("capture or playback not restored")
	}

	timers := h.clock.pendingTimers()
	if len(timers) != 1 || timers[0].d != DefaultConfig().ResumeDelay {
		t.Fatalf("pending timers = %d, want the resume timer", len(timers))
	}
	timers[0].Fire()
	h.o.handle(h.nextMessage(t))
	sent = conn.Sent()
	rc, ok := sent[len(sent)-1].(realtime.ResponseCreate)
	if !ok || rc.Response == nil || rc.Response.Instructions != discussing.Instruction {
		t.Fatalf("last event = %+v, want response.create with resume instruction", sent[len(sent)-1])
	}
}

func TestResumeFireAfterRepauseIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.connect(t)
	_ = h.o.pause()
	_ = h.o.resume()
	timers := h.clock.pendingTimers()
	if len(timers) != 1 {
		t.Fatalf("pending timers = %d, want 1", len(timers))
	}
	fire := timers[0].f
	_ = h.o.pause()
	conn.Reset()

	fire()
	h.o.handle(h.nextMessage(t))
	if got := conn.Sent(); len(got) != 0 {
		t.Fatalf("sent = %v, want nothing after re-pause", got)
	}
}

func TestElapsedFrozenWhilePaused(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.clock.Advance(10 * time.Second)
	h.o.tick()
	if got := h.o.Snapshot().ElapsedSeconds; got != 10 {
		t.Fatalf("elapsed = %d, want 10", got)
	}

	h.clock.Advance(2500 * time.Millisecond)
	_ = h.o.pause()
	frozen := h.o.Snapshot().ElapsedSeconds
	if frozen != 12 {
		t.Fatalf("elapsed at pause = %d, want 12", frozen)
	}
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Minute)
		h.o.tick()
		if got := h.o.Snapshot().ElapsedSeconds; got != frozen {
			t.Fatalf("elapsed while paused = %d, want %d", got, frozen)
		}
	}

	_ = h.o.resume()
	h.clock.Advance(time.Second)
	h.o.tick()
	if got := h.o.Snapshot().ElapsedSeconds; got != 13 {
		t.Fatalf("elapsed after resume = %d, want 13", got)
	}
}

func TestAutoEndAtTimeLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.connect(t)

	h.clock.Advance(36 * time.Minute)
	h.o.tick()
	h.o.tick()

	if st := h.o.Snapshot().Status; st != domain.StatusIdle {
		t.Fatalf("status = %s, want idle", st)
	}
	got := h.recorder.Completed()
	if len(got) != 1 {
		t.Fatalf("completions = %d, want 1", len(got))
	}
	if got[0].EndReason != domain.EndReasonTimeLimit || got[0].DurationSeconds != 36*60 {
		t.Fatalf("artifact = %s after %ds", got[0].EndReason, got[0].DurationSeconds)
	}
	if conn.Closed() != 1 {
		t.Fatalf("connection closed %d times, want 1", conn.Closed())
	}
}

func TestPauseDelaysTimeLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.clock.Advance(34 * time.Minute)
	h.o.tick()
	_ = h.o.pause()
	h.clock.Advance(10 * time.Minute)
	h.o.tick()
	_ = h.o.resume()

	h.clock.Advance(59 * time.Second)
	h.o.tick()
	if st := h.o.Snapshot().Status; st != domain.StatusConnected {
		t.Fatalf("status = %s at 34m59s of active time, want connected", st)
	}
	h.clock.Advance(time.Second)
	h.o.tick()
	if st := h.o.Snapshot().Status; st != domain.StatusIdle {
		t.Fatalf("status = %s at 35m of active time, want idle", st)
	}
	if n := len(h.recorder.Completed()); n != 1 {
		t.Fatalf("completions = %d, want 1", n)
	}
}

func TestTimeBroadcast(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.connect(t)
	h.clock.Advance(30 * time.Minute)
	h.o.broadcastTime()

	sent := conn.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1", len(sent))
	}
	item := sent[0].(realtime.ConversationItemCreate)
	if item.Item.Role != "system" || !strings.HasPrefix(item.Item.Content[0].Text, "[TIME UPDATE] 30 minutes elapsed, 5 minutes remaining.") {
		t.Fatalf("broadcast = %+v", item.Item)
	}

	_ = h.o.pause()
	conn.Reset()
	h.o.broadcastTime()
	if n := len(conn.Sent()); n != 0 {
		t.Fatalf("broadcast while paused sent %d events", n)
	}
}

func TestRestartWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := h.connect(t)

	h.clock.Advance(4*time.Minute + 59*time.Second)
	h.o.tick()
	if !h.o.RestartAvailable() {
		t.Fatal("restart unavailable at 4m59s")
	}

	h.clock.Advance(2 * time.Second)
	h.o.tick()
	if h.o.RestartAvailable() {
		t.Fatal("restart available at 5m01s")
	}
	if err := h.o.restart(context.Background()); !errors.Is(err, ErrRestartUnavailable) {
		t.Fatalf("restart() error = %v, want ErrRestartUnavailable", err)
	}
	if first.Closed() != 0 {
		t.Fatal("rejected restart closed the connection")
	}
}

func TestRestartAgreesWithAvailability(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := h.connect(t)

	h.clock.Advance(5*time.Minute + 500*time.Millisecond)
	h.o.tick()
	if !h.o.RestartAvailable() {
		t.Fatal("restart unavailable at 5m00.5s")
	}
	if err := h.o.restart(context.Background()); err != nil {
		t.Fatalf("restart() error = %v, want nil while reported available", err)
	}
	if first.Closed() != 1 {
		t.Fatal("old connection not closed")
	}
}

func TestRestartStartsFreshSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := h.connect(t)
	respond(h.o, call(ToolTransitionPhase, `{"phase":"diagnostic"}`))
	h.clock.Advance(time.Minute)

	if err := h.o.restart(context.Background()); err != nil {
		t.Fatalf("restart() error = %v", err)
	}
	if first.Closed() != 1 {
		t.Fatal("old connection not closed")
	}
	if h.connector.Last() == first {
		t.Fatal("no new connection made")
	}
	st := h.o.Snapshot()
	if st.Status != domain.StatusConnected || st.Phase != domain.PhaseWarmEntry || st.ElapsedSeconds != 0 {
		t.Fatalf("state after restart = %s/%s/%d", st.Status, st.Phase, st.ElapsedSeconds)
	}
	if st.LearnerID != "learner-1" || st.SessionID != "sess-2" {
		t.Fatalf("ids after restart = %q/%q", st.LearnerID, st.SessionID)
	}
	if n := len(h.recorder.Completed()); n != 0 {
		t.Fatalf("restart submitted %d artifacts, want 0", n)
	}
}

func TestConnectionLost(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.o.handleConnectionLost(h.o.gen - 1)
	if st := h.o.Snapshot().Status; st != domain.StatusConnected {
		t.Fatalf("stale loss changed status to %s", st)
	}

	h.o.handleConnectionLost(h.o.gen)
	st := h.o.Snapshot()
	if st.Status != domain.StatusError || st.LastError == "" || st.LearnerID != "learner-1" {
		t.Fatalf("state = %+v", st)
	}
	got := h.recorder.Completed()
	if len(got) != 1 || got[0].EndReason != domain.EndReasonError {
		t.Fatalf("completions = %+v", got)
	}
}

func TestOrchestratorLoop(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	connector := &fakeConnector{}
	recorder := &fakeRecorder{}
	pub := &recordingPublisher{}
	o := New(DefaultConfig(), Deps{
		Connector: connector,
		Issuer:    fakeIssuer{},
		Recorder:  recorder,
		Publisher: pub,
		Clock:     clock,
		Logger:    testLogger(),
	})
	defer o.Close()

	ctx := context.Background()
	if err := o.Start(ctx, "learner-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := connector.Last()
	conn.events <- realtime.SessionCreated{SessionID: "sess_engine"}
	waitFor(t, func() bool { return len(conn.Sent()) == 2 })

	conn.events <- realtime.TranscriptDelta{Delta: "Welcome!"}
	conn.events <- realtime.ResponseDone{FunctionCalls: []realtime.FunctionCall{
		call(ToolTransitionPhase, `{"phase":"diagnostic"}`),
	}}
	waitFor(t, func() bool { return o.Snapshot().Phase == domain.PhaseDiagnostic })

	clock.Advance(3 * time.Second)
	clock.tickers[0].ch <- clock.Now()
	waitFor(t, func() bool { return o.Snapshot().ElapsedSeconds == 3 })

	if err := o.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := o.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !o.RestartAvailable() {
		t.Fatal("RestartAvailable() = false early in the session")
	}

	a, err := o.End(ctx)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if a.FinalPhase != domain.PhaseDiagnostic || len(a.Transcript) != 1 {
		t.Fatalf("artifact = %+v", a)
	}
	if n := len(recorder.Completed()); n != 1 {
		t.Fatalf("completions = %d, want 1", n)
	}
	kinds := pub.Kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != UpdateStatus {
		t.Fatalf("updates = %v", kinds)
	}

	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-o.Done():
	default:
		t.Fatal("Done() not closed after Close()")
	}
	if err := o.Start(ctx, "learner-1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestCloseEndsLiveSession(t *testing.T) {
	t.Parallel()
	recorder := &fakeRecorder{}
	o := New(DefaultConfig(), Deps{
		Connector: &fakeConnector{},
		Issuer:    fakeIssuer{},
		Recorder:  recorder,
		Clock:     newFakeClock(),
		Logger:    testLogger(),
	})
	if err := o.Start(context.Background(), "learner-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = o.Close()
	got := recorder.Completed()
	if len(got) != 1 || got[0].EndReason != domain.EndReasonShutdown {
		t.Fatalf("completions = %+v, want one shutdown artifact", got)
	}
}
