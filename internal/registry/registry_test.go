package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

type fakeSession struct {
	mu     sync.Mutex
	status domain.Status
	closed bool
}

func (f *fakeSession) Start(context.Context, string) error { return nil }
func (f *fakeSession) Pause() error                        { return nil }
func (f *fakeSession) Resume() error                       { return nil }
func (f *fakeSession) End(context.Context) (*domain.SessionArtifact, error) {
	return nil, nil
}
func (f *fakeSession) Restart(context.Context) error { return nil }
func (f *fakeSession) RestartAvailable() bool        { return false }

func (f *fakeSession) Snapshot() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := domain.NewSessionState()
	if f.status != "" {
		st.Status = f.status
	}
	return st
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry(ttl time.Duration) (*Registry, map[string]*fakeSession) {
	created := make(map[string]*fakeSession)
	r := New(func(learnerID, tabID string) Session {
		s := &fakeSession{}
		created[learnerID+":"+tabID] = s
		return s
	}, ttl)
	return r, created
}

func TestGetOrCreateReusesPerTab(t *testing.T) {
	t.Parallel()

	r, created := newTestRegistry(time.Minute)

	a := r.GetOrCreate("learner-1", "tab-a")
	if again := r.GetOrCreate("learner-1", "tab-a"); again != a {
		t.Fatal("expected the same session for the same tab")
	}
	if other := r.GetOrCreate("learner-1", "tab-b"); other == a {
		t.Fatal("expected a distinct session per tab")
	}
	if got := r.Get("learner-2", "tab-a"); got != nil {
		t.Fatal("expected no session for unknown learner")
	}
	if r.Count() != 2 || len(created) != 2 {
		t.Fatalf("Count() = %d created = %d, want 2", r.Count(), len(created))
	}

	r.Remove("learner-1", "tab-a")
	if !created["learner-1:tab-a"].isClosed() {
		t.Fatal("Remove should close the session")
	}
	if r.Get("learner-1", "tab-a") != nil || r.Count() != 1 {
		t.Fatal("session still registered after Remove")
	}
}

func TestPruneClosesOnlyIdleSessions(t *testing.T) {
	t.Parallel()

	r, created := newTestRegistry(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }

	var removed []string
	r.OnRemove(func(learnerID, tabID string) { removed = append(removed, learnerID+":"+tabID) })

	r.GetOrCreate("learner-1", "idle")
	r.GetOrCreate("learner-1", "live")
	created["learner-1:live"].status = domain.StatusConnected

	if n := r.Prune(); n != 0 {
		t.Fatalf("Prune() = %d before ttl, want 0", n)
	}

	now = now.Add(2 * time.Minute)
	if n := r.Prune(); n != 1 {
		t.Fatalf("Prune() = %d, want 1", n)
	}
	if !created["learner-1:idle"].isClosed() || created["learner-1:live"].isClosed() {
		t.Fatal("expected only the idle session closed")
	}
	if r.Get("learner-1", "live") == nil {
		t.Fatal("live session should remain registered")
	}
	if len(removed) != 1 || removed[0] != "learner-1:idle" {
		t.Fatalf("removed = %v", removed)
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	r, created := newTestRegistry(time.Minute)
	r.GetOrCreate("learner-1", "tab-a")
	r.GetOrCreate("learner-2", "tab-a")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.CloseAll(ctx)

	for key, s := range created {
		if !s.isClosed() {
			t.Errorf("session %s not closed", key)
		}
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d after CloseAll", r.Count())
	}
	if r.GetOrCreate("learner-3", "tab-a") != nil {
		t.Fatal("registry accepted a session after CloseAll")
	}
}
