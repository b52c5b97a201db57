// Package registry tracks the live tutoring orchestrators of each learner.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/tutor"
)

// Session is the subset of *tutor.Orchestrator the registry manages.
type Session interface {
	Start(ctx context.Context, learnerID string) error
	Pause() error
	Resume() error
	End(ctx context.Context) (*domain.SessionArtifact, error)
	Restart(ctx context.Context) error
	Snapshot() domain.SessionState
	RestartAvailable() bool
	Close() error
}

var _ Session = (*tutor.Orchestrator)(nil)

// Factory builds the orchestrator for one learner tab.
type Factory func(learnerID, tabID string) Session

// Registry manages one orchestrator per learner and browser tab.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]map[string]*entry
	factory  Factory
	idleTTL  time.Duration
	onRemove func(learnerID, tabID string)
	now      func() time.Time
	shutdown bool
}

type entry struct {
	session  Session
	lastUsed time.Time
}

// New creates a registry. Orchestrators idle for longer than idleTTL are
// closed by Prune.
func New(factory Factory, idleTTL time.Duration) *Registry {
	return &Registry{
		active:  make(map[string]map[string]*entry),
		factory: factory,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// OnRemove registers fn to run after a learner tab's orchestrator is closed
// by Remove or Prune.
func (r *Registry) OnRemove(fn func(learnerID, tabID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

// Get returns the orchestrator for a learner tab, or nil.
func (r *Registry) Get(learnerID, tabID string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tabs, ok := r.active[learnerID]; ok {
		if e, ok := tabs[tabID]; ok {
			e.lastUsed = r.now()
			return e.session
		}
	}
	return nil
}

// GetOrCreate returns the orchestrator for a learner tab, creating it on
// first use. It returns nil once the registry has been shut down.
func (r *Registry) GetOrCreate(learnerID, tabID string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil
	}

	if _, exists := r.active[learnerID]; !exists {
		r.active[learnerID] = make(map[string]*entry)
	}
	if e, exists := r.active[learnerID][tabID]; exists {
		e.lastUsed = r.now()
		return e.session
	}

	s := r.factory(learnerID, tabID)
	r.active[learnerID][tabID] = &entry{session: s, lastUsed: r.now()}
	slog.Info("Tutor session registered", "learner_id", learnerID, "tab_id", tabID)
	return s
}

// Remove closes and forgets the orchestrator for a learner tab.
func (r *Registry) Remove(learnerID, tabID string) {
	r.mu.Lock()
	var s Session
	if tabs, ok := r.active[learnerID]; ok {
		if e, exists := tabs[tabID]; exists {
			s = e.session
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(r.active, learnerID)
			}
		}
	}
	onRemove := r.onRemove
	r.mu.Unlock()

	if s != nil {
		closeSession(s, learnerID, tabID)
		if onRemove != nil {
			onRemove(learnerID, tabID)
		}
		slog.Info("Tutor session unregistered", "learner_id", learnerID, "tab_id", tabID)
	}
}

// Count returns the number of registered orchestrators.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, tabs := range r.active {
		n += len(tabs)
	}
	return n
}

// Prune closes idle orchestrators unused for longer than the idle TTL and
// returns how many were closed.
func (r *Registry) Prune() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTTL)

	type victim struct {
		learnerID, tabID string
		session          Session
	}
	var victims []victim

	r.mu.Lock()
	for learnerID, tabs := range r.active {
		for tabID, e := range tabs {
			st := e.session.Snapshot().Status
			if e.lastUsed.After(cutoff) || (st != domain.StatusIdle && st != domain.StatusError) {
				continue
			}
			victims = append(victims, victim{learnerID, tabID, e.session})
			delete(tabs, tabID)
		}
		if len(tabs) == 0 {
			delete(r.active, learnerID)
		}
	}
	onRemove := r.onRemove
	r.mu.Unlock()

	for _, v := range victims {
		closeSession(v.session, v.learnerID, v.tabID)
		if onRemove != nil {
			onRemove(v.learnerID, v.tabID)
		}
	}
	if len(victims) > 0 {
		slog.Info("Pruned idle tutor sessions", "count", len(victims))
	}
	return len(victims)
}

// StartPruner runs Prune every interval until ctx is cancelled.
func (r *Registry) StartPruner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Registry pruner stopped")
				return
			case <-ticker.C:
				r.Prune()
			}
		}
	}()
}

// CloseAll ends every live session, persisting its artifact, and closes all
// orchestrators. The registry accepts no new sessions afterwards.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	r.shutdown = true
	active := r.active
	r.active = make(map[string]map[string]*entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for learnerID, tabs := range active {
		for tabID, e := range tabs {
			wg.Add(1)
			go func(learnerID, tabID string, s Session) {
				defer wg.Done()
				closeSession(s, learnerID, tabID)
			}(learnerID, tabID, e.session)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("All tutor sessions closed")
	case <-ctx.Done():
		slog.Warn("Timed out closing tutor sessions", "error", ctx.Err())
	}
}

func closeSession(s Session, learnerID, tabID string) {
	if err := s.Close(); err != nil {
		slog.Warn("Failed to close tutor session", "learner_id", learnerID, "tab_id", tabID, "error", err)
	}
}
