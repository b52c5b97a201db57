package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

func newTestStore(t *testing.T) (*SQLiteStore, *time.Time) {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "tutor.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("sess-%d", n)
	}
	return s, &now
}

func TestLearnerRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetLearner(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("GetLearner(missing) = %v, %v; want nil, nil", got, err)
	}

	in := &domain.LearnerProfile{
		LearnerID:   "learner-1",
		DisplayName: "Ada",
		GradeLevel:  "7",
		Interests:   []string{"trains"},
		Topics:      []domain.Topic{{Title: "Bridges", Description: "why they stand"}},
	}
	if err := s.UpsertLearner(ctx, in); err != nil {
		t.Fatalf("UpsertLearner() error = %v", err)
	}
	got, err = s.GetLearner(ctx, "learner-1")
	if err != nil {
		t.Fatalf("GetLearner() error = %v", err)
	}
	if got.DisplayName != "Ada" || len(got.Interests) != 1 || len(got.Topics) != 1 || got.Topics[0].Title != "Bridges" {
		t.Fatalf("learner = %+v", got)
	}
	if len(got.OpenLoops) != 0 || got.SessionCount != 0 {
		t.Fatalf("new learner has history: %+v", got)
	}

	in.DisplayName = "Ada L."
	if err := s.UpsertLearner(ctx, in); err != nil {
		t.Fatalf("second UpsertLearner() error = %v", err)
	}
	got, _ = s.GetLearner(ctx, "learner-1")
	if got.DisplayName != "Ada L." {
		t.Fatalf("display name = %q after update", got.DisplayName)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertLearner(ctx, &domain.LearnerProfile{LearnerID: "learner-1"}); err != nil {
		t.Fatalf("UpsertLearner() error = %v", err)
	}
	id, err := s.CreateSession(ctx, "learner-1")
	if err != nil || id != "sess-1" {
		t.Fatalf("CreateSession() = %q, %v", id, err)
	}
	rec, err := s.GetSession(ctx, id)
	if err != nil || rec.Status != domain.SessionRecordCreated || rec.CompletedAt != nil {
		t.Fatalf("GetSession() = %+v, %v", rec, err)
	}
	if _, err := s.GetArtifact(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetArtifact() before completion error = %v, want ErrNotFound", err)
	}

	artifact := &domain.SessionArtifact{
		SessionID:       id,
		LearnerID:       "learner-1",
		Transcript:      []domain.TranscriptEntry{{Role: domain.RoleUser, Text: "hi", Timestamp: *now}},
		OpenLoops:       []domain.OpenLoop{{Question: "Do fish sleep?"}},
		DurationSeconds: 600,
		FinalPhase:      domain.PhaseTransfer,
		SelectedTopic:   "Bridges",
		EndReason:       domain.EndReasonUser,
		StartedAt:       now.Add(-10 * time.Minute),
		EndedAt:         *now,
	}
	if err := s.CompleteSession(ctx, artifact); err != nil {
		t.Fatalf("CompleteSession() error = %v", err)
	}
	// A repeated submission must not double count.
	if err := s.CompleteSession(ctx, artifact); err != nil {
		t.Fatalf("second CompleteSession() error = %v", err)
	}

	rec, err = s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec.Status != domain.SessionRecordCompleted || rec.FinalPhase != domain.PhaseTransfer ||
		rec.DurationSeconds != 600 || rec.EndReason != domain.EndReasonUser || rec.CompletedAt == nil {
		t.Fatalf("completed record = %+v", rec)
	}

	got, err := s.GetArtifact(ctx, id)
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if got.SelectedTopic != "Bridges" || len(got.Transcript) != 1 || got.Transcript[0].Text != "hi" {
		t.Fatalf("artifact = %+v", got)
	}

	learner, _ := s.GetLearner(ctx, "learner-1")
	if learner.SessionCount != 1 || len(learner.OpenLoops) != 1 {
		t.Fatalf("learner after completion = %+v", learner)
	}
}

func TestCompleteSessionCreatesMissingLearner(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateSession(ctx, "learner-new")
	if err := s.CompleteSession(ctx, &domain.SessionArtifact{SessionID: id, LearnerID: "learner-new"}); err != nil {
		t.Fatalf("CompleteSession() error = %v", err)
	}
	learner, err := s.GetLearner(ctx, "learner-new")
	if err != nil || learner == nil || learner.SessionCount != 1 {
		t.Fatalf("learner = %+v, %v", learner, err)
	}
}

func TestCompleteUnknownSession(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	err := s.CompleteSession(context.Background(), &domain.SessionArtifact{SessionID: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("CompleteSession() error = %v, want ErrNotFound", err)
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	base := *now
	for i, learner := range []string{"a", "b", "a"} {
		t0 := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return t0 }
		if _, err := s.CreateSession(ctx, learner); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}

	all, err := s.ListSessions(ctx, "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListSessions(all) = %d, %v", len(all), err)
	}
	if all[0].SessionID != "sess-3" || all[2].SessionID != "sess-1" {
		t.Fatalf("order = %s..%s, want newest first", all[0].SessionID, all[2].SessionID)
	}

	mine, err := s.ListSessions(ctx, "a", 1)
	if err != nil || len(mine) != 1 || mine[0].SessionID != "sess-3" {
		t.Fatalf("ListSessions(a, 1) = %+v, %v", mine, err)
	}
}

func TestMarkAbandonedSessions(t *testing.T) {
	t.Parallel()
	s, now := newTestStore(t)
	ctx := context.Background()

	start := *now
	s.now = func() time.Time { return start }
	stale, _ := s.CreateSession(ctx, "a")
	done, _ := s.CreateSession(ctx, "a")
	if err := s.CompleteSession(ctx, &domain.SessionArtifact{SessionID: done, LearnerID: "a"}); err != nil {
		t.Fatalf("CompleteSession() error = %v", err)
	}

	later := start.Add(3 * time.Hour)
	s.now = func() time.Time { return later }
	fresh, _ := s.CreateSession(ctx, "a")

	n, err := s.MarkAbandonedSessions(ctx, 2*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("MarkAbandonedSessions() = %d, %v; want 1", n, err)
	}
	for id, want := range map[string]domain.SessionRecordStatus{
		stale: domain.SessionRecordAbandoned,
		done:  domain.SessionRecordCompleted,
		fresh: domain.SessionRecordCreated,
	} {
		rec, err := s.GetSession(ctx, id)
		if err != nil || rec.Status != want {
			t.Fatalf("session %s = %+v, %v; want %s", id, rec, err, want)
		}
	}
}

func TestMergeOpenLoops(t *testing.T) {
	t.Parallel()
	existing := []domain.OpenLoop{{Question: "Why is ice slippery?"}}
	added := []domain.OpenLoop{
		{Question: "why is ice slippery? "},
		{Question: ""},
		{Question: "Can plants hear?"},
	}
	got := MergeOpenLoops(existing, added)
	if len(got) != 2 || got[1].Question != "Can plants hear?" {
		t.Fatalf("merged = %+v", got)
	}

	var many []domain.OpenLoop
	for i := 0; i < MaxOpenLoops+5; i++ {
		many = append(many, domain.OpenLoop{Question: fmt.Sprintf("q%d", i)})
	}
	got = MergeOpenLoops(nil, many)
	if len(got) != MaxOpenLoops || got[0].Question != "q5" {
		t.Fatalf("capped merge = %d entries starting %q", len(got), got[0].Question)
	}
}
