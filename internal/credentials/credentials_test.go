package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

type fakeLearners struct {
	mu       sync.Mutex
	profiles map[string]*domain.LearnerProfile
	getErr   error
	upserts  int
	seen     int
}

func (f *fakeLearners) GetLearner(_ context.Context, id string) (*domain.LearnerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.profiles[id], nil
}

func (f *fakeLearners) UpsertLearner(_ context.Context, l *domain.LearnerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profiles == nil {
		f.profiles = make(map[string]*domain.LearnerProfile)
	}
	f.profiles[l.LearnerID] = l
	f.upserts++
	return nil
}

func (f *fakeLearners) UpdateLastSeen(context.Context, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen++
	return nil
}

func newMintServer(t *testing.T, status int, body string) (*httptest.Server, *mintRequest) {
	t.Helper()
	var got mintRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/realtime/sessions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

const okBody = `{"model":"gpt-realtime","voice":"verse","client_secret":{"value":"ek_123","expires_at":1900000000}}`

func TestIssueNewLearner(t *testing.T) {
	t.Parallel()

	srv, got := newMintServer(t, http.StatusOK, okBody)
	learners := &fakeLearners{}
	m := NewMinter(Config{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "gpt-realtime", Voice: "verse"}, learners, nil)

	cred, err := m.Issue(context.Background(), "learner-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if cred.Token != "ek_123" || cred.Model != "gpt-realtime" || cred.Voice != "verse" {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if !cred.ExpiresAt.Equal(time.Unix(1900000000, 0)) {
		t.Errorf("ExpiresAt = %v", cred.ExpiresAt)
	}
	if got.Model != "gpt-realtime" || got.Voice != "verse" {
		t.Errorf("request body = %+v", got)
	}
	if cred.Profile == nil || cred.Profile.LearnerID != "learner-1" {
		t.Fatalf("expected a fresh profile, got %+v", cred.Profile)
	}
	if len(cred.Topics) != len(DefaultTopics) {
		t.Errorf("topics = %d, want defaults", len(cred.Topics))
	}
	if learners.upserts != 1 {
		t.Errorf("upserts = %d, want 1", learners.upserts)
	}
}

func TestIssueReturningLearnerUsesStoredTopics(t *testing.T) {
	t.Parallel()

	srv, _ := newMintServer(t, http.StatusOK, okBody)
	learners := &fakeLearners{profiles: map[string]*domain.LearnerProfile{
		"learner-2": {
			LearnerID:   "learner-2",
			DisplayName: "Ada",
			Topics:      []domain.Topic{{Title: "Black holes"}},
		},
	}}
	m := NewMinter(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-realtime"}, learners, nil)

	cred, err := m.Issue(context.Background(), "learner-2")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if cred.Profile.DisplayName != "Ada" {
		t.Errorf("profile = %+v", cred.Profile)
	}
	if len(cred.Topics) != 1 || cred.Topics[0].Title != "Black holes" {
		t.Errorf("topics = %+v", cred.Topics)
	}
	if learners.seen != 1 || learners.upserts != 0 {
		t.Errorf("seen = %d upserts = %d", learners.seen, learners.upserts)
	}
}

func TestIssueProfileLoadFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	srv, _ := newMintServer(t, http.StatusOK, okBody)
	m := NewMinter(Config{BaseURL: srv.URL, APIKey: "sk-test"}, &fakeLearners{getErr: errors.New("disk full")}, nil)

	cred, err := m.Issue(context.Background(), "learner-3")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if cred.Profile != nil {
		t.Errorf("expected no profile, got %+v", cred.Profile)
	}
	if len(cred.Topics) != len(DefaultTopics) {
		t.Errorf("expected default topics")
	}
}

func TestIssueMintFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		apiKey string
	}{
		{name: "no api key", status: http.StatusOK, body: okBody},
		{name: "engine error", status: http.StatusTooManyRequests, body: `{"error":{"message":"rate limited"}}`, apiKey: "sk-test"},
		{name: "wrong key", status: http.StatusOK, body: okBody, apiKey: "sk-other"},
		{name: "missing secret", status: http.StatusOK, body: `{"model":"m"}`, apiKey: "sk-test"},
		{name: "bad json", status: http.StatusOK, body: `not json`, apiKey: "sk-test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newMintServer(t, tt.status, tt.body)
			m := NewMinter(Config{BaseURL: srv.URL, APIKey: tt.apiKey}, nil, nil)
			if _, err := m.Issue(context.Background(), "learner-4"); !errors.Is(err, ErrMintFailed) {
				t.Fatalf("err = %v, want ErrMintFailed", err)
			}
		})
	}
}

func TestIssueRequiresLearner(t *testing.T) {
	t.Parallel()

	m := NewMinter(Config{APIKey: "sk-test"}, nil, nil)
	if _, err := m.Issue(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty learner id")
	}
}
