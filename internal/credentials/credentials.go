// Package credentials issues the short-lived credential a session uses to
// reach the conversational engine, together with the learner's profile
// snapshot and initial topic set.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

// DefaultBaseURL is the engine's REST endpoint.
const DefaultBaseURL = "https://api.openai.com"

// ErrMintFailed is returned when the engine refuses to mint a credential.
var ErrMintFailed = errors.New("credentials: mint failed")

// DefaultTopics are offered to learners with no suggested topics on file.
var DefaultTopics = []domain.Topic{
	{Title: "Why do leaves change color in the fall?", Description: "Pigments, sunlight and the seasons."},
	{Title: "Should kids be allowed to vote?", Description: "Weighing fairness, maturity and evidence."},
	{Title: "How do we know the Earth is round?", Description: "Clues people used long before satellites."},
	{Title: "Is it ever okay to break a rule?", Description: "Rules, reasons and exceptions."},
}

// LearnerStore is the slice of the store used to load or create profiles.
type LearnerStore interface {
	GetLearner(ctx context.Context, learnerID string) (*domain.LearnerProfile, error)
	UpsertLearner(ctx context.Context, learner *domain.LearnerProfile) error
	UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error
}

// Config configures the Minter.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Voice      string
	HTTPClient *http.Client
}

// Minter mints ephemeral engine credentials over HTTP.
type Minter struct {
	cfg      Config
	learners LearnerStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewMinter creates a Minter. learners may be nil, in which case sessions
// start without a profile and with the default topics.
func NewMinter(cfg Config, learners LearnerStore, logger *slog.Logger) *Minter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Minter{cfg: cfg, learners: learners, logger: logger, now: time.Now}
}

type mintRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type mintResponse struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Issue mints a credential for learnerID and attaches the profile and topics.
func (m *Minter) Issue(ctx context.Context, learnerID string) (*domain.Credential, error) {
	if learnerID == "" {
		return nil, errors.New("credentials: learner id is required")
	}

	profile := m.loadProfile(ctx, learnerID)

	cred, err := m.mint(ctx)
	if err != nil {
		return nil, err
	}

	cred.Profile = profile
	cred.Topics = DefaultTopics
	if profile != nil && len(profile.Topics) > 0 {
		cred.Topics = profile.Topics
	}

	m.logger.Info("Credential issued", "learner_id", learnerID, "model", cred.Model, "expires_at", cred.ExpiresAt)
	return cred, nil
}

func (m *Minter) mint(ctx context.Context) (*domain.Credential, error) {
	if m.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", ErrMintFailed)
	}

	body, err := json.Marshal(mintRequest{Model: m.cfg.Model, Voice: m.cfg.Voice})
	if err != nil {
		return nil, fmt.Errorf("encode mint request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrMintFailed, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr apiError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrMintFailed, resp.StatusCode, msg)
	}

	var out mintResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrMintFailed, err)
	}
	if out.ClientSecret.Value == "" {
		return nil, fmt.Errorf("%w: response carried no client secret", ErrMintFailed)
	}

	cred := &domain.Credential{
		Token: out.ClientSecret.Value,
		Model: out.Model,
		Voice: out.Voice,
	}
	if cred.Model == "" {
		cred.Model = m.cfg.Model
	}
	if cred.Voice == "" {
		cred.Voice = m.cfg.Voice
	}
	if out.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(out.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}

// loadProfile returns the learner's profile, creating an empty one on first
// visit. Store failures are logged and the session proceeds without a profile.
func (m *Minter) loadProfile(ctx context.Context, learnerID string) *domain.LearnerProfile {
	if m.learners == nil {
		return nil
	}

	profile, err := m.learners.GetLearner(ctx, learnerID)
	if err != nil {
		m.logger.Warn("Failed to load learner profile", "learner_id", learnerID, "error", err)
		return nil
	}

	now := m.now()
	if profile == nil {
		profile = &domain.LearnerProfile{
			LearnerID:  learnerID,
			Topics:     DefaultTopics,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := m.learners.UpsertLearner(ctx, profile); err != nil {
			m.logger.Warn("Failed to create learner profile", "learner_id", learnerID, "error", err)
		}
		return profile
	}

	if err := m.learners.UpdateLastSeen(ctx, learnerID, now); err != nil {
		m.logger.Warn("Failed to update last seen", "learner_id", learnerID, "error", err)
	}
	profile.LastSeenAt = now
	return profile
}
