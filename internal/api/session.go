package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/identity"
	"github.com/ashureev/tutorlive/internal/registry"
	"github.com/ashureev/tutorlive/internal/store"
	"github.com/ashureev/tutorlive/internal/tutor"
	"github.com/go-chi/chi/v5"
)

const (
	defaultStartTimeout = 45 * time.Second
	defaultEndTimeout   = 30 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// SessionHandler serves the live session control endpoints.
type SessionHandler struct {
	*Handler
	limiter *RateLimiter
	broker  *Broker
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler, limiter *RateLimiter, broker *Broker) *SessionHandler {
	return &SessionHandler{Handler: base, limiter: limiter, broker: broker}
}

// RegisterRoutes registers session routes (requires identity middleware).
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/start", h.Start)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/end", h.End)
		r.Post("/restart", h.Restart)
		if h.broker != nil {
			r.Get("/stream", h.broker.HandleStream)
		}
	})
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/history", h.History)
		r.Get("/{sessionID}/artifact", h.Artifact)
	})
	r.Get("/api/me", h.Me)
}

type sessionView struct {
	State            domain.SessionState `json:"state"`
	RestartAvailable bool                `json:"restart_available"`
}

func viewOf(s registry.Session) sessionView {
	return sessionView{State: s.Snapshot(), RestartAvailable: s.RestartAvailable()}
}

func learnerTab(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return learnerID, identity.TabIDFromContext(r.Context()), true
}

// Get returns the current session state for the caller's tab.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	learnerID, tabID, ok := learnerTab(w, r)
	if !ok {
		return
	}
	s := h.sessions.Get(learnerID, tabID)
	if s == nil {
		JSON(w, http.StatusOK, sessionView{State: domain.NewSessionState()})
		return
	}
	JSON(w, http.StatusOK, viewOf(s))
}

// Start connects a new session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	learnerID, tabID, ok := learnerTab(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(learnerID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	s := h.sessions.GetOrCreate(learnerID, tabID)
	if s == nil {
		Error(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultStartTimeout)
	defer cancel()

	slog.Info("Session start requested", "learner_id", learnerID, "tab_id", tabID)
	if err := s.Start(ctx, learnerID); err != nil {
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, viewOf(s))
}

// Pause pauses the caller's live session.
func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(s registry.Session) error { return s.Pause() })
}

// Resume resumes the caller's paused session.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(s registry.Session) error { return s.Resume() })
}

// Restart discards the caller's session and starts a fresh one.
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(s registry.Session) error {
		ctx, cancel := context.WithTimeout(r.Context(), defaultStartTimeout)
		defer cancel()
		return s.Restart(ctx)
	})
}

func (h *SessionHandler) control(w http.ResponseWriter, r *http.Request, op func(registry.Session) error) {
	learnerID, tabID, ok := learnerTab(w, r)
	if !ok {
		return
	}
	s := h.sessions.Get(learnerID, tabID)
	if s == nil {
		Error(w, http.StatusConflict, "no active session")
		return
	}
	if err := op(s); err != nil {
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, viewOf(s))
}

// End ends the caller's session and returns the submitted artifact.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	learnerID, tabID, ok := learnerTab(w, r)
	if !ok {
		return
	}
	s := h.sessions.Get(learnerID, tabID)
	if s == nil {
		JSON(w, http.StatusOK, map[string]any{"artifact": nil})
		return
	}

	// Ending must complete even if the browser goes away mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), defaultEndTimeout)
	defer cancel()

	artifact, err := s.End(ctx)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"artifact": artifact})
}

// History lists the caller's past sessions, newest first.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	learnerID, _, ok := learnerTab(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.repo.ListSessions(r.Context(), learnerID, limit)
	if err != nil {
		slog.Error("Failed to list sessions", "learner_id", learnerID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if records == nil {
		records = []*domain.SessionRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// Artifact returns the artifact of one of the caller's completed sessions.
func (h *SessionHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	learnerID, _, ok := learnerTab(w, r)
	if !ok {
		return
	}
	artifact, err := h.repo.GetArtifact(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && artifact.LearnerID != learnerID) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load artifact", "learner_id", learnerID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, artifact)
}

// Me returns the caller's learner profile.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	learnerID, tabID, ok := learnerTab(w, r)
	if !ok {
		return
	}
	profile, err := h.repo.GetLearner(r.Context(), learnerID)
	if err != nil {
		slog.Error("Failed to load learner", "learner_id", learnerID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load learner")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"learner_id":   learnerID,
		"display_name": identity.DisplayNameFromContext(r.Context()),
		"tab_id":       tabID,
		"profile":      profile,
	})
}

func writeSessionError(w http.ResponseWriter, err error) {
	var connErr *tutor.ConnectionError
	switch {
	case errors.As(err, &connErr):
		JSON(w, http.StatusBadGateway, map[string]string{"error": connErr.Error(), "stage": connErr.Stage})
	case errors.Is(err, tutor.ErrSessionActive),
		errors.Is(err, tutor.ErrNotConnected),
		errors.Is(err, tutor.ErrNotPaused),
		errors.Is(err, tutor.ErrRestartUnavailable):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, tutor.ErrClosed):
		Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Error(w, http.StatusGatewayTimeout, "session request timed out")
	default:
		slog.Error("Session operation failed", "error", err)
		Error(w, http.StatusInternalServerError, "session operation failed")
	}
}
