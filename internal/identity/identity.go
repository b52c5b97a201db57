// Package identity provides anonymous per-device learner identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
)

const (
	LearnerCookieName = "tutor_learner_id"
	TabHeaderName     = "X-Tutor-Session-ID"
	DefaultTabID      = "default"
	learnerCookieAge  = 180 * 24 * time.Hour
)

type contextKey int

const (
	learnerIDKey contextKey = iota
	displayNameKey
	tabIDKey
)

var (
	learnerIDPattern = regexp.MustCompile(`^learner_[a-f0-9]{32}$`)
	tabIDPattern     = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// LearnerStore is the store surface the middleware needs.
type LearnerStore interface {
	GetLearner(ctx context.Context, learnerID string) (*domain.LearnerProfile, error)
	UpsertLearner(ctx context.Context, learner *domain.LearnerProfile) error
}

// LearnerIDFromContext extracts the learner ID from the request context.
func LearnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(learnerIDKey).(string); ok {
		return v
	}
	return ""
}

// DisplayNameFromContext extracts the learner's display name from the request context.
func DisplayNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(displayNameKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// WithLearner returns a context carrying the given identity.
func WithLearner(ctx context.Context, learnerID, tabID string) context.Context {
	ctx = context.WithValue(ctx, learnerIDKey, learnerID)
	ctx = context.WithValue(ctx, displayNameKey, deriveDisplayName(learnerID))
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

func generateLearnerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate learner id: %w", err)
	}
	return "learner_" + hex.EncodeToString(buf), nil
}

func isValidLearnerID(id string) bool {
	return learnerIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func deriveDisplayName(learnerID string) string {
	if len(learnerID) > 16 {
		return "learner-" + learnerID[len(learnerID)-6:]
	}
	return "learner"
}

func ensureLearner(ctx context.Context, learners LearnerStore, learnerID string) error {
	learner, err := learners.GetLearner(ctx, learnerID)
	if err != nil {
		return err
	}
	if learner != nil {
		return nil
	}

	now := time.Now()
	return learners.UpsertLearner(ctx, &domain.LearnerProfile{
		LearnerID:   learnerID,
		DisplayName: deriveDisplayName(learnerID),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func setLearnerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     LearnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(learnerCookieAge.Seconds()),
		Expires:  time.Now().Add(learnerCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateLearnerID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(LearnerCookieName); err == nil && isValidLearnerID(c.Value) {
		setLearnerCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateLearnerID()
	if err != nil {
		return "", err
	}
	setLearnerCookie(w, id, isDev)
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tab := r.Header.Get(TabHeaderName)
	if tab == "" {
		tab = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tab)
}

// Middleware injects the anonymous learner identity and per-request tab ID.
func Middleware(learners LearnerStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			learnerID, err := getOrCreateLearnerID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish learner identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureLearner(r.Context(), learners, learnerID); err != nil {
				http.Error(w, `{"error":"failed to initialize learner"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithLearner(r.Context(), learnerID, tabIDFromRequest(r))))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
