package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes multi-statement writes to avoid SQLITE_BUSY
	now     func() time.Time
	newID   func() string
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
		retry: shared.DefaultRetryPolicy,
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS learners (
		learner_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		grade_level TEXT NOT NULL DEFAULT '',
		interests_json TEXT NOT NULL DEFAULT '[]',
		topics_json TEXT NOT NULL DEFAULT '[]',
		open_loops_json TEXT NOT NULL DEFAULT '[]',
		session_count INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		selected_topic TEXT NOT NULL DEFAULT '',
		final_phase TEXT NOT NULL DEFAULT '',
		end_reason TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_learner ON sessions(learner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(created_at) WHERE status = 'created';

	CREATE TABLE IF NOT EXISTS artifacts (
		session_id TEXT PRIMARY KEY,
		artifact_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetLearner retrieves a learner profile.
func (s *SQLiteStore) GetLearner(ctx context.Context, learnerID string) (*domain.LearnerProfile, error) {
	query := `
		SELECT learner_id, display_name, grade_level, interests_json, topics_json,
		       open_loops_json, session_count, last_seen_at, created_at, updated_at
		FROM learners WHERE learner_id = ?`

	row := s.db.QueryRowContext(ctx, query, learnerID)

	var l domain.LearnerProfile
	var interests, topics, loops string
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&l.LearnerID, &l.DisplayName, &l.GradeLevel, &interests, &topics,
		&loops, &l.SessionCount, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan learner row: %w", err)
	}

	if err := decodeJSON(interests, &l.Interests); err != nil {
		return nil, fmt.Errorf("decode interests: %w", err)
	}
	if err := decodeJSON(topics, &l.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := decodeJSON(loops, &l.OpenLoops); err != nil {
		return nil, fmt.Errorf("decode open loops: %w", err)
	}
	l.LastSeenAt = time.Unix(lastSeen, 0)
	l.CreatedAt = time.Unix(createdAt, 0)
	l.UpdatedAt = time.Unix(updatedAt, 0)

	return &l, nil
}

// UpsertLearner creates or updates a learner's profile fields.
func (s *SQLiteStore) UpsertLearner(ctx context.Context, l *domain.LearnerProfile) error {
	if l == nil || l.LearnerID == "" {
		return errors.New("learner id is required")
	}
	query := `
	INSERT INTO learners (learner_id, display_name, grade_level, interests_json, topics_json,
		last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(learner_id) DO UPDATE SET
		display_name = excluded.display_name,
		grade_level = excluded.grade_level,
		interests_json = excluded.interests_json,
		topics_json = excluded.topics_json,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	interests, err := encodeJSON(l.Interests)
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	topics, err := encodeJSON(l.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	now := s.now()
	lastSeen := l.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = now
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return shared.RetryOnConflict(ctx, s.retry, "upsert learner", func() error {
		_, err := s.db.ExecContext(ctx, query,
			l.LearnerID, l.DisplayName, l.GradeLevel, interests, topics,
			lastSeen.Unix(), createdAt.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert learner: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a learner.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error {
	query := `UPDATE learners SET last_seen_at = ?, updated_at = ? WHERE learner_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), learnerID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "learner_id", learnerID)
	}
	return nil
}

// CreateSession records a new session in the created state.
func (s *SQLiteStore) CreateSession(ctx context.Context, learnerID string) (string, error) {
	if learnerID == "" {
		return "", errors.New("learner id is required")
	}
	id := s.newID()
	query := `INSERT INTO sessions (session_id, learner_id, status, created_at) VALUES (?, ?, ?, ?)`

	err := shared.RetryOnConflict(ctx, s.retry, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query, id, learnerID, string(domain.SessionRecordCreated), s.now().Unix())
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CompleteSession stores the artifact and folds it into the learner profile.
// Completing the same session twice only replaces the artifact.
func (s *SQLiteStore) CompleteSession(ctx context.Context, a *domain.SessionArtifact) error {
	if a == nil || a.SessionID == "" {
		return errors.New("artifact without session id")
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, s.retry, "complete session", func() error {
		return s.completeSessionOnce(ctx, a, string(body))
	})
}

func (s *SQLiteStore) completeSessionOnce(ctx context.Context, a *domain.SessionArtifact, body string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("complete session rollback failed", "session_id", a.SessionID, "error", rbErr)
			}
		}
	}()

	var learnerID, status string
	row := tx.QueryRowContext(ctx, `SELECT learner_id, status FROM sessions WHERE session_id = ?`, a.SessionID)
	if err = row.Scan(&learnerID, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", a.SessionID, ErrNotFound)
		}
		return fmt.Errorf("load session: %w", err)
	}

	completedAt := a.EndedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, selected_topic = ?, final_phase = ?, end_reason = ?,
			duration_seconds = ?, completed_at = ?
		WHERE session_id = ?`,
		string(domain.SessionRecordCompleted), a.SelectedTopic, string(a.FinalPhase), string(a.EndReason),
		a.DurationSeconds, completedAt.Unix(), a.SessionID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (session_id, artifact_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET artifact_json = excluded.artifact_json`,
		a.SessionID, body, s.now().Unix(),
	); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	if status != string(domain.SessionRecordCompleted) {
		if err = s.foldIntoLearner(ctx, tx, learnerID, a); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) foldIntoLearner(ctx context.Context, tx *sql.Tx, learnerID string, a *domain.SessionArtifact) error {
	var loopsJSON string
	err := tx.QueryRowContext(ctx, `SELECT open_loops_json FROM learners WHERE learner_id = ?`, learnerID).Scan(&loopsJSON)
	now := s.now().Unix()
	if errors.Is(err, sql.ErrNoRows) {
		loops, encErr := encodeJSON(MergeOpenLoops(nil, a.OpenLoops))
		if encErr != nil {
			return fmt.Errorf("encode open loops: %w", encErr)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO learners (learner_id, open_loops_json, session_count, last_seen_at, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?, ?)`, learnerID, loops, now, now, now)
		if err != nil {
			return fmt.Errorf("insert learner: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load learner: %w", err)
	}

	var existing []domain.OpenLoop
	if err := decodeJSON(loopsJSON, &existing); err != nil {
		return fmt.Errorf("decode open loops: %w", err)
	}
	loops, err := encodeJSON(MergeOpenLoops(existing, a.OpenLoops))
	if err != nil {
		return fmt.Errorf("encode open loops: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE learners SET open_loops_json = ?, session_count = session_count + 1,
			last_seen_at = ?, updated_at = ?
		WHERE learner_id = ?`, loops, now, now, learnerID); err != nil {
		return fmt.Errorf("update learner: %w", err)
	}
	return nil
}

// MergeOpenLoops appends the new loops whose question is not already
// present, keeping at most MaxOpenLoops of the most recent.
func MergeOpenLoops(existing, added []domain.OpenLoop) []domain.OpenLoop {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]domain.OpenLoop, 0, len(existing)+len(added))
	for _, l := range append(append([]domain.OpenLoop(nil), existing...), added...) {
		key := strings.ToLower(strings.TrimSpace(l.Question))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	if len(out) > MaxOpenLoops {
		out = out[len(out)-MaxOpenLoops:]
	}
	return out
}

const sessionColumns = `session_id, learner_id, status, selected_topic, final_phase, end_reason,
		       duration_seconds, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.SessionRecord, error) {
	var r domain.SessionRecord
	var status, phase, reason string
	var createdAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(
		&r.SessionID, &r.LearnerID, &status, &r.SelectedTopic, &phase, &reason,
		&r.DurationSeconds, &createdAt, &completedAt,
	); err != nil {
		return nil, err
	}
	r.Status = domain.SessionRecordStatus(status)
	r.FinalPhase = domain.Phase(phase)
	r.EndReason = domain.EndReason(reason)
	r.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		r.CompletedAt = &ts
	}
	return &r, nil
}

// GetSession retrieves one session record.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return r, nil
}

// GetArtifact retrieves the artifact of a completed session.
func (s *SQLiteStore) GetArtifact(ctx context.Context, sessionID string) (*domain.SessionArtifact, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT artifact_json FROM artifacts WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact row: %w", err)
	}
	var a domain.SessionArtifact
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}

// ListSessions returns sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, learnerID string, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []any{}
	if learnerID != "" {
		query += ` WHERE learner_id = ?`
		args = append(args, learnerID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// MarkAbandonedSessions flags stale sessions that never completed.
func (s *SQLiteStore) MarkAbandonedSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).Unix()
	var affected int64
	err := shared.RetryOnConflict(ctx, s.retry, "mark abandoned", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE status = ? AND created_at < ?`,
			string(domain.SessionRecordAbandoned), string(domain.SessionRecordCreated), threshold)
		if err != nil {
			return fmt.Errorf("mark abandoned sessions: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
