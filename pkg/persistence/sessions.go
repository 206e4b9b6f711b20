package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shortlist/pkg/logx"
	"shortlist/pkg/workflow"
)

// Summary describes a stored session for listings.
type Summary struct {
	SessionID   string         `json:"session_id"`
	Phase       workflow.Phase `json:"phase"`
	ProductType string         `json:"product_type"`
	Version     int            `json:"version"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SessionStore implements workflow.Store on SQLite. Each session is one JSON snapshot
// guarded by its version; transcript turns are also appended to a log that survives
// session resets.
type SessionStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewSessionStore creates a store over an open database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, logger: logx.NewLogger("persistence")}
}

// Load implements workflow.Store.
func (s *SessionStore) Load(ctx context.Context, id string) (workflow.SessionState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE session_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.SessionState{}, workflow.ErrSessionNotFound
	}
	if err != nil {
		return workflow.SessionState{}, fmt.Errorf("failed to load session: %w", err)
	}

	var state workflow.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return workflow.SessionState{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return state, nil
}

// Save implements workflow.Store.
func (s *SessionStore) Save(ctx context.Context, state workflow.SessionState, expectedVersion int) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, logged := 0, 0
	err = tx.QueryRowContext(ctx, `SELECT version, turn_count FROM sessions WHERE session_id = ?`, state.ID).Scan(&current, &logged)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read session version: %w", err)
	}
	if current != expectedVersion {
		s.logger.Warn("⚠️  Stale save for %s: stored v%d, expected v%d", state.ID, current, expectedVersion)
		return workflow.ErrStaleState
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, version, phase, product_type, state_json, turn_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			version = excluded.version,
			phase = excluded.phase,
			product_type = excluded.product_type,
			state_json = excluded.state_json,
			turn_count = excluded.turn_count,
			updated_at = excluded.updated_at
	`, state.ID, state.Version, string(state.Phase), state.Requirements.ProductType, string(raw),
		len(state.Transcript), formatTime(state.CreatedAt), formatTime(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	// A reset transcript is shorter than what was logged; all of it is new.
	if logged > len(state.Transcript) {
		logged = 0
	}
	for _, turn := range state.Transcript[logged:] {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)
		`, state.ID, string(turn.Role), turn.Content, formatTime(turn.At)); err != nil {
			return fmt.Errorf("failed to log turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// Delete implements workflow.Store. The turn log is kept.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns the most recently updated sessions first.
func (s *SessionStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, phase, product_type, version, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var phase, updated string
		if err := rows.Scan(&sum.SessionID, &phase, &sum.ProductType, &sum.Version, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.Phase = workflow.Phase(phase)
		sum.UpdatedAt = parseTime(updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

// History returns every logged turn of a session in order, including turns from before
// any reset.
func (s *SessionStore) History(ctx context.Context, id string) ([]workflow.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM turns WHERE session_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []workflow.Turn
	for rows.Next() {
		var role, content, at string
		if err := rows.Scan(&role, &content, &at); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		out = append(out, workflow.Turn{Role: workflow.Role(role), Content: content, At: parseTime(at)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
