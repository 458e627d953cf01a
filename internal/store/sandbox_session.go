package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SandboxSessionRow is the persisted metadata for one sandbox session.
// The live process handle and stream plumbing stay in-memory in
// internal/sandbox; only what's needed to detect and sweep expired
// sessions after a restart lives here.
type SandboxSessionRow struct {
	ID           string
	Container    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// SaveSandboxSession inserts or replaces a session row.
func (s *Store) SaveSandboxSession(r SandboxSessionRow) error {
	_, err := s.db.Exec(`
		INSERT INTO sandbox_sessions (id, container, created_at, last_active_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_active_at=excluded.last_active_at, expires_at=excluded.expires_at
	`, r.ID, r.Container, formatTime(r.CreatedAt), formatTime(r.LastActiveAt), formatTime(r.ExpiresAt))
	if err != nil {
		return fmt.Errorf("save sandbox session: %w", err)
	}
	return nil
}

// TouchSandboxSession extends a session's expiry, the bookkeeping side of
// the TTL-refresh-on-activity rule.
func (s *Store) TouchSandboxSession(id string, lastActive, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sandbox_sessions SET last_active_at = ?, expires_at = ? WHERE id = ?
	`, formatTime(lastActive), formatTime(expiresAt), id)
	if err != nil {
		return fmt.Errorf("touch sandbox session: %w", err)
	}
	return nil
}

// DeleteSandboxSession removes a session row, called once its process has
// been torn down.
func (s *Store) DeleteSandboxSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sandbox_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sandbox session: %w", err)
	}
	return nil
}

// ExpiredSandboxSessions returns sessions whose expiry has passed as of
// asOf, the query the reaper loop polls.
func (s *Store) ExpiredSandboxSessions(asOf time.Time) ([]SandboxSessionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, container, created_at, last_active_at, expires_at
		FROM sandbox_sessions WHERE expires_at <= ?
	`, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("expired sandbox sessions: %w", err)
	}
	defer rows.Close()

	var out []SandboxSessionRow
	for rows.Next() {
		var r SandboxSessionRow
		var created, lastActive, expires string
		if err := rows.Scan(&r.ID, &r.Container, &created, &lastActive, &expires); err != nil {
			return nil, fmt.Errorf("scan sandbox session: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		r.LastActiveAt, _ = time.Parse(time.RFC3339Nano, lastActive)
		r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expires)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSandboxSession looks up one session by ID.
func (s *Store) GetSandboxSession(id string) (SandboxSessionRow, bool, error) {
	var r SandboxSessionRow
	var created, lastActive, expires string
	err := s.db.QueryRow(`
		SELECT id, container, created_at, last_active_at, expires_at
		FROM sandbox_sessions WHERE id = ?
	`, id).Scan(&r.ID, &r.Container, &created, &lastActive, &expires)
	if err == sql.ErrNoRows {
		return SandboxSessionRow{}, false, nil
	}
	if err != nil {
		return SandboxSessionRow{}, false, fmt.Errorf("get sandbox session: %w", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.LastActiveAt, _ = time.Parse(time.RFC3339Nano, lastActive)
	r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expires)
	return r, true, nil
}
