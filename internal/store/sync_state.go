package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncPhase is the per-repository sync coordinator's state per §4.E.
type SyncPhase string

const (
	SyncIdle    SyncPhase = "idle"
	SyncSyncing SyncPhase = "syncing"
	SyncBackoff SyncPhase = "backoff"
)

// SyncState is the persisted snapshot of one repository's sync
// coordinator.
type SyncState struct {
	RepoID      string
	State       SyncPhase
	ErrorCount  int
	LastSuccess time.Time
	LastCommit  string
}

// SyncHistoryEntry is one row of the coordinator's recent-syncs log.
type SyncHistoryEntry struct {
	Source    string
	Action    string
	Timestamp time.Time
}

// LoadSyncState returns a repository's sync state, defaulting to idle
// with zero counters if no row yet exists.
func (s *Store) LoadSyncState(repoID string) (SyncState, error) {
	var st SyncState
	var lastSuccess, lastCommit sql.NullString
	err := s.db.QueryRow(`
		SELECT repo_id, state, error_count, last_success, last_commit
		FROM sync_states WHERE repo_id = ?
	`, repoID).Scan(&st.RepoID, &st.State, &st.ErrorCount, &lastSuccess, &lastCommit)
	if err == sql.ErrNoRows {
		return SyncState{RepoID: repoID, State: SyncIdle}, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("load sync state: %w", err)
	}
	if lastSuccess.Valid {
		st.LastSuccess, _ = time.Parse(time.RFC3339Nano, lastSuccess.String)
	}
	st.LastCommit = lastCommit.String
	return st, nil
}

// SaveSyncState persists a repository's sync state.
func (s *Store) SaveSyncState(st SyncState) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_states (repo_id, state, error_count, last_success, last_commit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			state=excluded.state, error_count=excluded.error_count,
			last_success=excluded.last_success, last_commit=excluded.last_commit,
			updated_at=excluded.updated_at
	`, st.RepoID, string(st.State), st.ErrorCount, formatTime(st.LastSuccess), st.LastCommit, nowRFC3339())
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

// EnqueueSync inserts a pending sync request, collapsing duplicates by
// (repo, dedupeKey) via the UNIQUE constraint, per §4.E's "duplicate
// payloads collapse" contract. Returns whether a new row was inserted.
func (s *Store) EnqueueSync(repoID, kind, dedupeKey, payload string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO sync_queue (repo_id, kind, dedupe_key, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, repoID, kind, dedupeKey, payload, nowRFC3339())
	if err != nil {
		return false, fmt.Errorf("enqueue sync: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DequeueSync pops the oldest pending sync request for a repository, FIFO
// per §5's per-repository serialization rule.
func (s *Store) DequeueSync(repoID string) (id int64, kind, payload string, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT id, kind, payload FROM sync_queue WHERE repo_id = ? ORDER BY id ASC LIMIT 1
	`, repoID)
	err = row.Scan(&id, &kind, &payload)
	if err == sql.ErrNoRows {
		return 0, "", "", false, nil
	}
	if err != nil {
		return 0, "", "", false, fmt.Errorf("dequeue sync: %w", err)
	}
	if _, derr := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); derr != nil {
		return 0, "", "", false, fmt.Errorf("remove dequeued sync: %w", derr)
	}
	return id, kind, payload, true, nil
}

// QueueDepth reports the number of pending sync requests for a repository.
func (s *Store) QueueDepth(repoID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE repo_id = ?`, repoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// RecordSyncHistory appends one entry to a repository's recent-syncs log.
func (s *Store) RecordSyncHistory(repoID string, e SyncHistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_history (repo_id, source, action, timestamp) VALUES (?, ?, ?, ?)
	`, repoID, e.Source, e.Action, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("record sync history: %w", err)
	}
	return nil
}

// RecentSyncHistory returns the most recent n history entries for a
// repository, newest first.
func (s *Store) RecentSyncHistory(repoID string, n int) ([]SyncHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT source, action, timestamp FROM sync_history
		WHERE repo_id = ? ORDER BY id DESC LIMIT ?
	`, repoID, n)
	if err != nil {
		return nil, fmt.Errorf("recent sync history: %w", err)
	}
	defer rows.Close()

	var out []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.Source, &e.Action, &ts); err != nil {
			return nil, fmt.Errorf("scan sync history: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResetSync returns a repository's sync coordinator to idle with zeroed
// counters, the administrative Reset() operation from §4.E.
func (s *Store) ResetSync(repoID string) error {
	return s.SaveSyncState(SyncState{RepoID: repoID, State: SyncIdle})
}

func nowRFC3339() string { return formatTime(timeNow()) }

// timeNow is a package-level indirection so sync tests can freeze time.
var timeNow = func() time.Time { return time.Now() }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
