package store

import (
	"database/sql"
	"fmt"
)

// PRRecordRow is the raw persisted form of one PR-DO instance. The
// reviewer queue and history are stored as opaque JSON blobs; internal/prdo
// owns their shape and (de)serialization, keeping this package ignorant of
// PR-DO's domain types per the "sync coordinator/PR state machine live in
// different scheduling units" design note.
type PRRecordRow struct {
	RepoID           string
	PRNumber         int
	HeadRef          string
	BaseRef          string
	Author           string
	State            string
	MergeType        string
	ReviewerQueue    string // JSON
	History          string // JSON
	LastChangesReqAt string // RFC3339, empty if never set
	LastHeadCommitAt string // RFC3339, empty if never set
}

// SavePRRecord inserts or replaces one PR-DO row.
func (s *Store) SavePRRecord(r PRRecordRow) error {
	_, err := s.db.Exec(`
		INSERT INTO pr_records (repo_id, pr_number, head_ref, base_ref, author, state, merge_type, reviewer_queue, history, last_changes_req_at, last_head_commit_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, pr_number) DO UPDATE SET
			head_ref=excluded.head_ref, base_ref=excluded.base_ref, author=excluded.author,
			state=excluded.state, merge_type=excluded.merge_type,
			reviewer_queue=excluded.reviewer_queue, history=excluded.history,
			last_changes_req_at=excluded.last_changes_req_at, last_head_commit_at=excluded.last_head_commit_at,
			updated_at=excluded.updated_at
	`, r.RepoID, r.PRNumber, r.HeadRef, r.BaseRef, r.Author, r.State, r.MergeType, r.ReviewerQueue, r.History,
		r.LastChangesReqAt, r.LastHeadCommitAt, nowRFC3339())
	if err != nil {
		return fmt.Errorf("save pr record: %w", err)
	}
	return nil
}

// GetPRRecord looks up one PR-DO row, returning (zero, false, nil) if
// absent.
func (s *Store) GetPRRecord(repoID string, prNumber int) (PRRecordRow, bool, error) {
	var r PRRecordRow
	err := s.db.QueryRow(`
		SELECT repo_id, pr_number, head_ref, base_ref, author, state, merge_type, reviewer_queue, history, last_changes_req_at, last_head_commit_at
		FROM pr_records WHERE repo_id = ? AND pr_number = ?
	`, repoID, prNumber).Scan(&r.RepoID, &r.PRNumber, &r.HeadRef, &r.BaseRef, &r.Author, &r.State, &r.MergeType, &r.ReviewerQueue, &r.History,
		&r.LastChangesReqAt, &r.LastHeadCommitAt)
	if err == sql.ErrNoRows {
		return PRRecordRow{}, false, nil
	}
	if err != nil {
		return PRRecordRow{}, false, fmt.Errorf("get pr record: %w", err)
	}
	return r, true, nil
}
