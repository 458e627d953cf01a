package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devflow-ai/devflow/internal/errkind"
	"github.com/devflow-ai/devflow/internal/issue"
)

// MirrorIssue is the server-side copy of an issue record the three-way
// reconciler treats as the "mirror" side, distinct from the local beads
// file and the forge. It lets the reconciler detect which side actually
// changed a field since the last successful reconciliation, rather than
// only ever comparing local against forge.
type MirrorIssue struct {
	RepoID    string
	Key       string
	Issue     issue.Issue
	UpdatedAt time.Time
}

// SaveMirrorIssue inserts or replaces the mirror record for one issue.
func (s *Store) SaveMirrorIssue(m MirrorIssue) error {
	labels, err := json.Marshal(m.Issue.Labels)
	if err != nil {
		return fmt.Errorf("marshal mirror labels: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO issue_mirror (repo_id, issue_key, forge_num, title, body, status, priority, kind, assignee, labels, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, issue_key) DO UPDATE SET
			forge_num=excluded.forge_num, title=excluded.title, body=excluded.body,
			status=excluded.status, priority=excluded.priority, kind=excluded.kind,
			assignee=excluded.assignee, labels=excluded.labels, updated_at=excluded.updated_at
	`, m.RepoID, m.Key, m.Issue.ForgeNum, m.Issue.Title, m.Issue.Body, string(m.Issue.Status),
		m.Issue.Priority, string(m.Issue.Kind), m.Issue.Assignee, string(labels), m.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save mirror issue: %w", err)
	}
	return nil
}

// GetMirrorIssue loads the mirror record for one issue key. Returns
// errkind.NotFound if the repository has never recorded a mirror entry
// for that key.
func (s *Store) GetMirrorIssue(repoID, key string) (MirrorIssue, error) {
	var m MirrorIssue
	var labels, updatedAt string
	m.RepoID, m.Key = repoID, key
	err := s.db.QueryRow(`
		SELECT forge_num, title, body, status, priority, kind, assignee, labels, updated_at
		FROM issue_mirror WHERE repo_id = ? AND issue_key = ?
	`, repoID, key).Scan(&m.Issue.ForgeNum, &m.Issue.Title, &m.Issue.Body, &m.Issue.Status,
		&m.Issue.Priority, &m.Issue.Kind, &m.Issue.Assignee, &labels, &updatedAt)
	if err == sql.ErrNoRows {
		return MirrorIssue{}, errkind.NotFound
	}
	if err != nil {
		return MirrorIssue{}, fmt.Errorf("get mirror issue: %w", err)
	}
	m.Issue.ID = key
	if err := json.Unmarshal([]byte(labels), &m.Issue.Labels); err != nil {
		return MirrorIssue{}, fmt.Errorf("unmarshal mirror labels: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		m.UpdatedAt = t
		m.Issue.UpdatedAt = t
	}
	return m, nil
}

// ListMirrorIssues returns every mirror record for a repository, keyed by
// issue key.
func (s *Store) ListMirrorIssues(repoID string) (map[string]MirrorIssue, error) {
	rows, err := s.db.Query(`
		SELECT issue_key, forge_num, title, body, status, priority, kind, assignee, labels, updated_at
		FROM issue_mirror WHERE repo_id = ?
	`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list mirror issues: %w", err)
	}
	defer rows.Close()

	out := map[string]MirrorIssue{}
	for rows.Next() {
		var m MirrorIssue
		var labels, updatedAt string
		m.RepoID = repoID
		if err := rows.Scan(&m.Key, &m.Issue.ForgeNum, &m.Issue.Title, &m.Issue.Body, &m.Issue.Status,
			&m.Issue.Priority, &m.Issue.Kind, &m.Issue.Assignee, &labels, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan mirror issue: %w", err)
		}
		m.Issue.ID = m.Key
		if err := json.Unmarshal([]byte(labels), &m.Issue.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal mirror labels: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			m.UpdatedAt = t
			m.Issue.UpdatedAt = t
		}
		out[m.Key] = m
	}
	return out, rows.Err()
}

// DeleteMirrorIssue removes the mirror record for one issue key, used
// when a local issue is deleted outright and must stop being tracked.
func (s *Store) DeleteMirrorIssue(repoID, key string) error {
	_, err := s.db.Exec(`DELETE FROM issue_mirror WHERE repo_id = ? AND issue_key = ?`, repoID, key)
	if err != nil {
		return fmt.Errorf("delete mirror issue: %w", err)
	}
	return nil
}
