package store

import (
	"database/sql"
	"fmt"
	"time"
)

// IntentState is the lifecycle of an assignment intent.
type IntentState string

const (
	IntentInProgress IntentState = "in_progress"
	IntentDone       IntentState = "done"
	IntentFailed     IntentState = "failed"
	IntentCancelled  IntentState = "cancelled"
)

// IsTerminal reports whether the state ends the intent's lifecycle.
func (s IntentState) IsTerminal() bool {
	return s == IntentDone || s == IntentFailed || s == IntentCancelled
}

// AssignmentIntent is the (issue ID, agent name, workflow ID, started_at)
// record from §3, with the terminal-state tracking needed to enforce "at
// most one non-terminal intent per issue". RepoID/PRNumber/HeadRef/BaseRef
// are filled in once a develop workflow opens a pull request, letting the
// janitor sweep (router.JanitorSweep) find intents whose PR never made it
// into the PR-DO state machine, e.g. because the process crashed between
// CreatePullRequest succeeding and the PR-DO Opened() call.
type AssignmentIntent struct {
	ID         string
	RepoID     string
	IssueID    string
	AgentName  string
	WorkflowID string
	State      IntentState
	PRNumber   int
	HeadRef    string
	BaseRef    string
	StartedAt  time.Time
}

// NonTerminalIntentForIssue returns the issue's current non-terminal
// intent, if any.
func (s *Store) NonTerminalIntentForIssue(issueID string) (*AssignmentIntent, error) {
	rows, err := s.db.Query(`
		SELECT id, repo_id, issue_id, agent_name, workflow_id, state, pr_number, head_ref, base_ref, started_at
		FROM assignment_intents WHERE issue_id = ?
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in AssignmentIntent
		var started string
		if err := rows.Scan(&in.ID, &in.RepoID, &in.IssueID, &in.AgentName, &in.WorkflowID, &in.State, &in.PRNumber, &in.HeadRef, &in.BaseRef, &started); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		in.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if !in.State.IsTerminal() {
			return &in, nil
		}
	}
	return nil, rows.Err()
}

// SaveIntent inserts or updates an assignment intent.
func (s *Store) SaveIntent(in AssignmentIntent) error {
	_, err := s.db.Exec(`
		INSERT INTO assignment_intents (id, repo_id, issue_id, agent_name, workflow_id, state, pr_number, head_ref, base_ref, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state=excluded.state, pr_number=excluded.pr_number,
			head_ref=excluded.head_ref, base_ref=excluded.base_ref, updated_at=excluded.updated_at
	`, in.ID, in.RepoID, in.IssueID, in.AgentName, in.WorkflowID, string(in.State), in.PRNumber, in.HeadRef, in.BaseRef, formatTime(in.StartedAt), nowRFC3339())
	if err != nil {
		return fmt.Errorf("save intent: %w", err)
	}
	return nil
}

// GetIntent looks up an intent by its workflow ID.
func (s *Store) GetIntent(workflowID string) (*AssignmentIntent, error) {
	var in AssignmentIntent
	var started string
	err := s.db.QueryRow(`
		SELECT id, repo_id, issue_id, agent_name, workflow_id, state, pr_number, head_ref, base_ref, started_at
		FROM assignment_intents WHERE workflow_id = ?
	`, workflowID).Scan(&in.ID, &in.RepoID, &in.IssueID, &in.AgentName, &in.WorkflowID, &in.State, &in.PRNumber, &in.HeadRef, &in.BaseRef, &started)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	in.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	return &in, nil
}

// DoneIntentsWithPR returns every done (not failed or cancelled),
// PR-bearing intent for a
// repository, the working set router.JanitorSweep checks against
// PR-DO to backfill any PR-DO record a crash left uncreated.
func (s *Store) DoneIntentsWithPR(repoID string) ([]AssignmentIntent, error) {
	rows, err := s.db.Query(`
		SELECT id, repo_id, issue_id, agent_name, workflow_id, state, pr_number, head_ref, base_ref, started_at
		FROM assignment_intents WHERE repo_id = ? AND state = ? AND pr_number > 0
	`, repoID, string(IntentDone))
	if err != nil {
		return nil, fmt.Errorf("query done intents: %w", err)
	}
	defer rows.Close()

	var out []AssignmentIntent
	for rows.Next() {
		var in AssignmentIntent
		var started string
		if err := rows.Scan(&in.ID, &in.RepoID, &in.IssueID, &in.AgentName, &in.WorkflowID, &in.State, &in.PRNumber, &in.HeadRef, &in.BaseRef, &started); err != nil {
			return nil, fmt.Errorf("scan done intent: %w", err)
		}
		in.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		out = append(out, in)
	}
	return out, rows.Err()
}
