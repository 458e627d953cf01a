// Package assign implements the assignment dispatcher: the decision
// table run when an issue's assignee changes, generalized from the
// teacher's findAgentForPR lookup-by-strategy idiom and
// handlePROpened's idempotent backfill-or-create logic (server/webhook.go),
// applied here to the assignment-intent table instead of a PR record.
package assign

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/store"
)

// Result is the dispatcher's response to an assignment change.
type Result struct {
	OK         bool
	Triggered  bool
	WorkflowID string
	Reason     string
}

// Dispatcher evaluates assignment changes against the agent registry
// and the issue graph.
type Dispatcher struct {
	Store *store.Store
}

// New constructs a Dispatcher.
func New(st *store.Store) *Dispatcher {
	return &Dispatcher{Store: st}
}

// Dispatch evaluates the decision table in §4.F's order, returning
// whether a new develop workflow was triggered and cancelling any prior
// in-flight intent for the same issue.
func (d *Dispatcher) Dispatch(repoID string, iss *issue.Issue, newAssignee string, graph *issue.Graph) (Result, error) {
	agents, err := d.Store.AgentsForRepo(repoID)
	if err != nil {
		return Result{}, fmt.Errorf("load agent registry: %w", err)
	}

	var agent *store.AgentRegistration
	for i := range agents {
		if agents[i].AgentName == newAssignee {
			agent = &agents[i]
			break
		}
	}
	if agent == nil {
		if newAssignee == "" {
			return Result{OK: true, Reason: "assignee not an agent"}, nil
		}
		return Result{OK: true, Reason: "agent not found"}, nil
	}

	if iss.Status == issue.StatusClosed {
		return Result{OK: true, Reason: "issue is closed"}, nil
	}
	if graph != nil && graph.IsBlocked(iss.ID) {
		return Result{OK: true, Reason: "issue is blocked"}, nil
	}

	prior, err := d.Store.NonTerminalIntentForIssue(iss.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load prior intent: %w", err)
	}
	if prior != nil && prior.AgentName == newAssignee {
		return Result{OK: true, Reason: "already assigned"}, nil
	}

	if prior != nil {
		prior.State = store.IntentCancelled
		if err := d.Store.SaveIntent(*prior); err != nil {
			return Result{}, fmt.Errorf("cancel prior intent: %w", err)
		}
	}

	workflowID := uuid.NewString()
	newIntent := store.AssignmentIntent{
		ID:         uuid.NewString(),
		RepoID:     repoID,
		IssueID:    iss.ID,
		AgentName:  newAssignee,
		WorkflowID: workflowID,
		State:      store.IntentInProgress,
		StartedAt:  time.Now(),
	}
	if err := d.Store.SaveIntent(newIntent); err != nil {
		return Result{}, fmt.Errorf("save new intent: %w", err)
	}

	return Result{OK: true, Triggered: true, WorkflowID: workflowID}, nil
}

// CancelAssignment cancels any non-terminal intent for an issue without
// triggering a replacement, used by the router's "issue becomes blocked"
// hook (§4.I) to free the agent for other ready work.
func (d *Dispatcher) CancelAssignment(issueID string) error {
	prior, err := d.Store.NonTerminalIntentForIssue(issueID)
	if err != nil {
		return fmt.Errorf("load prior intent: %w", err)
	}
	if prior == nil {
		return nil
	}
	prior.State = store.IntentCancelled
	if err := d.Store.SaveIntent(*prior); err != nil {
		return fmt.Errorf("cancel intent: %w", err)
	}
	return nil
}
