package router

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/internal/assign"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/prdo"
	"github.com/devflow-ai/devflow/internal/store"
)

func newTestRouter(t *testing.T, issues []issue.Issue) (*Router, *issue.JSONLStore) {
	t.Helper()
	reg := issue.NewJSONLStore(t.TempDir(), filepath.Join(".beads", "issues.jsonl"))
	require.NoError(t, reg.Save(issues))

	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.SaveRepoBinding(store.RepoBinding{ID: "r1", Owner: "a", Name: "b"}))
	require.NoError(t, st.SaveAgentRegistration(store.AgentRegistration{RepoID: "r1", AgentName: "agent-a", Tier: "senior", DefaultRole: "implementer"}))

	return New("r1", reg, assign.New(st), true, observability.NewNop()), reg
}

func TestDailySummaryClassifiesIssues(t *testing.T) {
	r, _ := newTestRouter(t, []issue.Issue{
		{ID: "A", Status: issue.StatusInProgress},
		{ID: "B", Status: issue.StatusBlocked, Priority: 0, Edges: []issue.Edge{{Type: issue.EdgeDependsOn, Target: "A"}}},
		{ID: "C", Status: issue.StatusOpen},
	})
	summary, err := r.DailySummary()
	require.NoError(t, err)
	require.Len(t, summary.InProgress, 1)
	require.Len(t, summary.Blocked, 1)
	require.Len(t, summary.HighPriorityBlocked, 1)
	require.Len(t, summary.Ready, 1)
}

func TestWeeklyPlanningRanksByPriorityThenImpact(t *testing.T) {
	r, _ := newTestRouter(t, []issue.Issue{
		{ID: "A", Status: issue.StatusOpen, Priority: 2},
		{ID: "B", Status: issue.StatusOpen, Priority: 0},
		{ID: "C", Status: issue.StatusOpen, Priority: 0, Edges: []issue.Edge{{Type: issue.EdgeBlocks, Target: "B"}}},
	})
	items, err := r.WeeklyPlanning()
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "C", items[0].Issue.ID, "priority-0 with higher impact ranks first")
	require.Equal(t, "B", items[1].Issue.ID)
	require.Equal(t, "A", items[2].Issue.ID)
}

func TestOnIssueClosedUnblocksDependents(t *testing.T) {
	r, reg := newTestRouter(t, []issue.Issue{
		{ID: "A", Status: issue.StatusOpen},
		{ID: "B", Status: issue.StatusBlocked, Edges: []issue.Edge{{Type: issue.EdgeDependsOn, Target: "A"}}},
	})
	issues, err := reg.Load()
	require.NoError(t, err)
	for i := range issues {
		if issues[i].ID == "A" {
			issues[i].Status = issue.StatusClosed
		}
	}
	require.NoError(t, reg.Save(issues))

	require.NoError(t, r.OnIssueClosed("A"))

	after, err := reg.Load()
	require.NoError(t, err)
	for _, iss := range after {
		if iss.ID == "B" {
			require.Equal(t, issue.StatusOpen, iss.Status)
		}
	}
}

func TestOnIssueClosedRedispatchesAssignedDependent(t *testing.T) {
	r, reg := newTestRouter(t, []issue.Issue{
		{ID: "A", Status: issue.StatusClosed},
		{ID: "B", Status: issue.StatusBlocked, Assignee: "agent-a", Edges: []issue.Edge{{Type: issue.EdgeDependsOn, Target: "A"}}},
	})

	require.NoError(t, r.OnIssueClosed("A"))

	after, err := reg.Load()
	require.NoError(t, err)
	var b issue.Issue
	for _, iss := range after {
		if iss.ID == "B" {
			b = iss
		}
	}
	require.Equal(t, issue.StatusOpen, b.Status)
}

func TestOnEpicCompletionClosesEpicWhenAllChildrenClosed(t *testing.T) {
	r, reg := newTestRouter(t, []issue.Issue{
		{ID: "EPIC", Status: issue.StatusOpen, Kind: issue.KindEpic, Edges: []issue.Edge{
			{Type: issue.EdgeParentChild, Target: "C1"},
			{Type: issue.EdgeParentChild, Target: "C2"},
		}},
		{ID: "C1", Status: issue.StatusClosed},
		{ID: "C2", Status: issue.StatusClosed},
	})

	require.NoError(t, r.OnEpicCompletion())

	after, err := reg.Load()
	require.NoError(t, err)
	for _, iss := range after {
		if iss.ID == "EPIC" {
			require.Equal(t, issue.StatusClosed, iss.Status)
		}
	}
}

func TestOnEpicCompletionLeavesEpicOpenWithUnclosedChild(t *testing.T) {
	r, reg := newTestRouter(t, []issue.Issue{
		{ID: "EPIC", Status: issue.StatusOpen, Kind: issue.KindEpic, Edges: []issue.Edge{
			{Type: issue.EdgeParentChild, Target: "C1"},
		}},
		{ID: "C1", Status: issue.StatusOpen},
	})

	require.NoError(t, r.OnEpicCompletion())

	after, err := reg.Load()
	require.NoError(t, err)
	for _, iss := range after {
		if iss.ID == "EPIC" {
			require.Equal(t, issue.StatusOpen, iss.Status)
		}
	}
}

func TestOnBlockedClearsAssigneeAndCancelsIntent(t *testing.T) {
	r, reg := newTestRouter(t, []issue.Issue{
		{ID: "A", Status: issue.StatusBlocked, Assignee: "agent-a"},
	})
	st := r.Assign.Store
	require.NoError(t, st.SaveIntent(store.AssignmentIntent{
		ID: "i1", RepoID: "r1", IssueID: "A", AgentName: "agent-a",
		WorkflowID: "wf-1", State: store.IntentInProgress, StartedAt: time.Now(),
	}))

	require.NoError(t, r.OnBlocked("A"))

	after, err := reg.Load()
	require.NoError(t, err)
	for _, iss := range after {
		if iss.ID == "A" {
			require.Empty(t, iss.Assignee)
		}
	}

	active, err := st.NonTerminalIntentForIssue("A")
	require.NoError(t, err)
	require.Nil(t, active, "in-flight intent should be cancelled")
}

func TestOnPRMergedClosesReferencedIssue(t *testing.T) {
	r, reg := newTestRouter(t, []issue.Issue{
		{ID: "DEVFLOW-9", Status: issue.StatusOpen},
	})

	require.NoError(t, r.OnPRMerged("Implements the thing.\n\nCloses #DEVFLOW-9"))

	after, err := reg.Load()
	require.NoError(t, err)
	for _, iss := range after {
		if iss.ID == "DEVFLOW-9" {
			require.Equal(t, issue.StatusClosed, iss.Status)
		}
	}
}

func TestParseClosesReferencesExtractsAll(t *testing.T) {
	keys := ParseClosesReferences("Closes #DEVFLOW-1 and closes #DEVFLOW-2")
	require.Equal(t, []string{"DEVFLOW-1", "DEVFLOW-2"}, keys)
}

func TestJanitorSweepBackfillsMissingPRRecord(t *testing.T) {
	r, _ := newTestRouter(t, []issue.Issue{{ID: "DEVFLOW-9", Status: issue.StatusInProgress}})
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.SaveRepoBinding(store.RepoBinding{ID: "r1", Owner: "a", Name: "b"}))

	require.NoError(t, st.SaveIntent(store.AssignmentIntent{
		ID:         "i1",
		RepoID:     "r1",
		IssueID:    "DEVFLOW-9",
		AgentName:  "agent-a",
		WorkflowID: "wf-1",
		State:      store.IntentDone,
		PRNumber:   42,
		HeadRef:    "agent-a/DEVFLOW-9",
		BaseRef:    "main",
		StartedAt:  time.Now(),
	}))

	r.Store = st
	r.PRDO = prdo.New(st, observability.NewNop())

	require.NoError(t, r.JanitorSweep())

	row, found, err := st.GetPRRecord("r1", 42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "agent-a/DEVFLOW-9", row.HeadRef)
}

func TestJanitorSweepSkipsExistingPRRecord(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.SaveRepoBinding(store.RepoBinding{ID: "r1", Owner: "a", Name: "b"}))

	m := prdo.New(st, observability.NewNop())
	_, err = m.Opened("r1", 7, "agent-a/DEVFLOW-1", "main", "agent-a", nil)
	require.NoError(t, err)

	require.NoError(t, st.SaveIntent(store.AssignmentIntent{
		ID: "i2", RepoID: "r1", IssueID: "DEVFLOW-1", AgentName: "agent-a",
		WorkflowID: "wf-2", State: store.IntentDone, PRNumber: 7,
		HeadRef: "agent-a/DEVFLOW-1", BaseRef: "main", StartedAt: time.Now(),
	}))

	r.Store = st
	r.PRDO = m

	require.NoError(t, r.JanitorSweep())

	row, found, err := st.GetPRRecord("r1", 7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "agent-a", row.Author)
}
