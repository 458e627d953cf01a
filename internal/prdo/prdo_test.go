package prdo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/store"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, observability.NewNop())
}

func TestOpenedSeedsReviewerQueue(t *testing.T) {
	m := newTestMachine(t)
	rec, err := m.Opened("r1", 1, "agent-a/DEVFLOW-1", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingReview, rec.State)
	require.Len(t, rec.Reviewers, 1)
	require.Equal(t, "quinn", rec.Reviewers[0].Name)
	require.Equal(t, VerdictPending, rec.Reviewers[0].Verdict)
}

func TestReopenRestoresPriorQueue(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	_, err = m.ReviewSubmitted("r1", 1, "quinn", "approved", "")
	require.NoError(t, err)

	rec, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"should-not-reseed"})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingReview, rec.State)
	require.Len(t, rec.Reviewers, 1)
	require.Equal(t, "quinn", rec.Reviewers[0].Name)
	require.Equal(t, VerdictApproved, rec.Reviewers[0].Verdict)
}

func TestSynchronizeClearsChangesRequested(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	rec, err := m.ReviewSubmitted("r1", 1, "quinn", "changes_requested", "")
	require.NoError(t, err)
	require.Equal(t, StateChangesRequested, rec.State)

	rec, err = m.Synchronize("r1", 1)
	require.NoError(t, err)
	require.Equal(t, VerdictPending, rec.Reviewers[0].Verdict)
}

func TestApprovalTransitionsWhenQueueFullyApproved(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	rec, err := m.ReviewSubmitted("r1", 1, "quinn", "approved", "")
	require.NoError(t, err)
	require.Equal(t, StateApproved, rec.State)
	require.True(t, rec.ReadyToMerge())
}

func TestApprovalParsesEscalationMarkerAndAddsPendingReviewer(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	rec, err := m.ReviewSubmitted("r1", 1, "quinn", "approved", "looks good\n<!-- escalate: morgan, riley -->")
	require.NoError(t, err)
	require.NotEqual(t, StateApproved, rec.State, "new pending reviewers must block approval")
	require.Len(t, rec.Reviewers, 3)
	require.Equal(t, "morgan", rec.Reviewers[1].Name)
	require.Equal(t, "riley", rec.Reviewers[2].Name)
	require.Equal(t, VerdictPending, rec.Reviewers[1].Verdict)
}

func TestReviewFromUnknownUserIsRecordedOnly(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	rec, err := m.ReviewSubmitted("r1", 1, "stranger", "approved", "")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingReview, rec.State)
	require.Len(t, rec.Reviewers, 1)
}

func TestChangesRequestedByReviewerTransitionsPR(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	rec, err := m.ReviewSubmitted("r1", 1, "quinn", "changes_requested", "")
	require.NoError(t, err)
	require.Equal(t, StateChangesRequested, rec.State)
	require.Equal(t, VerdictChangesRequested, rec.Reviewers[0].Verdict)
}

func TestReadyToMergeSurvivesReloadAcrossChangesRequestedCycle(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)

	_, err = m.ReviewSubmitted("r1", 1, "quinn", "changes_requested", "")
	require.NoError(t, err)

	// A fresh load (as every handler call does) must not lose the
	// changes-requested timestamp the ready-to-merge predicate needs.
	rec, err := m.Synchronize("r1", 1)
	require.NoError(t, err)
	require.False(t, rec.LastChangesReqAt.IsZero())

	rec, err = m.ReviewSubmitted("r1", 1, "quinn", "approved", "")
	require.NoError(t, err)
	require.Equal(t, StateApproved, rec.State)
	require.True(t, rec.ReadyToMerge(), "head commit after synchronize must make the PR ready to merge even after reloads")
}

func TestClosedMergedTrueWithAllApprovedIsNormalMerge(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn"})
	require.NoError(t, err)
	_, err = m.ReviewSubmitted("r1", 1, "quinn", "approved", "")
	require.NoError(t, err)

	rec, err := m.Closed("r1", 1, true)
	require.NoError(t, err)
	require.Equal(t, StateMerged, rec.State)
	require.Equal(t, MergeNormal, rec.MergeType)
}

func TestClosedMergedTrueWithoutFullApprovalIsForcedMerge(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", []string{"quinn", "morgan"})
	require.NoError(t, err)
	_, err = m.ReviewSubmitted("r1", 1, "quinn", "approved", "")
	require.NoError(t, err)

	rec, err := m.Closed("r1", 1, true)
	require.NoError(t, err)
	require.Equal(t, StateMerged, rec.State)
	require.Equal(t, MergeForced, rec.MergeType)
}

func TestClosedMergedFalseTransitionsToClosed(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Opened("r1", 1, "ref", "main", "agent-a", nil)
	require.NoError(t, err)

	rec, err := m.Closed("r1", 1, false)
	require.NoError(t, err)
	require.Equal(t, StateClosed, rec.State)
}

func TestParseEscalationsDedupesAcrossMarkersPreservingCase(t *testing.T) {
	body := "<!-- ESCALATE: Morgan, riley --> more text <!-- escalate: Morgan,  taylor -->"
	names := ParseEscalations(body)
	require.Equal(t, []string{"Morgan", "riley", "taylor"}, names)
}
