package issue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconcileCreatesMissingSides(t *testing.T) {
	now := time.Now()
	local := &Issue{ID: "demo-ab12", Title: "fix bug", Status: StatusOpen, Priority: 2, UpdatedAt: now}

	rec, err := Reconcile("demo-ab12", local, nil, nil, PolicySurfaceConflict)
	require.NoError(t, err)
	require.ElementsMatch(t, []Side{SideMirror, SideForge}, rec.Creates)
	require.Equal(t, "fix bug", rec.Resolved.Title)
}

func TestReconcileNewestWins(t *testing.T) {
	older := time.Now().Add(-48 * time.Hour)
	newer := time.Now()

	local := &Issue{ID: "demo-ab12", Title: "old title", UpdatedAt: older}
	forge := &Issue{ID: "demo-ab12", Title: "new title", UpdatedAt: newer}

	rec, err := Reconcile("demo-ab12", local, nil, forge, PolicyNewestWins)
	require.NoError(t, err)
	require.Equal(t, "new title", rec.Resolved.Title)
}

func TestReconcileSurfacesConflictWithinWindow(t *testing.T) {
	t0 := time.Now()
	local := &Issue{ID: "demo-ab12", Title: "local title", UpdatedAt: t0}
	forge := &Issue{ID: "demo-ab12", Title: "forge title", UpdatedAt: t0.Add(2 * time.Hour)}

	rec, err := Reconcile("demo-ab12", local, nil, forge, PolicySurfaceConflict)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Conflicts)
	found := false
	for _, c := range rec.Conflicts {
		if c.Field == "title" {
			found = true
		}
	}
	require.True(t, found, "expected a title conflict to be surfaced")
}

func TestReconcileLocalWins(t *testing.T) {
	local := &Issue{ID: "demo-ab12", Title: "local title", UpdatedAt: time.Now()}
	forge := &Issue{ID: "demo-ab12", Title: "forge title", UpdatedAt: time.Now()}

	rec, err := Reconcile("demo-ab12", local, nil, forge, PolicyLocalWins)
	require.NoError(t, err)
	require.Equal(t, "local title", rec.Resolved.Title)
}

func TestReconcilePriorityZeroNotTreatedAsReset(t *testing.T) {
	local := &Issue{ID: "demo-ab12", Title: "t", Priority: 3, UpdatedAt: time.Now()}
	forge := &Issue{ID: "demo-ab12", Title: "t", Priority: 0, UpdatedAt: time.Now()}

	rec, err := Reconcile("demo-ab12", local, nil, forge, PolicySurfaceConflict)
	require.NoError(t, err)
	require.Equal(t, 3, rec.Resolved.Priority)
}

func TestReconcileDerivedBlockedStatusIsNeverCarriedRaw(t *testing.T) {
	local := &Issue{ID: "demo-ab12", Title: "t", Status: StatusBlocked, UpdatedAt: time.Now()}

	rec, err := Reconcile("demo-ab12", local, nil, nil, PolicySurfaceConflict)
	require.NoError(t, err)
	require.NotEqual(t, StatusBlocked, rec.Resolved.Status)
}

func TestReconcileMissingAllSidesIsNotFound(t *testing.T) {
	_, err := Reconcile("demo-ab12", nil, nil, nil, PolicySurfaceConflict)
	require.Error(t, err)
}
