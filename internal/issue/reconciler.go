package issue

import (
	"time"

	"github.com/devflow-ai/devflow/internal/errkind"
)

// ConflictPolicy selects how the reconciler resolves a field conflict
// between local, mirror, and forge, per §4.C.
type ConflictPolicy string

const (
	PolicyLocalWins      ConflictPolicy = "local-wins"
	PolicyRemoteWins     ConflictPolicy = "remote-wins"
	PolicyNewestWins     ConflictPolicy = "newest-wins"
	PolicySurfaceConflict ConflictPolicy = "surface-conflict"
)

// conflictWindow is the span within which two sides changing the same
// field are treated as a genuine conflict rather than a sequential edit.
// The spec leaves the exact window implementer-chosen; one calendar day
// is the documented default.
const conflictWindow = 24 * time.Hour

// Side names the origin of a record in a reconciliation pass.
type Side string

const (
	SideLocal  Side = "local"
	SideMirror Side = "mirror"
	SideForge  Side = "forge"
)

// FieldDiff describes one field whose value differs between two sides.
type FieldDiff struct {
	Field    string
	Local    any
	Mirror   any
	Forge    any
	Conflict bool
}

// Reconciliation is the outcome of reconciling one issue across the three
// sides: the record each side should converge to, and any fields flagged
// as unresolved conflicts (only populated under PolicySurfaceConflict,
// or when no side has an opinion strong enough to pick a winner).
type Reconciliation struct {
	Key       string
	Resolved  Issue
	Conflicts []FieldDiff
	// Creates lists sides on which the record did not previously exist
	// and must now be created.
	Creates []Side
}

// Reconcile computes the three-way merge for one (local, mirror, forge)
// triple. Any of the three pointers may be nil, meaning the record is
// absent on that side. Reconcile never mutates its inputs.
func Reconcile(key string, local, mirror, forge *Issue, policy ConflictPolicy) (Reconciliation, error) {
	present := []*Issue{local, mirror, forge}
	var base *Issue
	for _, p := range present {
		if p != nil {
			base = p
			break
		}
	}
	if base == nil {
		return Reconciliation{}, errkind.NotFound
	}

	result := Reconciliation{Key: key, Resolved: *base}

	if local == nil {
		result.Creates = append(result.Creates, SideLocal)
	}
	if mirror == nil {
		result.Creates = append(result.Creates, SideMirror)
	}
	if forge == nil {
		result.Creates = append(result.Creates, SideForge)
	}

	fields := fieldAccessors()
	for _, f := range fields {
		diff, ok := resolveField(f, local, mirror, forge, policy)
		if !ok {
			result.Conflicts = append(result.Conflicts, diff)
			continue
		}
		f.set(&result.Resolved, diff)
	}

	// status=blocked is derived from dependency edges elsewhere and is
	// never written directly across the boundary (§4.C derived
	// invariants); reconciled status never takes the literal "blocked"
	// value from any side's raw record.
	if result.Resolved.Status == StatusBlocked {
		result.Resolved.Status = StatusOpen
	}

	return result, nil
}

// fieldAccessor reads and writes one reconciled field.
type fieldAccessor struct {
	name string
	get  func(*Issue) any
	set  func(*Issue, FieldDiff)
}

func fieldAccessors() []fieldAccessor {
	return []fieldAccessor{
		{
			name: "title",
			get:  func(i *Issue) any { return i.Title },
			set:  func(i *Issue, d FieldDiff) { i.Title = pickString(d) },
		},
		{
			name: "body",
			get:  func(i *Issue) any { return i.Body },
			set:  func(i *Issue, d FieldDiff) { i.Body = pickString(d) },
		},
		{
			name: "status",
			get:  func(i *Issue) any { return i.Status },
			set:  func(i *Issue, d FieldDiff) { i.Status = Status(pickString(d)) },
		},
		{
			// priority=0 ("P0" label) is known to be elided by the local
			// store's merge tool; a missing/zero value on one side is
			// treated as "unchanged", never "reset to default", per
			// §4.C and the Design Notes open question.
			name: "priority",
			get:  func(i *Issue) any { return i.Priority },
			set: func(i *Issue, d FieldDiff) {
				if v, ok := pickPriority(d); ok {
					i.Priority = v
				}
			},
		},
		{
			name: "assignee",
			get:  func(i *Issue) any { return i.Assignee },
			set:  func(i *Issue, d FieldDiff) { i.Assignee = pickString(d) },
		},
	}
}

func resolveField(f fieldAccessor, local, mirror, forge *Issue, policy ConflictPolicy) (FieldDiff, bool) {
	d := FieldDiff{Field: f.name}
	if local != nil {
		d.Local = f.get(local)
	}
	if mirror != nil {
		d.Mirror = f.get(mirror)
	}
	if forge != nil {
		d.Forge = f.get(forge)
	}

	changed := distinctNonNilValues(d.Local, d.Mirror, d.Forge, local != nil, mirror != nil, forge != nil)
	if !changed {
		return d, true
	}

	localT, forgeT := updatedAt(local), updatedAt(forge)
	within := withinWindow(localT, forgeT, conflictWindow)
	d.Conflict = within

	switch policy {
	case PolicyLocalWins:
		if local != nil {
			d.Local = f.get(local)
			return d, true
		}
	case PolicyRemoteWins:
		if forge != nil {
			d.Local = d.Forge
			return d, true
		}
		if mirror != nil {
			d.Local = d.Mirror
			return d, true
		}
	case PolicyNewestWins:
		if localT.After(forgeT) && local != nil {
			return d, true
		}
		if forge != nil {
			d.Local = d.Forge
			return d, true
		}
	case PolicySurfaceConflict:
		// fall through to conflict reporting below.
	}

	if !d.Conflict {
		// Sides disagree but not within the conflict window and no
		// policy picked a winner above: newest write wins as a safe
		// default tiebreak.
		if localT.After(forgeT) {
			return d, true
		}
		if forge != nil {
			d.Local = d.Forge
		}
		return d, true
	}

	return d, false
}

func distinctNonNilValues(local, mirror, forge any, hasLocal, hasMirror, hasForge bool) bool {
	vals := map[any]bool{}
	if hasLocal {
		vals[local] = true
	}
	if hasMirror {
		vals[mirror] = true
	}
	if hasForge {
		vals[forge] = true
	}
	return len(vals) > 1
}

func pickString(d FieldDiff) string {
	if s, ok := d.Local.(string); ok {
		return s
	}
	if s, ok := d.Forge.(string); ok {
		return s
	}
	return ""
}

// pickPriority resolves the reconciled priority, honoring the
// missing-P0-label-is-unchanged rule: a zero value that disagrees with a
// non-zero sibling is not applied over the existing target.
func pickPriority(d FieldDiff) (int, bool) {
	local, localOK := d.Local.(int)
	forge, forgeOK := d.Forge.(int)
	switch {
	case localOK && forgeOK && local == 0 && forge != 0:
		return 0, false // ambiguous: treat as "unchanged", caller keeps existing
	case localOK:
		return local, true
	case forgeOK:
		return forge, true
	}
	return 0, false
}

func updatedAt(i *Issue) time.Time {
	if i == nil {
		return time.Time{}
	}
	return i.UpdatedAt
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
