// Package issue implements the canonical issue record, the local JSONL
// "beads" store, and the three-way reconciler between that store, the
// server-side mirror, and the forge.
package issue

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// Kind categorizes an issue.
type Kind string

const (
	KindTask    Kind = "task"
	KindBug     Kind = "bug"
	KindFeature Kind = "feature"
	KindEpic    Kind = "epic"
)

// EdgeType names a dependency relationship between two issues.
type EdgeType string

const (
	EdgeDependsOn    EdgeType = "depends_on"
	EdgeBlocks       EdgeType = "blocks"
	EdgeParentChild  EdgeType = "parent_child"
)

// Edge is one directed dependency edge, local-ID to local-ID.
type Edge struct {
	Type   EdgeType `json:"type"`
	Target string   `json:"target"`
}

// Issue is the canonical record shared across the local store, the
// mirror, and the forge.
type Issue struct {
	ID         string    `json:"id"`
	ForgeNum   int       `json:"forge_num,omitempty"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Status     Status    `json:"status"`
	Priority   int       `json:"priority"`
	Kind       Kind      `json:"kind"`
	Assignee   string    `json:"assignee,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	Edges      []Edge    `json:"edges,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// ParsePriority clamps a raw priority value into the valid 0..4 range,
// per the boundary behaviors in the testable-properties section: -1 -> 0,
// 5 -> 4, 10 -> 4, non-numeric -> 2, NaN -> 2.
func ParsePriority(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 2
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) {
		return 2
	}
	n := int(f)
	if n < 0 {
		return 0
	}
	if n > 4 {
		return 4
	}
	return n
}

// PriorityLabel formats the forge-side P0..P4 label for a priority value.
func PriorityLabel(priority int) string {
	if priority < 0 {
		priority = 0
	}
	if priority > 4 {
		priority = 4
	}
	return fmt.Sprintf("P%d", priority)
}

// ValidateID reports whether a candidate local ID is acceptable: it must
// be non-empty after trimming whitespace.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("issue id must not be empty")
	}
	return nil
}

// DependsOn reports the depends-on targets of the issue.
func (i Issue) DependsOn() []string {
	var out []string
	for _, e := range i.Edges {
		if e.Type == EdgeDependsOn {
			out = append(out, e.Target)
		}
	}
	return out
}

// Blocks reports the blocks targets of the issue.
func (i Issue) Blocks() []string {
	var out []string
	for _, e := range i.Edges {
		if e.Type == EdgeBlocks {
			out = append(out, e.Target)
		}
	}
	return out
}

// Children reports the parent-child targets of the issue (issues for which
// this issue is the parent).
func (i Issue) Children() []string {
	var out []string
	for _, e := range i.Edges {
		if e.Type == EdgeParentChild {
			out = append(out, e.Target)
		}
	}
	return out
}

// HasEdge reports whether the issue already has an edge of the given type
// pointing at target.
func (i Issue) HasEdge(t EdgeType, target string) bool {
	for _, e := range i.Edges {
		if e.Type == t && e.Target == target {
			return true
		}
	}
	return false
}
