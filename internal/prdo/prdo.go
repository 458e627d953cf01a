// Package prdo implements the PR state machine (PR-DO): one durable
// instance per (repo, PR number), grounded on server/reviewloop.go's
// phase-as-field + append-only-history idiom (ReviewLoop.Phase,
// ReviewLoop.History, saveReviewLoop persisting the whole record after
// each transition) — the same shape internal/sync reuses for its
// per-repository entity, applied here to a per-PR one with a reviewer
// queue instead of a single assignee.
package prdo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/store"
)

// State is one PR-DO lifecycle state.
type State string

const (
	StateAwaitingReview   State = "awaiting_review"
	StateChangesRequested State = "changes_requested"
	StateApproved         State = "approved"
	StateMerged           State = "merged"
	StateClosed           State = "closed"
)

// MergeType records how a merged PR reached that state.
type MergeType string

const (
	MergeNone   MergeType = "none"
	MergeNormal MergeType = "normal"
	MergeForced MergeType = "forced"
)

// Verdict is one reviewer's last recorded opinion.
type Verdict string

const (
	VerdictPending          Verdict = "pending"
	VerdictApproved         Verdict = "approved"
	VerdictChangesRequested Verdict = "changes_requested"
	VerdictCommented        Verdict = "commented"
)

// Reviewer is one queue entry.
type Reviewer struct {
	Name    string  `json:"name"`
	Verdict Verdict `json:"verdict"`
}

// HistoryEntry is one append-only record of a transition.
type HistoryEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one PR-DO instance's full state.
type Record struct {
	RepoID            string
	PRNumber          int
	HeadRef           string
	BaseRef           string
	Author            string
	State             State
	MergeType         MergeType
	Reviewers         []Reviewer
	History           []HistoryEntry
	LastChangesReqAt  time.Time
	LastHeadCommitAt  time.Time
}

// Machine drives PR-DO transitions for one repository, persisting each
// instance through store.PRRecordRow.
type Machine struct {
	Store *store.Store
	Log   *observability.Logger
}

// New constructs a Machine.
func New(st *store.Store, log *observability.Logger) *Machine {
	return &Machine{Store: st, Log: log}
}

var escalateMarker = regexp.MustCompile(`(?i)<!--\s*escalate:\s*([^>]*?)\s*-->`)

// ParseEscalations extracts every `<!-- escalate: name[, name...] -->`
// marker's names, deduplicated across all markers, preserving casing.
func ParseEscalations(body string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range escalateMarker.FindAllStringSubmatch(body, -1) {
		for _, raw := range strings.Split(m[1], ",") {
			name := strings.TrimSpace(raw)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func prLockKey(repoID string, prNumber int) string {
	return fmt.Sprintf("pr:%s:%d", repoID, prNumber)
}

// Opened handles pull_request.opened and .reopened: (re)initializes the
// record to awaiting_review, seeding the reviewer queue on first open
// and restoring the prior queue on reopen.
func (m *Machine) Opened(repoID string, prNumber int, headRef, baseRef, author string, seedReviewers []string) (Record, error) {
	lock := m.Store.Lock(prLockKey(repoID, prNumber))
	lock.Lock()
	defer lock.Unlock()

	rec, found, err := m.load(repoID, prNumber)
	if err != nil {
		return Record{}, err
	}
	if !found {
		reviewers := make([]Reviewer, 0, len(seedReviewers))
		for _, name := range seedReviewers {
			reviewers = append(reviewers, Reviewer{Name: name, Verdict: VerdictPending})
		}
		rec = Record{
			RepoID:    repoID,
			PRNumber:  prNumber,
			HeadRef:   headRef,
			BaseRef:   baseRef,
			Author:    author,
			State:     StateAwaitingReview,
			MergeType: MergeNone,
			Reviewers: reviewers,
		}
	} else {
		// Reopen restores the prior queue; only the state resets.
		rec.State = StateAwaitingReview
		rec.HeadRef = headRef
	}
	rec = appendHistory(rec, "opened", author)
	return rec, m.save(rec)
}

// Synchronize handles pull_request.synchronize: a new commit clears
// every changes_requested verdict back to pending and records when the
// head ref last moved, which the ready-to-merge predicate needs.
func (m *Machine) Synchronize(repoID string, prNumber int) (Record, error) {
	lock := m.Store.Lock(prLockKey(repoID, prNumber))
	lock.Lock()
	defer lock.Unlock()

	rec, found, err := m.load(repoID, prNumber)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, fmt.Errorf("prdo: no record for repo %s pr %d", repoID, prNumber)
	}

	for i := range rec.Reviewers {
		if rec.Reviewers[i].Verdict == VerdictChangesRequested {
			rec.Reviewers[i].Verdict = VerdictPending
		}
	}
	rec.LastHeadCommitAt = time.Now()
	rec = appendHistory(rec, "synchronize", "")
	return rec, m.save(rec)
}

// ReviewSubmitted handles pull_request_review.submitted for state
// "commented", "approved", or "changes_requested" by reviewer.
func (m *Machine) ReviewSubmitted(repoID string, prNumber int, reviewer, state, body string) (Record, error) {
	lock := m.Store.Lock(prLockKey(repoID, prNumber))
	lock.Lock()
	defer lock.Unlock()

	rec, found, err := m.load(repoID, prNumber)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, fmt.Errorf("prdo: no record for repo %s pr %d", repoID, prNumber)
	}

	idx := -1
	for i := range rec.Reviewers {
		if rec.Reviewers[i].Name == reviewer {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Review from a user not in the queue: record only, no effect.
		rec = appendHistory(rec, fmt.Sprintf("review_%s_untracked:%s", state, reviewer), reviewer)
		return rec, m.save(rec)
	}

	switch state {
	case "commented":
		rec = appendHistory(rec, "review_commented", reviewer)
		return rec, m.save(rec)

	case "approved":
		rec.Reviewers[idx].Verdict = VerdictApproved
		for _, name := range ParseEscalations(body) {
			if !hasReviewer(rec.Reviewers, name) {
				rec.Reviewers = append(rec.Reviewers, Reviewer{Name: name, Verdict: VerdictPending})
			}
		}
		if allApproved(rec.Reviewers) {
			rec.State = StateApproved
		}
		rec = appendHistory(rec, "review_approved", reviewer)
		return rec, m.save(rec)

	case "changes_requested":
		rec.Reviewers[idx].Verdict = VerdictChangesRequested
		rec.State = StateChangesRequested
		rec.LastChangesReqAt = time.Now()
		rec = appendHistory(rec, "review_changes_requested", reviewer)
		return rec, m.save(rec)

	default:
		return rec, fmt.Errorf("prdo: unknown review state %q", state)
	}
}

// Closed handles pull_request.closed.
func (m *Machine) Closed(repoID string, prNumber int, merged bool) (Record, error) {
	lock := m.Store.Lock(prLockKey(repoID, prNumber))
	lock.Lock()
	defer lock.Unlock()

	rec, found, err := m.load(repoID, prNumber)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, fmt.Errorf("prdo: no record for repo %s pr %d", repoID, prNumber)
	}

	if !merged {
		rec.State = StateClosed
		rec = appendHistory(rec, "closed", "")
		return rec, m.save(rec)
	}

	rec.State = StateMerged
	if allApproved(rec.Reviewers) {
		rec.MergeType = MergeNormal
	} else {
		rec.MergeType = MergeForced
	}
	rec = appendHistory(rec, "merged", "")
	return rec, m.save(rec)
}

// ReadyToMerge reports whether rec satisfies §4.H's ready-to-merge
// predicate: state=approved, no changes_requested verdicts remain, and
// the head ref has moved since the last changes_requested verdict.
func (rec Record) ReadyToMerge() bool {
	if rec.State != StateApproved {
		return false
	}
	for _, r := range rec.Reviewers {
		if r.Verdict == VerdictChangesRequested {
			return false
		}
	}
	if rec.LastChangesReqAt.IsZero() {
		return true
	}
	return rec.LastHeadCommitAt.After(rec.LastChangesReqAt)
}

func allApproved(reviewers []Reviewer) bool {
	if len(reviewers) == 0 {
		return true
	}
	for _, r := range reviewers {
		if r.Verdict != VerdictApproved {
			return false
		}
	}
	return true
}

func hasReviewer(reviewers []Reviewer, name string) bool {
	for _, r := range reviewers {
		if r.Name == name {
			return true
		}
	}
	return false
}

func appendHistory(rec Record, action, actor string) Record {
	rec.History = append(rec.History, HistoryEntry{Action: action, Actor: actor, Timestamp: time.Now()})
	return rec
}

func (m *Machine) load(repoID string, prNumber int) (Record, bool, error) {
	row, found, err := m.Store.GetPRRecord(repoID, prNumber)
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, nil
	}
	rec := Record{
		RepoID:    row.RepoID,
		PRNumber:  row.PRNumber,
		HeadRef:   row.HeadRef,
		BaseRef:   row.BaseRef,
		Author:    row.Author,
		State:     State(row.State),
		MergeType: MergeType(row.MergeType),
	}
	if row.LastChangesReqAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.LastChangesReqAt); err == nil {
			rec.LastChangesReqAt = t
		}
	}
	if row.LastHeadCommitAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.LastHeadCommitAt); err == nil {
			rec.LastHeadCommitAt = t
		}
	}
	if row.ReviewerQueue != "" {
		if err := json.Unmarshal([]byte(row.ReviewerQueue), &rec.Reviewers); err != nil {
			return Record{}, false, fmt.Errorf("decode reviewer queue: %w", err)
		}
	}
	if row.History != "" {
		if err := json.Unmarshal([]byte(row.History), &rec.History); err != nil {
			return Record{}, false, fmt.Errorf("decode history: %w", err)
		}
	}
	return rec, true, nil
}

func (m *Machine) save(rec Record) error {
	queueJSON, err := json.Marshal(rec.Reviewers)
	if err != nil {
		return fmt.Errorf("encode reviewer queue: %w", err)
	}
	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	var lastChangesReqAt, lastHeadCommitAt string
	if !rec.LastChangesReqAt.IsZero() {
		lastChangesReqAt = rec.LastChangesReqAt.Format(time.RFC3339Nano)
	}
	if !rec.LastHeadCommitAt.IsZero() {
		lastHeadCommitAt = rec.LastHeadCommitAt.Format(time.RFC3339Nano)
	}
	return m.Store.SavePRRecord(store.PRRecordRow{
		RepoID:           rec.RepoID,
		PRNumber:         rec.PRNumber,
		HeadRef:          rec.HeadRef,
		BaseRef:          rec.BaseRef,
		Author:           rec.Author,
		State:            string(rec.State),
		MergeType:        string(rec.MergeType),
		ReviewerQueue:    string(queueJSON),
		History:          string(historyJSON),
		LastChangesReqAt: lastChangesReqAt,
		LastHeadCommitAt: lastHeadCommitAt,
	})
}
