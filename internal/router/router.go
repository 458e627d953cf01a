// Package router implements the scheduled and event-triggered hooks
// that keep the backlog alive: daily summaries, weekly planning,
// closure cascades, and the PR-merged / issue-blocked feedback loops
// back into the sync coordinator and assignment dispatcher. Grounded
// on server/poller.go's scheduled-ticker + janitor-sweep shape
// (pollAgentStatuses calling into janitorSweep each cycle), applied
// here to the issue graph instead of agent records.
package router

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/devflow-ai/devflow/internal/assign"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/prdo"
	"github.com/devflow-ai/devflow/internal/store"
)

// Router runs the scheduled and lifecycle hooks for one repository's
// issue graph.
type Router struct {
	RepoID                string
	Reg                   *issue.JSONLStore
	Assign                *assign.Dispatcher
	Log                   *observability.Logger
	CancelInFlightOnBlock bool

	// Store and PRDO back JanitorSweep's crash-recovery pass. Both may be
	// nil (e.g. in tests exercising only the issue-graph hooks), in which
	// case JanitorSweep is a no-op.
	Store *store.Store
	PRDO  *prdo.Machine
}

// New constructs a Router.
func New(repoID string, reg *issue.JSONLStore, dispatcher *assign.Dispatcher, cancelInFlightOnBlock bool, log *observability.Logger) *Router {
	return &Router{RepoID: repoID, Reg: reg, Assign: dispatcher, Log: log, CancelInFlightOnBlock: cancelInFlightOnBlock}
}

// Summary is the daily-summary classification.
type Summary struct {
	InProgress        []issue.Issue
	Blocked           []issue.Issue
	Ready             []issue.Issue
	HighPriorityBlocked []issue.Issue
}

// DailySummary classifies every issue into in-progress / blocked /
// ready, flagging high-priority (<=1) blocked items separately.
func (r *Router) DailySummary() (Summary, error) {
	issues, err := r.Reg.Load()
	if err != nil {
		return Summary{}, err
	}
	graph := issue.NewGraph(issues)

	var s Summary
	for _, iss := range issues {
		switch iss.Status {
		case issue.StatusInProgress:
			s.InProgress = append(s.InProgress, iss)
		case issue.StatusBlocked:
			s.Blocked = append(s.Blocked, iss)
			if iss.Priority <= 1 {
				s.HighPriorityBlocked = append(s.HighPriorityBlocked, iss)
			}
		case issue.StatusOpen:
			if graph.Ready(iss.ID) {
				s.Ready = append(s.Ready, iss)
			}
		}
	}
	return s, nil
}

// PlanningItem is one ranked readiness-DAG entry.
type PlanningItem struct {
	Issue  issue.Issue
	Impact int
}

// WeeklyPlanning computes the readiness DAG (ready(i) iff open and
// every depends-on target is closed) and ranks ready issues by
// priority, then by impact (transitively blocked count).
func (r *Router) WeeklyPlanning() ([]PlanningItem, error) {
	issues, err := r.Reg.Load()
	if err != nil {
		return nil, err
	}
	graph := issue.NewGraph(issues)

	var items []PlanningItem
	for _, iss := range issues {
		if !graph.Ready(iss.ID) {
			continue
		}
		items = append(items, PlanningItem{Issue: iss, Impact: graph.Impact(iss.ID)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Issue.Priority != items[j].Issue.Priority {
			return items[i].Issue.Priority < items[j].Issue.Priority
		}
		return items[i].Impact > items[j].Impact
	})
	return items, nil
}

// OnIssueClosed walks the issues the closed one blocks (its own blocks
// edges and every issue with a depends-on edge to it), reclassifying
// any formerly-blocked issue whose dependencies are now all closed
// back to open. Newly ready issues already carrying an agent assignee
// are re-dispatched.
func (r *Router) OnIssueClosed(closedID string) error {
	issues, err := r.Reg.Load()
	if err != nil {
		return err
	}
	graph := issue.NewGraph(issues)

	closed, ok := graph.Get(closedID)
	if !ok {
		return nil
	}

	byID := make(map[string]int, len(issues))
	for i, iss := range issues {
		byID[iss.ID] = i
	}

	dependents := closed.Blocks()
	for _, iss := range issues {
		if iss.HasEdge(issue.EdgeDependsOn, closedID) && !closed.HasEdge(issue.EdgeBlocks, iss.ID) {
			dependents = append(dependents, iss.ID)
		}
	}

	for _, blockedID := range dependents {
		idx, ok := byID[blockedID]
		if !ok {
			continue
		}
		iss := issues[idx]
		if iss.Status != issue.StatusBlocked {
			continue
		}
		if graph.IsBlocked(iss.ID) {
			continue
		}
		iss.Status = issue.StatusOpen
		iss.UpdatedAt = time.Now()
		issues[idx] = iss

		if iss.Assignee != "" && r.Assign != nil {
			if _, err := r.Assign.Dispatch(r.RepoID, &iss, iss.Assignee, graph); err != nil {
				return err
			}
		}
	}
	return r.Reg.Save(issues)
}

// OnEpicCompletion closes every epic whose parent-child children are
// all in state=closed.
func (r *Router) OnEpicCompletion() error {
	issues, err := r.Reg.Load()
	if err != nil {
		return err
	}
	graph := issue.NewGraph(issues)

	changed := false
	for i, iss := range issues {
		if iss.Kind != issue.KindEpic || iss.Status == issue.StatusClosed {
			continue
		}
		children := iss.Children()
		if len(children) == 0 {
			continue
		}
		allClosed := true
		for _, childID := range children {
			child, ok := graph.Get(childID)
			if !ok || child.Status != issue.StatusClosed {
				allClosed = false
				break
			}
		}
		if allClosed {
			issues[i].Status = issue.StatusClosed
			issues[i].ClosedAt = time.Now()
			issues[i].UpdatedAt = time.Now()
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.Reg.Save(issues)
}

// OnBlocked clears the assignee of an issue that has just become
// blocked and, when configured, cancels its in-flight intent so the
// agent is freed for other ready work.
func (r *Router) OnBlocked(issueID string) error {
	issues, err := r.Reg.Load()
	if err != nil {
		return err
	}
	for i, iss := range issues {
		if iss.ID != issueID {
			continue
		}
		issues[i].Assignee = ""
		issues[i].UpdatedAt = time.Now()
		break
	}
	if err := r.Reg.Save(issues); err != nil {
		return err
	}
	if r.CancelInFlightOnBlock && r.Assign != nil {
		return r.Assign.CancelAssignment(issueID)
	}
	return nil
}

var closesRef = regexp.MustCompile(`(?i)\bcloses\s+#([A-Za-z0-9_-]+)`)

// ParseClosesReferences extracts every `Closes #<issueKey>` reference
// from a PR body.
func ParseClosesReferences(body string) []string {
	var keys []string
	for _, m := range closesRef.FindAllStringSubmatch(body, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// OnPRMerged ensures every issue referenced by a `Closes #K` marker in
// the merged PR's body is closed locally.
func (r *Router) OnPRMerged(prBody string) error {
	keys := ParseClosesReferences(prBody)
	if len(keys) == 0 {
		return nil
	}
	issues, err := r.Reg.Load()
	if err != nil {
		return err
	}
	changed := false
	for i, iss := range issues {
		for _, k := range keys {
			if iss.ID == k || strconv.Itoa(iss.ForgeNum) == k {
				if iss.Status != issue.StatusClosed {
					issues[i].Status = issue.StatusClosed
					issues[i].ClosedAt = time.Now()
					issues[i].UpdatedAt = time.Now()
					changed = true
				}
			}
		}
	}
	if !changed {
		return nil
	}
	return r.Reg.Save(issues)
}

func (r *Router) reviewerSeed() []string {
	if r.Store == nil {
		return nil
	}
	agents, err := r.Store.AgentsForRepo(r.RepoID)
	if err != nil {
		return nil
	}
	var names []string
	for _, a := range agents {
		if a.DefaultRole == "reviewer" {
			names = append(names, a.AgentName)
		}
	}
	return names
}

// JanitorSweep backfills any PR-DO record a crash left uncreated: a
// develop workflow that finished with PRNumber != 0 but whose process
// died between GitHub accepting the pull request and the webhook
// delivery (or the inline HandlePullRequest call) reaching PRDO.Opened
// leaves an intent recording the PR with no matching pr_records row.
// Grounded on poller.go's janitor-sweep shape: a scheduled pass that
// reconciles state the event-driven path may have missed, rather than
// trusting every event to have been delivered exactly once.
func (r *Router) JanitorSweep() error {
	if r.Store == nil || r.PRDO == nil {
		return nil
	}
	intents, err := r.Store.DoneIntentsWithPR(r.RepoID)
	if err != nil {
		return err
	}
	seed := r.reviewerSeed()
	for _, in := range intents {
		if _, found, err := r.Store.GetPRRecord(r.RepoID, in.PRNumber); err != nil {
			r.Log.Warnw("janitor sweep: failed checking pr record", "repo_id", r.RepoID, "pr", in.PRNumber, "error", err.Error())
			continue
		} else if found {
			continue
		}
		if _, err := r.PRDO.Opened(r.RepoID, in.PRNumber, in.HeadRef, in.BaseRef, in.AgentName, seed); err != nil {
			r.Log.Warnw("janitor sweep: backfill failed", "repo_id", r.RepoID, "pr", in.PRNumber, "error", err.Error())
			continue
		}
		r.Log.Infow("janitor sweep: backfilled missing pr record", "repo_id", r.RepoID, "pr", in.PRNumber, "issue_id", in.IssueID)
	}
	return nil
}

// Schedule runs DailySummary, WeeklyPlanning, and JanitorSweep on their
// own tickers until ctx is cancelled, mirroring pollAgentStatuses'
// single background-job-callback shape per tick.
func (r *Router) Schedule(ctx context.Context, dailyEvery, weeklyEvery time.Duration) {
	dailyTicker := time.NewTicker(dailyEvery)
	weeklyTicker := time.NewTicker(weeklyEvery)
	sweepTicker := time.NewTicker(dailyEvery)
	defer dailyTicker.Stop()
	defer weeklyTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dailyTicker.C:
			if _, err := r.DailySummary(); err != nil {
				r.Log.Warnw("daily summary failed", "error", err.Error())
			}
		case <-weeklyTicker.C:
			if _, err := r.WeeklyPlanning(); err != nil {
				r.Log.Warnw("weekly planning failed", "error", err.Error())
			}
		case <-sweepTicker.C:
			if err := r.JanitorSweep(); err != nil {
				r.Log.Warnw("janitor sweep failed", "error", err.Error())
			}
		}
	}
}
