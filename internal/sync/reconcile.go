package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/devflow-ai/devflow/internal/ghclient"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/store"
)

// ReconcileResult summarizes one reconciliation pass across every issue
// key present on any of the three sides.
type ReconcileResult struct {
	Reconciled int
	Conflicts  int
	// ClosedIDs lists issues whose resolved status transitioned to
	// closed during this pass, for callers to feed into the router's
	// closure-cascade hook.
	ClosedIDs []string
	// NewlyBlockedIDs lists issues whose resolved depends-on edges now
	// target an open issue when they previously did not, for callers to
	// feed into the router's on-blocked hook (§4.I).
	NewlyBlockedIDs []string
}

// ReconcileIssues runs the three-way merge from internal/issue against
// the local beads store, this repository's server-side mirror, and the
// forge's current issue list, then writes the resolved record back to
// whichever sides disagreed with it. This is the seam the coordinator's
// apply() stub left open: Reconcile() itself never touches storage, so
// something has to load the three sides, fan the merge out across every
// key, and commit the result. Here, rather than inside apply(), because
// a reconciliation pass needs the forge client and conflict policy,
// neither of which the generic sync-queue drain loop carries.
func (c *Coordinator) ReconcileIssues(ctx context.Context, reg *issue.JSONLStore, gh ghclient.Client, owner, name string, policy issue.ConflictPolicy) (ReconcileResult, error) {
	var result ReconcileResult

	localIssues, err := reg.Load()
	if err != nil {
		return result, fmt.Errorf("load local issues: %w", err)
	}
	localByKey := make(map[string]issue.Issue, len(localIssues))
	for _, iss := range localIssues {
		localByKey[iss.ID] = iss
	}

	mirrorByKey, err := c.Store.ListMirrorIssues(c.RepoID)
	if err != nil {
		return result, fmt.Errorf("load mirror issues: %w", err)
	}

	forgeIssues, err := gh.ListIssues(ctx, owner, name)
	if err != nil {
		return result, fmt.Errorf("list forge issues: %w", err)
	}
	forgeByNum := make(map[int]*github.Issue, len(forgeIssues))
	for _, fi := range forgeIssues {
		if fi.GetPullRequestLinks() != nil {
			continue // a PR surfaced through the issues API, not a tracked issue
		}
		forgeByNum[fi.GetNumber()] = fi
	}

	keys := map[string]bool{}
	for k := range localByKey {
		keys[k] = true
	}
	for k := range mirrorByKey {
		keys[k] = true
	}

	resolvedLocal := make([]issue.Issue, 0, len(keys))
	for key := range keys {
		var localPtr, mirrorPtr, forgePtr *issue.Issue
		if v, ok := localByKey[key]; ok {
			v := v
			localPtr = &v
		}
		mirrorRecord, hasMirror := mirrorByKey[key]
		if hasMirror {
			v := mirrorRecord.Issue
			mirrorPtr = &v
			if fi, ok := forgeByNum[mirrorRecord.Issue.ForgeNum]; ok && mirrorRecord.Issue.ForgeNum != 0 {
				converted := convertForgeIssue(fi)
				forgePtr = &converted
			}
		}

		rec, err := issue.Reconcile(key, localPtr, mirrorPtr, forgePtr, policy)
		if err != nil {
			continue
		}
		result.Reconciled++
		if len(rec.Conflicts) > 0 {
			result.Conflicts++
			c.Log.Warnw("issue reconciliation left unresolved conflicts", "repo_id", c.RepoID, "issue_id", key, "fields", len(rec.Conflicts))
			// Surface conflicts without writing through: the existing
			// local record stands until an operator or a later pass
			// resolves the disagreement.
			if localPtr != nil {
				resolvedLocal = append(resolvedLocal, *localPtr)
			}
			continue
		}

		resolved := rec.Resolved
		resolved.ID = key

		wasClosed := localPtr != nil && localPtr.Status == issue.StatusClosed
		if resolved.Status == issue.StatusClosed && !wasClosed {
			resolved.ClosedAt = time.Now()
			result.ClosedIDs = append(result.ClosedIDs, key)
		}

		resolved, err = c.applyReconciledIssue(ctx, gh, owner, name, resolved, forgePtr)
		if err != nil {
			c.Log.Warnw("failed applying reconciled issue to forge", "repo_id", c.RepoID, "issue_id", key, "error", err.Error())
		}

		if err := c.Store.SaveMirrorIssue(store.MirrorIssue{RepoID: c.RepoID, Key: key, Issue: resolved, UpdatedAt: time.Now()}); err != nil {
			c.Log.Warnw("failed saving mirror issue", "repo_id", c.RepoID, "issue_id", key, "error", err.Error())
		}

		resolvedLocal = append(resolvedLocal, resolved)
	}

	result.NewlyBlockedIDs = recomputeBlockedStatus(resolvedLocal, localByKey)

	if err := reg.Save(resolvedLocal); err != nil {
		return result, fmt.Errorf("save reconciled local issues: %w", err)
	}
	return result, nil
}

// recomputeBlockedStatus re-derives status=blocked over the fully
// resolved set per §3's invariant (status=blocked iff some depends-on
// edge targets a non-closed issue), mutating resolvedLocal in place,
// and returns the IDs that just transitioned into blocked so the caller
// can run the router's on-blocked hook (§4.I). Closed issues are never
// reclassified.
func recomputeBlockedStatus(resolvedLocal []issue.Issue, previousByKey map[string]issue.Issue) []string {
	graph := issue.NewGraph(resolvedLocal)
	var newlyBlocked []string
	for i, iss := range resolvedLocal {
		if iss.Status == issue.StatusClosed {
			continue
		}
		blocked := graph.IsBlocked(iss.ID)
		switch {
		case blocked && iss.Status != issue.StatusBlocked:
			wasBlocked := previousByKey[iss.ID].Status == issue.StatusBlocked
			resolvedLocal[i].Status = issue.StatusBlocked
			if !wasBlocked {
				newlyBlocked = append(newlyBlocked, iss.ID)
			}
		case !blocked && iss.Status == issue.StatusBlocked:
			resolvedLocal[i].Status = issue.StatusOpen
		}
	}
	return newlyBlocked
}

// applyReconciledIssue pushes the resolved record to the forge: creating
// it if this is the first time it has been mirrored, updating it
// otherwise, and closing it if the resolved status says so. It returns
// resolved with ForgeNum filled in when a create just assigned one, since
// the caller needs that value to persist the mirror and local records.
func (c *Coordinator) applyReconciledIssue(ctx context.Context, gh ghclient.Client, owner, name string, resolved issue.Issue, forgePtr *issue.Issue) (issue.Issue, error) {
	req := &github.IssueRequest{
		Title:  github.Ptr(resolved.Title),
		Body:   github.Ptr(resolved.Body),
		Labels: &resolved.Labels,
	}
	if resolved.Assignee != "" {
		req.Assignees = &[]string{resolved.Assignee}
	}

	if forgePtr == nil || resolved.ForgeNum == 0 {
		created, err := gh.CreateIssue(ctx, owner, name, req)
		if err != nil {
			return resolved, fmt.Errorf("create forge issue: %w", err)
		}
		resolved.ForgeNum = created.GetNumber()
		return resolved, nil
	}

	if _, err := gh.UpdateIssue(ctx, owner, name, resolved.ForgeNum, req); err != nil {
		return resolved, fmt.Errorf("update forge issue: %w", err)
	}
	if resolved.Status == issue.StatusClosed && forgePtr.Status != issue.StatusClosed {
		if err := gh.CloseIssue(ctx, owner, name, resolved.ForgeNum); err != nil {
			return resolved, fmt.Errorf("close forge issue: %w", err)
		}
	}
	return resolved, nil
}

// convertForgeIssue maps a GitHub issue onto the canonical Issue shape
// the reconciler operates on. Only the fields the reconciler's field
// accessors read are populated; edges and kind have no forge-side
// equivalent and are left zero.
func convertForgeIssue(fi *github.Issue) issue.Issue {
	status := issue.StatusOpen
	if fi.GetState() == "closed" {
		status = issue.StatusClosed
	}
	assignee := ""
	if fi.Assignee != nil {
		assignee = fi.Assignee.GetLogin()
	}
	priority := 2
	for _, l := range fi.Labels {
		if p, ok := priorityFromLabel(l.GetName()); ok {
			priority = p
		}
	}
	return issue.Issue{
		ForgeNum:  fi.GetNumber(),
		Title:     fi.GetTitle(),
		Body:      fi.GetBody(),
		Status:    status,
		Priority:  priority,
		Assignee:  assignee,
		UpdatedAt: fi.GetUpdatedAt().Time,
	}
}

func priorityFromLabel(name string) (int, bool) {
	for p := 0; p <= 4; p++ {
		if name == issue.PriorityLabel(p) {
			return p, true
		}
	}
	return 0, false
}
