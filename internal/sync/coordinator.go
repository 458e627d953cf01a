// Package sync implements the per-repository sync coordinator: a
// durable, single-writer state machine serializing commit-back against
// one repository's beads file. Grounded on server/reviewloop.go's
// phase-as-field + append-only-history idiom (ReviewLoop.Phase,
// ReviewLoop.History, saveReviewLoop persisting the whole record after
// each transition), applied here to a per-repository entity instead of
// a per-PR one.
package sync

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/devflow-ai/devflow/internal/gitio"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/store"
)

const (
	maxErrorCount  = 5
	backoffBase    = 2 * time.Second
	backoffMax     = 2 * time.Minute
	maxPushRetries = 3
)

// Status is the externally visible view GetStatus() returns.
type Status struct {
	State       store.SyncPhase
	ErrorCount  int
	LastSuccess time.Time
	Recent      []store.SyncHistoryEntry
}

// Coordinator owns one repository's sync state machine.
type Coordinator struct {
	RepoID string
	Store  *store.Store
	Log    *observability.Logger
}

// New constructs a Coordinator for repoID.
func New(repoID string, st *store.Store, log *observability.Logger) *Coordinator {
	return &Coordinator{RepoID: repoID, Store: st, Log: log}
}

// EnqueueSync enqueues a sync request, collapsing duplicate payloads by
// dedupeKey.
func (c *Coordinator) EnqueueSync(kind, dedupeKey, payload string) error {
	_, err := c.Store.EnqueueSync(c.RepoID, kind, dedupeKey, payload)
	if err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}
	return nil
}

// GetStatus returns the coordinator's current state and recent history.
func (c *Coordinator) GetStatus() (Status, error) {
	st, err := c.Store.LoadSyncState(c.RepoID)
	if err != nil {
		return Status{}, err
	}
	recent, err := c.Store.RecentSyncHistory(c.RepoID, 20)
	if err != nil {
		return Status{}, err
	}
	return Status{State: st.State, ErrorCount: st.ErrorCount, LastSuccess: st.LastSuccess, Recent: recent}, nil
}

// Reset returns the coordinator to idle with counters zeroed.
func (c *Coordinator) Reset() error {
	return c.Store.ResetSync(c.RepoID)
}

// RunOnce drains one queued sync request, transitioning
// idle→syncing→idle on success or idle→syncing→backoff on failure. It
// serializes itself per repository through the store's per-entity Lock;
// re-invoking it on a schedule or after an enqueue is the caller's job.
func (c *Coordinator) RunOnce(ctx context.Context, reg *issue.JSONLStore, repo *gitio.Repo, defaultBranch string) error {
	lock := c.Store.Lock("repo:" + c.RepoID)
	lock.Lock()
	defer lock.Unlock()

	st, err := c.Store.LoadSyncState(c.RepoID)
	if err != nil {
		return err
	}
	if st.State == store.SyncBackoff && !c.backoffElapsed(st) {
		return nil
	}

	_, kind, payload, ok, err := c.Store.DequeueSync(c.RepoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	st.State = store.SyncSyncing
	if err := c.Store.SaveSyncState(st); err != nil {
		return err
	}

	if err := c.apply(ctx, reg, repo, kind, payload, defaultBranch); err != nil {
		st.ErrorCount++
		if st.ErrorCount >= maxErrorCount {
			c.Log.Warnw("sync coordinator exceeded max error count, staying in backoff", "repo_id", c.RepoID, "error_count", st.ErrorCount)
		}
		st.State = store.SyncBackoff
		if saveErr := c.Store.SaveSyncState(st); saveErr != nil {
			return saveErr
		}
		_ = c.Store.RecordSyncHistory(c.RepoID, store.SyncHistoryEntry{Source: "coordinator", Action: "sync_failed: " + err.Error(), Timestamp: time.Now()})
		return fmt.Errorf("sync %s: %w", kind, err)
	}

	st.State = store.SyncIdle
	st.ErrorCount = 0
	st.LastSuccess = time.Now()
	if repo != nil {
		if head, herr := repo.HeadCommit(); herr == nil {
			st.LastCommit = head
		}
	}
	if err := c.Store.SaveSyncState(st); err != nil {
		return err
	}
	return c.Store.RecordSyncHistory(c.RepoID, store.SyncHistoryEntry{Source: "coordinator", Action: "sync_ok: " + kind, Timestamp: time.Now()})
}

func (c *Coordinator) backoffElapsed(st store.SyncState) bool {
	delay := backoffBase * time.Duration(1<<uint(minInt(st.ErrorCount, 6)))
	if delay > backoffMax {
		delay = backoffMax
	}
	return time.Since(st.LastSuccess) >= delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// apply is a seam for the actual beads-file mutation and commit-back;
// callers supply the mutation as part of payload handling upstream
// (internal/httpapi/internal/assign wire the kind-specific behavior in
// through reg/repo). Kept minimal here: write-through plus commit-back
// with bounded retry.
func (c *Coordinator) apply(ctx context.Context, reg *issue.JSONLStore, repo *gitio.Repo, kind, payload, defaultBranch string) error {
	_ = reg
	if repo == nil {
		return nil
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return c.commitBackWithRetry(ctx, repo, fmt.Sprintf("devflow sync: %s", kind), defaultBranch)
}

// commitBackWithRetry commits and pushes the working tree, making up to
// maxPushRetries attempts; between attempts it fetches and rebases onto
// the repository's configured default branch rather than assuming
// "main", since a binding's DefaultBranch can be master/develop/anything
// else. There is no merge fallback: when the rebase fails it waits a
// jittered delay and pushes again, and after the last attempt it returns
// the last error.
func (c *Coordinator) commitBackWithRetry(ctx context.Context, repo *gitio.Repo, message, defaultBranch string) error {
	var lastErr error
	for attempt := 0; attempt < maxPushRetries; attempt++ {
		_, err := repo.CommitAll(message, "devflow-bot", "devflow-bot@users.noreply.github.com")
		if err != nil && err != gitio.ErrNothingToCommit {
			return fmt.Errorf("commit beads file: %w", err)
		}

		if pushErr := repo.Push(ctx); pushErr == nil {
			return nil
		} else {
			lastErr = pushErr
		}

		if fetchErr := repo.Fetch(ctx, defaultBranch); fetchErr != nil {
			lastErr = fetchErr
			continue
		}
		if rebaseErr := repo.RebaseOnto(ctx, "origin/"+defaultBranch); rebaseErr != nil {
			lastErr = rebaseErr
			// Rebase failed; a real merge-driver fallback would resolve
			// the JSONL conflict here. Record and retry the loop, which
			// will attempt the push again after a jittered delay.
			time.Sleep(jitter(attempt))
			continue
		}
	}
	return fmt.Errorf("commit-back failed after %d attempts: %w", maxPushRetries, lastErr)
}

func jitter(attempt int) time.Duration {
	base := backoffBase * time.Duration(1<<uint(attempt))
	return base + time.Duration(rand.Int63n(int64(base)))
}
