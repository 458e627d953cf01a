package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	goGit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/internal/gitio"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.SaveRepoBinding(store.RepoBinding{ID: "r1", Owner: "a", Name: "b"}))

	return New("r1", st, observability.NewNop()), st
}

func TestEnqueueAndGetStatus(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.EnqueueSync("issue_push", "dedupe-1", `{"n":1}`))

	status, err := c.GetStatus()
	require.NoError(t, err)
	require.Equal(t, store.SyncIdle, status.State)
}

func TestRunOnceNoopWithoutQueuedWork(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.RunOnce(context.Background(), nil, nil, "main"))

	status, err := c.GetStatus()
	require.NoError(t, err)
	require.Equal(t, store.SyncIdle, status.State)
}

func TestRunOnceSucceedsWithNoRegOrRepo(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.EnqueueSync("issue_push", "dedupe-1", `{"n":1}`))
	require.NoError(t, c.RunOnce(context.Background(), nil, nil, "main"))

	status, err := c.GetStatus()
	require.NoError(t, err)
	require.Equal(t, store.SyncIdle, status.State)
	require.Len(t, status.Recent, 1)
}

func TestRunOnceEntersBackoffOnPushFailure(t *testing.T) {
	c, _ := newTestCoordinator(t)

	dir := t.TempDir()
	gr, err := goGit.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644))
	wt, err := gr.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	repo, err := gitio.Open(dir, "", "")
	require.NoError(t, err)

	require.NoError(t, c.EnqueueSync("issue_push", "dedupe-1", `{"n":1}`))
	err = c.RunOnce(context.Background(), nil, repo, "main")
	require.Error(t, err, "push with no configured remote must fail")

	status, err := c.GetStatus()
	require.NoError(t, err)
	require.Equal(t, store.SyncBackoff, status.State)
	require.Equal(t, 1, status.ErrorCount)
}

func TestResetReturnsToIdle(t *testing.T) {
	c, st := newTestCoordinator(t)
	require.NoError(t, st.SaveSyncState(store.SyncState{RepoID: "r1", State: store.SyncBackoff, ErrorCount: 3}))

	require.NoError(t, c.Reset())

	status, err := c.GetStatus()
	require.NoError(t, err)
	require.Equal(t, store.SyncIdle, status.State)
	require.Equal(t, 0, status.ErrorCount)
}
