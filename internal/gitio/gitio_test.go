package gitio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

var testAuthor = object.Signature{Name: "devflow-bot", Email: "bot@devflow.invalid", When: time.Now()}

func initRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := goGit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial commit", &goGit.CommitOptions{
		Author: &testAuthor,
	})
	require.NoError(t, err)

	return &Repo{dir: dir, repo: repo}
}

func TestCreateBranchChecksOutNewRef(t *testing.T) {
	r := initRepo(t)
	require.NoError(t, r.CreateBranch("agent-a/DEVFLOW-1"))

	head, err := r.repo.Head()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/agent-a/DEVFLOW-1", head.Name().String())
}

func TestCommitAllReturnsErrNothingToCommitOnCleanTree(t *testing.T) {
	r := initRepo(t)
	_, err := r.CommitAll("no-op", "devflow-bot", "bot@devflow.invalid")
	require.ErrorIs(t, err, ErrNothingToCommit)
}

func TestCommitAllCommitsPendingChanges(t *testing.T) {
	r := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.dir, "NEW.md"), []byte("new file\n"), 0o644))

	hash, err := r.CommitAll("add file", "devflow-bot", "bot@devflow.invalid")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	head, err := r.HeadCommit()
	require.NoError(t, err)
	require.Equal(t, hash, head)
}
