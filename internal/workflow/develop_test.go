package workflow

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/internal/gitio"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/sandbox"
	"github.com/devflow-ai/devflow/internal/store"
	"github.com/devflow-ai/devflow/internal/transport"
)

var testAuthor = object.Signature{Name: "devflow-bot", Email: "bot@devflow.invalid", When: time.Now()}

// fakeAgentHandle drives the server side of a sandbox connection: on a
// spawn request it emits a fixed stdout line and exits 0.
type fakeAgentHandle struct {
	exitCode int32
}

func (h *fakeAgentHandle) Connect(ctx context.Context) (*transport.Conn, error) {
	clientSide, serverSide := net.Pipe()
	serverConn := transport.NewConn(serverSide)
	go func() {
		for f := range serverConn.Recv() {
			if f.Stream == transport.StreamSpawnRequest {
				_ = serverConn.Send(transport.Frame{Stream: transport.StreamStdout, Payload: []byte("done\n")})
				_ = serverConn.SendExit(h.exitCode)
				return
			}
		}
	}()
	return transport.NewConn(clientSide), nil
}

func (h *fakeAgentHandle) Teardown(ctx context.Context) error { return nil }

type fakeBackend struct{ exitCode int32 }

func (b *fakeBackend) Create(ctx context.Context, opts sandbox.CreateOptions) (sandbox.ContainerHandle, error) {
	return &fakeAgentHandle{exitCode: b.exitCode}, nil
}

type fakeGH struct {
	createErr error
	pr        *github.PullRequest
}

func (f *fakeGH) RequestReviewers(ctx context.Context, owner, repo string, prNumber int, reviewers github.ReviewersRequest) error {
	return nil
}
func (f *fakeGH) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error) {
	return nil, nil
}
func (f *fakeGH) ListReviews(ctx context.Context, owner, repo string, prNumber int) ([]*github.PullRequestReview, error) {
	return nil, nil
}
func (f *fakeGH) ListReviewComments(ctx context.Context, owner, repo string, prNumber int) ([]*github.PullRequestComment, error) {
	return nil, nil
}
func (f *fakeGH) MarkPRReadyForReview(ctx context.Context, owner, repo string, prNumber int) error {
	return nil
}
func (f *fakeGH) GetPullRequestByBranch(ctx context.Context, owner, repo, branch string) (*github.PullRequest, error) {
	return nil, nil
}
func (f *fakeGH) CreatePullRequest(ctx context.Context, owner, repo string, req *github.NewPullRequest) (*github.PullRequest, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.pr != nil {
		return f.pr, nil
	}
	return &github.PullRequest{Number: github.Ptr(7), HTMLURL: github.Ptr("https://example.test/pr/7")}, nil
}
func (f *fakeGH) MergePullRequest(ctx context.Context, owner, repo string, prNumber int, mergeMethod string) error {
	return nil
}
func (f *fakeGH) CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (*github.Issue, error) {
	return nil, nil
}
func (f *fakeGH) CloseIssue(ctx context.Context, owner, repo string, number int) error { return nil }
func (f *fakeGH) UpdateIssue(ctx context.Context, owner, repo string, number int, req *github.IssueRequest) (*github.Issue, error) {
	return nil, nil
}
func (f *fakeGH) ListMilestones(ctx context.Context, owner, repo string) ([]*github.Milestone, error) {
	return nil, nil
}

// setupBareRemote creates an empty bare repo and returns its path, for a
// test to add as the "origin" remote of a working clone so Push succeeds.
func setupBareRemote(t *testing.T) (remoteURL string) {
	t.Helper()
	bareDir := t.TempDir()
	_, err := goGit.PlainInit(bareDir, true)
	require.NoError(t, err)
	return bareDir
}

func newTestRunner(t *testing.T, exitCode int32, ghClient *fakeGH) (*Runner, string) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := sandbox.NewRegistry(&fakeBackend{exitCode: exitCode}, observability.NewNop())
	seq := 0
	dirs := t.TempDir()

	return &Runner{
		Registry: reg,
		Store:    st,
		GH:       ghClient,
		Log:      observability.NewNop(),
		CloneDir: func() (string, error) {
			seq++
			d := filepath.Join(dirs, "clone")
			return d, nil
		},
	}, dirs
}

func seedLocalOrigin(t *testing.T, cloneDir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cloneDir, 0o755))
	repo, err := goGit.PlainInit(cloneDir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cloneDir, "README.md"), []byte("hi\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("init", &goGit.CommitOptions{Author: &testAuthor})
	require.NoError(t, err)
}

func TestRunnerExecuteCapturesStdoutAndSucceedsOnExitZero(t *testing.T) {
	r, _ := newTestRunner(t, 0, &fakeGH{})
	sessionID, _, err := r.Registry.CreateSession(context.Background(), "", sandbox.CreateOptions{TTL: time.Minute})
	require.NoError(t, err)

	stderr, err := r.execute(context.Background(), sessionID, Params{
		AgentCmd: []string{"agent", "run"},
		Issue:    issue.Issue{ID: "DEVFLOW-1", Body: "do the thing"},
	})
	require.NoError(t, err)
	require.Empty(t, stderr)
}

func TestRunnerExecuteFailsOnNonZeroExit(t *testing.T) {
	r, _ := newTestRunner(t, 1, &fakeGH{})
	sessionID, _, err := r.Registry.CreateSession(context.Background(), "", sandbox.CreateOptions{TTL: time.Minute})
	require.NoError(t, err)

	_, err = r.execute(context.Background(), sessionID, Params{
		AgentCmd: []string{"agent", "run"},
		Issue:    issue.Issue{ID: "DEVFLOW-1"},
	})
	require.Error(t, err)
}

func TestPushWithRetrySucceedsWhenRemoteConfigured(t *testing.T) {
	bareDir := setupBareRemote(t)
	cloneDir := t.TempDir()
	seedLocalOrigin(t, filepath.Join(cloneDir, "work"))

	repo, err := gitio.Open(filepath.Join(cloneDir, "work"), "", "")
	require.NoError(t, err)
	require.NoError(t, repo.AddRemote("origin", bareDir))

	r := &Runner{}
	require.NoError(t, r.pushWithRetry(context.Background(), repo, "DEVFLOW-1", "main"))
}

func TestPushWithRetryFailsWithoutRemote(t *testing.T) {
	cloneDir := t.TempDir()
	seedLocalOrigin(t, cloneDir)
	repo, err := gitio.Open(cloneDir, "", "")
	require.NoError(t, err)

	r := &Runner{}
	err = r.pushWithRetry(context.Background(), repo, "DEVFLOW-1", "main")
	require.Error(t, err)
}

func TestNewWorkflowIDIsNonEmpty(t *testing.T) {
	require.NotEmpty(t, NewWorkflowID())
}
