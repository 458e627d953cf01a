// Package workflow implements the develop workflow: the
// clone → sandbox-execute → push → open-PR pipeline run for one
// (issue, agent) pair. Orchestration shape grounded on the teacher's
// HITL workflow (hitl.go: startContextReview → planner agent → plan
// review → implementer agent, each step persisted and resumable)
// collapsed to this spec's simpler pipeline.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/internal/ghclient"
	"github.com/devflow-ai/devflow/internal/gitio"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/sandbox"
	"github.com/devflow-ai/devflow/internal/store"
	"github.com/devflow-ai/devflow/internal/transport"
)

// Runner executes develop workflows.
type Runner struct {
	Registry *sandbox.Registry
	Store    *store.Store
	GH       ghclient.Client
	Log      *observability.Logger

	// CloneDir is the parent directory under which each workflow's
	// working clone is created.
	CloneDir func() (string, error)

	// activeConns tracks the one transport.Conn each running session's
	// execute() is driving its spawned agent over, keyed by session ID,
	// so Cancel can deliver signals on the same connection the process
	// was spawned on: per §4.B, a connection's spawn requests and the
	// signals that target them are scoped to that connection alone.
	activeConns sync.Map
}

// Params describes one workflow invocation.
type Params struct {
	WorkflowID  string
	RepoBinding store.RepoBinding
	Issue       issue.Issue
	AgentName   string
	AgentCmd    []string
	GitHubToken string
}

// Outcome is the terminal result of a develop workflow.
type Outcome struct {
	State    store.IntentState
	PRNumber int
	PRURL    string
	Stderr   string
}

// Run executes the full pipeline, returning the terminal intent state.
// Callers persist Outcome.State onto the AssignmentIntent.
func (r *Runner) Run(ctx context.Context, p Params) (Outcome, error) {
	sessionID, _, err := r.Registry.CreateSession(ctx, "", sandbox.CreateOptions{
		Secrets: map[string]string{"GITHUB_TOKEN": p.GitHubToken},
		TTL:     30 * time.Minute,
	})
	if err != nil {
		return Outcome{State: store.IntentFailed}, fmt.Errorf("acquire sandbox session: %w", err)
	}
	defer func() { _ = r.Registry.DeleteSession(context.Background(), sessionID) }()

	cloneDir, err := r.CloneDir()
	if err != nil {
		return Outcome{State: store.IntentFailed}, fmt.Errorf("prepare clone dir: %w", err)
	}

	repoURL := fmt.Sprintf("https://github.com/%s.git", p.RepoBinding.FullName())
	repo, err := gitio.Clone(ctx, gitio.CloneOptions{
		URL:      repoURL,
		Dir:      cloneDir,
		Ref:      p.RepoBinding.DefaultBranch,
		Username: "x-access-token",
		Token:    p.GitHubToken,
	})
	if err != nil {
		return Outcome{State: store.IntentFailed}, fmt.Errorf("clone repo: %w", err)
	}

	branch := fmt.Sprintf("%s/%s", p.AgentName, p.Issue.ID)
	if err := repo.CreateBranch(branch); err != nil {
		return Outcome{State: store.IntentFailed}, fmt.Errorf("create branch: %w", err)
	}

	stderr, execErr := r.execute(ctx, sessionID, p)
	if execErr != nil {
		return Outcome{State: store.IntentFailed, Stderr: stderr}, fmt.Errorf("sandbox execution failed: %w", execErr)
	}

	if err := r.pushWithRetry(ctx, repo, p.Issue.ID, p.RepoBinding.DefaultBranch); err != nil {
		return Outcome{State: store.IntentFailed, Stderr: stderr}, fmt.Errorf("push branch: %w", err)
	}

	pr, err := r.GH.CreatePullRequest(ctx, p.RepoBinding.Owner, p.RepoBinding.Name, &github.NewPullRequest{
		Title: github.Ptr(p.Issue.Title),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(p.RepoBinding.DefaultBranch),
		Body:  github.Ptr(fmt.Sprintf("%s\n\nCloses #%s", p.Issue.Body, p.Issue.ID)),
	})
	if err != nil {
		return Outcome{State: store.IntentFailed, Stderr: stderr}, fmt.Errorf("open pull request: %w", err)
	}

	return Outcome{State: store.IntentDone, PRNumber: pr.GetNumber(), PRURL: pr.GetHTMLURL(), Stderr: stderr}, nil
}

// execute spawns the coding agent in the sandbox session, feeding the
// issue body as its task and capturing stdout/stderr until exit.
func (r *Runner) execute(ctx context.Context, sessionID string, p Params) (stderr string, err error) {
	conn, err := r.Registry.Connect(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("connect to sandbox: %w", err)
	}
	r.activeConns.Store(sessionID, conn)
	defer r.activeConns.Delete(sessionID)
	defer conn.Close()

	cmd := p.AgentCmd[0]
	args := p.AgentCmd[1:]
	if spawnErr := conn.SendSpawn(transport.SpawnRequest{
		Cmd:  cmd,
		Args: args,
		Env:  map[string]string{"DEVFLOW_ISSUE_BODY": p.Issue.Body},
	}); spawnErr != nil {
		return "", fmt.Errorf("spawn agent: %w", spawnErr)
	}

	var stdoutBuf, stderrBuf []byte
	for {
		select {
		case <-ctx.Done():
			return string(stderrBuf), ctx.Err()
		case f, ok := <-conn.Recv():
			if !ok {
				return string(stderrBuf), conn.Err()
			}
			switch f.Stream {
			case transport.StreamStdout:
				stdoutBuf = append(stdoutBuf, f.Payload...)
			case transport.StreamStderr:
				stderrBuf = append(stderrBuf, f.Payload...)
			case transport.StreamExit:
				code, decErr := transport.DecodeExitCode(f.Payload)
				if decErr != nil {
					return string(stderrBuf), decErr
				}
				if code != 0 {
					return string(stderrBuf), fmt.Errorf("agent exited with code %d", code)
				}
				return string(stderrBuf), nil
			}
		}
	}
}

// pushWithRetry pushes the current branch, retrying once with a rebase
// against the repository's default branch on failure per §4.G's "a push
// failure retries once with rebase" rule.
func (r *Runner) pushWithRetry(ctx context.Context, repo *gitio.Repo, issueID, defaultBranch string) error {
	if _, err := repo.CommitAll(fmt.Sprintf("devflow: implement %s", issueID), "devflow-bot", "devflow-bot@users.noreply.github.com"); err != nil && err != gitio.ErrNothingToCommit {
		return err
	}

	if err := repo.Push(ctx); err == nil {
		return nil
	}

	if err := repo.Fetch(ctx, defaultBranch); err != nil {
		return fmt.Errorf("fetch before retry: %w", err)
	}
	if err := repo.RebaseOnto(ctx, "origin/"+defaultBranch); err != nil {
		return fmt.Errorf("rebase before retry: %w", err)
	}
	return repo.Push(ctx)
}

// Cancel interrupts a running workflow's sandbox process: SIGTERM, a
// brief grace period, then SIGKILL, releasing the session afterward.
// Both signals are delivered on the same connection execute() spawned
// the agent on — per §4.B, a connection's spawn requests and the
// signals targeting them are scoped to that connection alone, so
// signalling over a freshly opened connection would never reach the
// running process.
func (r *Runner) Cancel(ctx context.Context, sessionID string) error {
	signalActive := func(name string) {
		if v, ok := r.activeConns.Load(sessionID); ok {
			_ = v.(*transport.Conn).SendSignal(name)
		}
	}

	signalActive("SIGTERM")

	grace, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	<-grace.Done()

	signalActive("SIGKILL")

	return r.Registry.DeleteSession(ctx, sessionID)
}

// NewWorkflowID generates a fresh workflow identifier.
func NewWorkflowID() string { return uuid.NewString() }
