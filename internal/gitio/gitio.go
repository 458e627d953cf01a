// Package gitio wraps the git plumbing devflow needs for the beads
// mirror's commit-back path and the develop workflow's branch push,
// grounded on bkyoung-code-reviewer/internal/adapter/git/engine.go:
// go-git for the common path (open, resolve, commit, push), with
// os/exec shell-outs where go-git has no equivalent (fetch/rebase),
// matching that file's own diffWithWorkingTree helper.
package gitio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Repo wraps one checked-out clone.
type Repo struct {
	dir   string
	auth  *http.BasicAuth
	repo  *goGit.Repository
}

// CloneOptions configures Clone.
type CloneOptions struct {
	URL      string
	Dir      string
	Ref      string
	Depth    int
	Username string
	Token    string
}

// Clone performs a shallow clone of URL into Dir at Ref (empty for the
// default branch).
func Clone(ctx context.Context, opts CloneOptions) (*Repo, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	auth := &http.BasicAuth{Username: opts.Username, Password: opts.Token}

	cloneOpts := &goGit.CloneOptions{
		URL:   opts.URL,
		Depth: depth,
		Auth:  auth,
	}
	if opts.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Ref)
		cloneOpts.SingleBranch = true
	}

	repo, err := goGit.PlainCloneContext(ctx, opts.Dir, false, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", opts.URL, err)
	}
	return &Repo{dir: opts.Dir, auth: auth, repo: repo}, nil
}

// Open opens an existing clone at dir.
func Open(dir string, username, token string) (*Repo, error) {
	repo, err := goGit.PlainOpenWithOptions(dir, &goGit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return &Repo{dir: dir, auth: &http.BasicAuth{Username: username, Password: token}, repo: repo}, nil
}

// Dir returns the repository's working directory.
func (r *Repo) Dir() string { return r.dir }

// CreateBranch creates and checks out a new branch named name from the
// current HEAD, the step the develop workflow takes before a sandbox
// session starts writing.
func (r *Repo) CreateBranch(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(name)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(ref, head.Hash())); err != nil {
		return fmt.Errorf("create branch ref: %w", err)
	}
	if err := wt.Checkout(&goGit.CheckoutOptions{Branch: ref}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", name, err)
	}
	return nil
}

// CommitAll stages every pending change and commits it under the given
// author identity, the primitive both the sync coordinator's commit-back
// path and the develop workflow's result-push step build on.
func (r *Repo) CommitAll(message, authorName, authorEmail string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	if _, err := wt.Add("."); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &goGit.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// Push pushes the current branch to origin.
func (r *Repo) Push(ctx context.Context) error {
	err := r.repo.PushContext(ctx, &goGit.PushOptions{
		RemoteName: "origin",
		Auth:       r.auth,
	})
	if err != nil && err != goGit.NoErrAlreadyUpToDate {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// Fetch shells out to git fetch, matching bkyoung's own decision to shell
// out for operations go-git doesn't model cleanly (there, working-tree
// diffs; here, a ref update go-git's FetchContext can't easily scope to
// one branch without extra refspec plumbing).
func (r *Repo) Fetch(ctx context.Context, remoteRef string) error {
	_, err := runGit(ctx, r.dir, "fetch", "--depth", "1", "origin", remoteRef)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", remoteRef, err)
	}
	return nil
}

// RebaseOnto rebases the current branch onto ref via the git CLI, since
// go-git ships no merge-driver or rebase primitive.
func (r *Repo) RebaseOnto(ctx context.Context, ref string) error {
	_, err := runGit(ctx, r.dir, "rebase", ref)
	if err != nil {
		abortOut, abortErr := runGit(ctx, r.dir, "rebase", "--abort")
		if abortErr != nil {
			return fmt.Errorf("rebase onto %s: %w (abort also failed: %s)", ref, err, abortOut)
		}
		return fmt.Errorf("rebase onto %s: %w", ref, err)
	}
	return nil
}

// HeadCommit returns the current HEAD commit hash.
func (r *Repo) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// AddRemote registers a remote, used when a bare local clone needs an
// origin pointed at the forge URL.
func (r *Repo) AddRemote(name, url string) error {
	_, err := r.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if err != nil && err != goGit.ErrRemoteExists {
		return fmt.Errorf("add remote %s: %w", name, err)
	}
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}
