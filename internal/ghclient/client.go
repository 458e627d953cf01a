// Package ghclient wraps the subset of the GitHub API devflow needs,
// extending the teacher's server/ghclient/client.go (same Client
// interface shape, same auto-paginating list helpers, same
// NewClient/NewClientWithGitHub split for test injection) with the
// issue, pull-request-creation, merge, and milestone operations the
// teacher's single-reviewer-bot scope never required.
package ghclient

import (
	"context"

	"github.com/google/go-github/v68/github"
)

// Client wraps the GitHub operations devflow's forge adapter needs:
// issue lifecycle, PR creation/review/merge, and milestones.
type Client interface {
	// RequestReviewers adds reviewers (users and/or teams) to a PR.
	RequestReviewers(ctx context.Context, owner, repo string, prNumber int, reviewers github.ReviewersRequest) error

	// CreateComment posts a comment on a PR or issue.
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error)

	// ListReviews returns all reviews on a PR (auto-paginates).
	ListReviews(ctx context.Context, owner, repo string, prNumber int) ([]*github.PullRequestReview, error)

	// ListReviewComments returns all inline review comments on a PR
	// (auto-paginates).
	ListReviewComments(ctx context.Context, owner, repo string, prNumber int) ([]*github.PullRequestComment, error)

	// MarkPRReadyForReview transitions a draft PR to ready-for-review.
	MarkPRReadyForReview(ctx context.Context, owner, repo string, prNumber int) error

	// GetPullRequestByBranch finds an open PR with the given head
	// branch. Returns nil, nil if no matching PR is found.
	GetPullRequestByBranch(ctx context.Context, owner, repo, branch string) (*github.PullRequest, error)

	// CreatePullRequest opens a PR from head onto base.
	CreatePullRequest(ctx context.Context, owner, repo string, req *github.NewPullRequest) (*github.PullRequest, error)

	// MergePullRequest merges a PR using the given merge method
	// ("merge", "squash", "rebase").
	MergePullRequest(ctx context.Context, owner, repo string, prNumber int, mergeMethod string) error

	// CreateIssue creates a forge issue mirroring a local issue.
	CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (*github.Issue, error)

	// CloseIssue closes a forge issue.
	CloseIssue(ctx context.Context, owner, repo string, number int) error

	// UpdateIssue applies partial changes (labels, assignee, body) to a
	// forge issue.
	UpdateIssue(ctx context.Context, owner, repo string, number int, req *github.IssueRequest) (*github.Issue, error)

	// ListMilestones returns all milestones for a repository (auto-paginates).
	ListMilestones(ctx context.Context, owner, repo string) ([]*github.Milestone, error)

	// ListIssues returns every open and closed issue for a repository
	// (auto-paginates), the forge-side snapshot the issue reconciler
	// diffs against the local and mirror records.
	ListIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error)
}

type clientImpl struct {
	gh    *github.Client
	token string // kept from NewClient; no method reads it
}

// NewClient creates a GitHub API client authenticated with the given PAT.
// Returns nil if token is empty.
func NewClient(token string) Client {
	if token == "" {
		return nil
	}
	return &clientImpl{
		gh:    github.NewClient(nil).WithAuthToken(token),
		token: token,
	}
}

// NewClientWithGitHub creates a Client from an existing *github.Client.
// Used in tests to inject a client pointing at an httptest server.
func NewClientWithGitHub(gh *github.Client) Client {
	return &clientImpl{gh: gh}
}

func (c *clientImpl) RequestReviewers(ctx context.Context, owner, repo string, prNumber int, reviewers github.ReviewersRequest) error {
	_, _, err := c.gh.PullRequests.RequestReviewers(ctx, owner, repo, prNumber, reviewers)
	return err
}

func (c *clientImpl) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	return comment, err
}

func (c *clientImpl) ListReviews(ctx context.Context, owner, repo string, prNumber int) ([]*github.PullRequestReview, error) {
	var all []*github.PullRequestReview
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *clientImpl) ListReviewComments(ctx context.Context, owner, repo string, prNumber int) ([]*github.PullRequestComment, error) {
	var all []*github.PullRequestComment
	opts := &github.PullRequestListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := c.gh.PullRequests.ListComments(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, comments...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *clientImpl) GetPullRequestByBranch(ctx context.Context, owner, repo, branch string) (*github.PullRequest, error) {
	prs, _, err := c.gh.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		Head:        owner + ":" + branch,
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

func (c *clientImpl) CreatePullRequest(ctx context.Context, owner, repo string, req *github.NewPullRequest) (*github.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, req)
	return pr, err
}

func (c *clientImpl) MergePullRequest(ctx context.Context, owner, repo string, prNumber int, mergeMethod string) error {
	_, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, prNumber, "", &github.PullRequestOptions{
		MergeMethod: mergeMethod,
	})
	return err
}

func (c *clientImpl) CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (*github.Issue, error) {
	issue, _, err := c.gh.Issues.Create(ctx, owner, repo, req)
	return issue, err
}

func (c *clientImpl) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	_, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{
		State: github.Ptr("closed"),
	})
	return err
}

func (c *clientImpl) UpdateIssue(ctx context.Context, owner, repo string, number int, req *github.IssueRequest) (*github.Issue, error) {
	issue, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, req)
	return issue, err
}

func (c *clientImpl) ListMilestones(ctx context.Context, owner, repo string) ([]*github.Milestone, error) {
	var all []*github.Milestone
	opts := &github.MilestoneListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		milestones, resp, err := c.gh.Issues.ListMilestones(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, milestones...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *clientImpl) ListIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error) {
	var all []*github.Issue
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *clientImpl) MarkPRReadyForReview(ctx context.Context, owner, repo string, prNumber int) error {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return err
	}
	if !pr.GetDraft() {
		return nil
	}
	draft := false
	_, _, err = c.gh.PullRequests.Edit(ctx, owner, repo, prNumber, &github.PullRequest{Draft: &draft})
	return err
}
