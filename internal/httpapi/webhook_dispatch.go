package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/devflow-ai/devflow/internal/store"
	"github.com/devflow-ai/devflow/internal/webhook"
)

// installationHeader is the GitHub App header naming the installation a
// delivery was sent for, the only repo-identifying data available to
// Gateway.Secrets before the body has been parsed.
const installationHeader = "X-GitHub-Hook-Installation-Target-Id"

// resolveSecret looks up the webhook secret for the installation named
// in the request headers, satisfying webhook.SecretResolver.
func (s *Server) resolveSecret(r *http.Request) (string, bool) {
	raw := r.Header.Get(installationHeader)
	if raw == "" {
		return "", false
	}
	installationID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", false
	}
	binding, err := s.Store.GetRepoBindingByInstallation(installationID)
	if err != nil {
		return "", false
	}
	return binding.WebhookSecret, true
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gw := &webhook.Gateway{
		Secrets:    s.resolveSecret,
		Idempotent: s.Store,
		Dispatch:   s,
		Log:        s.Log,
	}
	gw.ServeHTTP(w, r)
}

func splitFullName(fullName string) (owner, name string) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func (s *Server) bindingForRepo(fullName string) (store.RepoBinding, bool) {
	owner, name := splitFullName(fullName)
	if owner == "" {
		return store.RepoBinding{}, false
	}
	b, err := s.Store.GetRepoBindingByFullName(owner, name)
	if err != nil {
		return store.RepoBinding{}, false
	}
	return b, true
}

func (s *Server) reviewerSeed(repoID string) []string {
	agents, err := s.Store.AgentsForRepo(repoID)
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

// HandlePullRequest implements webhook.Dispatcher: it drives the PR-DO
// state machine for pull_request events and, on a merge, triggers the
// closure cascade for any issue the PR's body marks with a "Closes #"
// reference.
func (s *Server) HandlePullRequest(body []byte) int {
	var event webhook.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return http.StatusBadRequest
	}
	binding, ok := s.bindingForRepo(event.Repository.FullName)
	if !ok {
		return http.StatusNotFound
	}

	switch event.Action {
	case "opened", "reopened":
		_, err := s.PRDO.Opened(binding.ID, event.PullRequest.Number, event.PullRequest.Head.Ref,
			event.PullRequest.Base.Ref, event.PullRequest.User.Login, s.reviewerSeed(binding.ID))
		if err != nil {
			s.Log.Warnw("prdo opened failed", "repo_id", binding.ID, "pr", event.PullRequest.Number, "error", err.Error())
			return http.StatusInternalServerError
		}
	case "synchronize":
		if _, err := s.PRDO.Synchronize(binding.ID, event.PullRequest.Number); err != nil {
			s.Log.Warnw("prdo synchronize failed", "repo_id", binding.ID, "pr", event.PullRequest.Number, "error", err.Error())
			return http.StatusInternalServerError
		}
	case "closed":
		if _, err := s.PRDO.Closed(binding.ID, event.PullRequest.Number, event.PullRequest.Merged); err != nil {
			s.Log.Warnw("prdo closed failed", "repo_id", binding.ID, "pr", event.PullRequest.Number, "error", err.Error())
			return http.StatusInternalServerError
		}
		if event.PullRequest.Merged && s.Routers != nil {
			if err := s.Routers(binding.ID).OnPRMerged(event.PullRequest.Body); err != nil {
				s.Log.Warnw("closure cascade failed", "repo_id", binding.ID, "pr", event.PullRequest.Number, "error", err.Error())
				return http.StatusInternalServerError
			}
		}
	}
	return http.StatusOK
}

// HandlePullRequestReview implements webhook.Dispatcher for
// pull_request_review events, feeding submitted reviews into the PR-DO
// reviewer queue.
func (s *Server) HandlePullRequestReview(body []byte) int {
	var event webhook.PullRequestReviewEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return http.StatusBadRequest
	}
	if event.Action != "submitted" {
		return http.StatusOK
	}
	binding, ok := s.bindingForRepo(event.Repository.FullName)
	if !ok {
		return http.StatusNotFound
	}
	if _, err := s.PRDO.ReviewSubmitted(binding.ID, event.PullRequest.Number, event.Review.User.Login, event.Review.State, event.Review.Body); err != nil {
		s.Log.Warnw("prdo review submitted failed", "repo_id", binding.ID, "pr", event.PullRequest.Number, "error", err.Error())
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// HandleIssues implements webhook.Dispatcher for issues events. The
// assignee and status fields an "issues" event carries are forge-side
// opinions that must still go through the three-way reconciler before
// they're trusted (a concurrent local edit could disagree), so this
// handler only nudges the sync coordinator to run a reconciliation pass
// rather than writing the forge's view straight through.
func (s *Server) HandleIssues(body []byte) int {
	var event webhook.IssuesEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return http.StatusBadRequest
	}
	binding, ok := s.bindingForRepo(event.Repository.FullName)
	if !ok {
		return http.StatusNotFound
	}
	if s.Coordinators == nil {
		return http.StatusOK
	}
	dedupe := event.Repository.FullName + ":issue:" + strconv.Itoa(event.Issue.Number) + ":" + event.Action
	if err := s.Coordinators(binding.ID).EnqueueSync("issue", dedupe, strconv.Itoa(event.Issue.Number)); err != nil {
		s.Log.Warnw("enqueue issue sync failed", "repo_id", binding.ID, "error", err.Error())
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// HandleMilestone implements webhook.Dispatcher for milestone events,
// enqueueing a milestone sync the same way a ROADMAP.md push does.
func (s *Server) HandleMilestone(body []byte) int {
	var event webhook.MilestoneEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return http.StatusBadRequest
	}
	binding, ok := s.bindingForRepo(event.Repository.FullName)
	if !ok {
		return http.StatusNotFound
	}
	if s.Coordinators == nil {
		return http.StatusOK
	}
	dedupe := event.Repository.FullName + ":milestone:" + strconv.Itoa(event.Milestone.Number) + ":" + event.Action
	if err := s.Coordinators(binding.ID).EnqueueSync("milestone", dedupe, strconv.Itoa(event.Milestone.Number)); err != nil {
		s.Log.Warnw("enqueue milestone sync failed", "repo_id", binding.ID, "error", err.Error())
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// HandleInstallation implements webhook.Dispatcher for installation
// events: a new installation (or a repository added to one) registers a
// RepoBinding for every named repository, reusing the server's
// DefaultWebhookSecret since a GitHub App's webhook secret is
// app-scoped, not per-repository.
func (s *Server) HandleInstallation(body []byte) int {
	var event webhook.InstallationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return http.StatusBadRequest
	}
	switch event.Action {
	case "created", "new_permissions_accepted", "repositories_added":
		for _, repo := range event.Repositories {
			owner, name := splitFullName(repo.FullName)
			if owner == "" {
				continue
			}
			existing, err := s.Store.GetRepoBindingByFullName(owner, name)
			id := existing.ID
			if err != nil || id == "" {
				id = owner + "/" + name
			}
			binding := store.RepoBinding{
				ID:             id,
				Owner:          owner,
				Name:           name,
				InstallationID: event.Installation.ID,
				WebhookSecret:  s.DefaultWebhookSecret,
				DefaultBranch:  "main",
			}
			if existing.DefaultBranch != "" {
				binding.DefaultBranch = existing.DefaultBranch
			}
			if err := s.Store.SaveRepoBinding(binding); err != nil {
				s.Log.Warnw("save repo binding failed", "repo", repo.FullName, "error", err.Error())
				return http.StatusInternalServerError
			}
		}
	}
	return http.StatusOK
}

// HandlePush implements webhook.Dispatcher for push events: it
// classifies the commits' changed paths per §4.D and enqueues a sync
// request on the repository's coordinator for each category that saw a
// hit, deduplicated by the push's resulting commit SHA so a retried
// delivery collapses into the request already queued.
func (s *Server) HandlePush(body []byte) int {
	var event webhook.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return http.StatusBadRequest
	}
	binding, ok := s.bindingForRepo(event.Repository.FullName)
	if !ok {
		return http.StatusNotFound
	}
	if s.Coordinators == nil {
		return http.StatusOK
	}

	counts := s.PushClassifier.Classify(event)
	coord := s.Coordinators(binding.ID)
	enqueue := func(kind string, hit int) int {
		if hit == 0 {
			return http.StatusOK
		}
		dedupe := event.After + ":" + kind
		if err := coord.EnqueueSync(kind, dedupe, event.After); err != nil {
			s.Log.Warnw("enqueue push-triggered sync failed", "repo_id", binding.ID, "kind", kind, "error", err.Error())
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}

	if status := enqueue("issue", counts.IssueSync); status != http.StatusOK {
		return status
	}
	if status := enqueue("backlog", counts.BacklogSync); status != http.StatusOK {
		return status
	}
	if status := enqueue("milestone", counts.MilestoneSync); status != http.StatusOK {
		return status
	}
	return http.StatusOK
}

var _ webhook.Dispatcher = (*Server)(nil)
