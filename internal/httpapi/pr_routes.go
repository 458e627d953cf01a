package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/go-github/v68/github"

	"github.com/devflow-ai/devflow/internal/ghclient"
)

type prCreateRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

type prResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func (s *Server) handlePRCreate(w http.ResponseWriter, r *http.Request) {
	var req prCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}
	if s.GH == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "github client not configured")
		return
	}

	pr, err := s.GH.CreatePullRequest(r.Context(), req.Owner, req.Name, &github.NewPullRequest{
		Title: github.Ptr(req.Title),
		Head:  github.Ptr(req.Head),
		Base:  github.Ptr(req.Base),
		Body:  github.Ptr(req.Body),
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "Transient", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prResponse{Number: pr.GetNumber(), HTMLURL: pr.GetHTMLURL()})
}

type prReviewRequest struct {
	URL      string `json:"url"`
	Reviewer string `json:"reviewer"`
	State    string `json:"state"`
	Body     string `json:"body"`
}

// handlePRReview lets an operator replay a review decision into the
// PR-DO state machine directly, without waiting on GitHub's webhook
// delivery — useful when re-running a reconciliation after an outage.
func (s *Server) handlePRReview(w http.ResponseWriter, r *http.Request) {
	var req prReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}
	ref, err := ghclient.ParsePRURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}
	binding, ok := s.bindingForRepo(ref.Owner + "/" + ref.Repo)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown repository")
		return
	}
	rec, err := s.PRDO.ReviewSubmitted(binding.ID, ref.Number, req.Reviewer, req.State, req.Body)
	if err != nil {
		writeErrKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type prMergeRequest struct {
	URL         string `json:"url"`
	MergeMethod string `json:"merge_method,omitempty"`
}

// handlePRMerge merges the PR named by the request URL through the forge
// and then records the close as merged in PR-DO. It does not consult
// PR-DO's ready-to-merge predicate first. When the caller names no merge
// method it uses squash; the configured merge.type is not read.
func (s *Server) handlePRMerge(w http.ResponseWriter, r *http.Request) {
	var req prMergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}
	ref, err := ghclient.ParsePRURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}
	binding, ok := s.bindingForRepo(ref.Owner + "/" + ref.Repo)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown repository")
		return
	}
	if s.GH == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "github client not configured")
		return
	}

	mergeMethod := req.MergeMethod
	if mergeMethod == "" {
		mergeMethod = "squash"
	}
	if err := s.GH.MergePullRequest(r.Context(), binding.Owner, binding.Name, ref.Number, mergeMethod); err != nil {
		writeError(w, http.StatusBadGateway, "Transient", err.Error())
		return
	}
	if _, err := s.PRDO.Closed(binding.ID, ref.Number, true); err != nil {
		writeErrKind(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
