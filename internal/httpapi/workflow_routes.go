package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/workflow"
)

type assignRequest struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	IssueID    string `json:"issue_id"`
	Assignee   string `json:"assignee"`
	AgentCmd   []string `json:"agent_cmd"`
	GitHubToken string `json:"github_token"`
}

type assignResponse struct {
	OK         bool   `json:"ok"`
	Triggered  bool   `json:"triggered"`
	Reason     string `json:"reason,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	PRNumber   int    `json:"pr_number,omitempty"`
	PRURL      string `json:"pr_url,omitempty"`
}

// handleAssign evaluates the assignment decision table (§4.F) for one
// issue and, when it triggers, runs the develop workflow synchronously.
// A real deployment would hand the triggered workflow off to a worker
// queue instead of blocking the request; devflow's own workflow package
// has no queue of its own to hand off to, so this endpoint runs it
// inline and reports the terminal outcome.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MalformedPayload", err.Error())
		return
	}

	binding, ok := s.bindingForRepo(req.Owner + "/" + req.Name)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown repository")
		return
	}

	reg := s.beadsStoreFor(binding.ID)
	if reg == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "no local beads checkout configured for this repository")
		return
	}
	issues, err := reg.Load()
	if err != nil {
		writeErrKind(w, err)
		return
	}
	graph := issue.NewGraph(issues)

	target, found := graph.Get(req.IssueID)
	if !found {
		writeError(w, http.StatusNotFound, "NotFound", "unknown issue")
		return
	}

	result, err := s.Assign.Dispatch(binding.ID, &target, req.Assignee, graph)
	if err != nil {
		writeErrKind(w, err)
		return
	}
	resp := assignResponse{OK: result.OK, Triggered: result.Triggered, Reason: result.Reason, WorkflowID: result.WorkflowID}
	if !result.Triggered || s.Workflow == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	target.Assignee = req.Assignee
	outcome, err := s.Workflow.Run(r.Context(), workflow.Params{
		WorkflowID:  result.WorkflowID,
		RepoBinding: binding,
		Issue:       target,
		AgentName:   req.Assignee,
		AgentCmd:    req.AgentCmd,
		GitHubToken: req.GitHubToken,
	})
	if err != nil {
		s.Log.Warnw("develop workflow failed", "repo_id", binding.ID, "issue_id", req.IssueID, "error", err.Error())
		resp.Reason = err.Error()
	}
	resp.PRNumber = outcome.PRNumber
	resp.PRURL = outcome.PRURL

	if intent, ierr := s.Store.GetIntent(result.WorkflowID); ierr == nil && intent != nil {
		intent.State = outcome.State
		if outcome.PRNumber != 0 {
			intent.PRNumber = outcome.PRNumber
			intent.HeadRef = fmt.Sprintf("%s/%s", req.Assignee, req.IssueID)
			intent.BaseRef = binding.DefaultBranch
		}
		if serr := s.Store.SaveIntent(*intent); serr != nil {
			s.Log.Warnw("failed recording workflow outcome on intent", "workflow_id", result.WorkflowID, "error", serr.Error())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
