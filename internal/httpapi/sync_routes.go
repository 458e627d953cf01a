package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/sync"
)

type repoStatusResponse struct {
	RepoID      string `json:"repo_id"`
	State       string `json:"state"`
	ErrorCount  int    `json:"error_count"`
	LastSuccess string `json:"last_success,omitempty"`
	QueueDepth  int    `json:"queue_depth"`
}

func (s *Server) handleRepoStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	binding, ok := s.bindingForRepo(vars["owner"] + "/" + vars["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown repository")
		return
	}
	if s.Coordinators == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "sync coordinators not configured")
		return
	}

	coord := s.Coordinators(binding.ID)
	status, err := coord.GetStatus()
	if err != nil {
		writeErrKind(w, err)
		return
	}
	depth, err := s.Store.QueueDepth(binding.ID)
	if err != nil {
		writeErrKind(w, err)
		return
	}

	resp := repoStatusResponse{
		RepoID:     binding.ID,
		State:      string(status.State),
		ErrorCount: status.ErrorCount,
		QueueDepth: depth,
	}
	if !status.LastSuccess.IsZero() {
		resp.LastSuccess = status.LastSuccess.Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncIssuesRequest struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Policy string `json:"policy,omitempty"`
}

type syncIssuesResponse struct {
	Reconciled int      `json:"reconciled"`
	Conflicts  int      `json:"conflicts"`
	ClosedIDs  []string `json:"closed_ids,omitempty"`
}

// handleSyncIssues runs an on-demand reconciliation pass against the
// local beads store, the server-side mirror, and the forge's current
// issue list, applying the resolved records back to all three sides.
func (s *Server) handleSyncIssues(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	binding, ok := s.bindingForRepo(vars["owner"] + "/" + vars["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown repository")
		return
	}
	if s.Coordinators == nil || s.GH == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "sync coordinators or github client not configured")
		return
	}

	policy := issue.PolicySurfaceConflict
	var req syncIssuesRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Policy != "" {
		policy = issue.ConflictPolicy(req.Policy)
	}

	reg := s.beadsStoreFor(binding.ID)
	if reg == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "no local beads checkout configured for this repository")
		return
	}

	result, err := s.Coordinators(binding.ID).ReconcileIssues(r.Context(), reg, s.GH, binding.Owner, binding.Name, policy)
	if err != nil {
		writeErrKind(w, err)
		return
	}

	s.runRouterHooksAfterSync(binding.ID, result)

	writeJSON(w, http.StatusOK, syncIssuesResponse{Reconciled: result.Reconciled, Conflicts: result.Conflicts, ClosedIDs: result.ClosedIDs})
}

// runRouterHooksAfterSync feeds a reconciliation pass's closure and
// blocking transitions into the issue-graph router (§4.I): a closed
// issue cascades to unblock its dependents, which may complete an
// epic, and a newly blocked issue gets its assignee cleared (and its
// in-flight workflow cancelled, per configuration).
func (s *Server) runRouterHooksAfterSync(repoID string, result sync.ReconcileResult) {
	if s.Routers == nil || (len(result.ClosedIDs) == 0 && len(result.NewlyBlockedIDs) == 0) {
		return
	}
	rt := s.Routers(repoID)
	if rt == nil {
		return
	}
	for _, closedID := range result.ClosedIDs {
		if err := rt.OnIssueClosed(closedID); err != nil {
			s.Log.Warnw("on-issue-closed hook failed", "repo_id", repoID, "issue_id", closedID, "error", err.Error())
		}
	}
	if len(result.ClosedIDs) > 0 {
		if err := rt.OnEpicCompletion(); err != nil {
			s.Log.Warnw("on-epic-completion hook failed", "repo_id", repoID, "error", err.Error())
		}
	}
	for _, blockedID := range result.NewlyBlockedIDs {
		if err := rt.OnBlocked(blockedID); err != nil {
			s.Log.Warnw("on-blocked hook failed", "repo_id", repoID, "issue_id", blockedID, "error", err.Error())
		}
	}
}

func (s *Server) handleSyncReset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	binding, ok := s.bindingForRepo(vars["owner"] + "/" + vars["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown repository")
		return
	}
	if s.Coordinators == nil {
		writeError(w, http.StatusInternalServerError, "Internal", "sync coordinators not configured")
		return
	}
	if err := s.Coordinators(binding.ID).Reset(); err != nil {
		writeErrKind(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
