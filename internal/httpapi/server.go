// Package httpapi wires devflow's subsystems onto the HTTP surface from
// spec.md §6: the webhook gateway, sandbox session control, sync/repo
// status, workflow dispatch, and the thin PR-operation wrappers.
// Grounded on server/api.go's initRouter (gorilla/mux, a metrics
// middleware wrapping every route, an admin-only subrouter) and
// server/healthcheck.go's {status, uptime} /healthz payload, retargeted
// from a Mattermost-plugin-hosted router onto a standalone HTTP server.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devflow-ai/devflow/internal/assign"
	"github.com/devflow-ai/devflow/internal/errkind"
	"github.com/devflow-ai/devflow/internal/ghclient"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/metrics"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/prdo"
	"github.com/devflow-ai/devflow/internal/ratelimit"
	"github.com/devflow-ai/devflow/internal/router"
	"github.com/devflow-ai/devflow/internal/sandbox"
	"github.com/devflow-ai/devflow/internal/store"
	"github.com/devflow-ai/devflow/internal/sync"
	"github.com/devflow-ai/devflow/internal/webhook"
	"github.com/devflow-ai/devflow/internal/workflow"
)

// Server bundles every dependency the HTTP surface dispatches into.
// Unlike the teacher's Plugin (one process-wide struct reached through
// Mattermost's plugin host), Server is constructed explicitly by
// cmd/devflow and owns no global state.
type Server struct {
	Store        *store.Store
	Sandbox      *sandbox.Registry
	SandboxLimit *ratelimit.SandboxCreation
	// APIRateLimit throttles the /api subrouter per caller, mirroring
	// the teacher's RateLimitMiddleware wrapping its authed routes. Nil
	// disables throttling.
	APIRateLimit *ratelimit.FixedWindow
	Assign       *assign.Dispatcher
	Workflow     *workflow.Runner
	PRDO         *prdo.Machine
	GH           ghclient.Client
	Metrics      *metrics.Metrics
	PromReg      *prometheus.Registry
	Log          *observability.Logger
	StartedAt    time.Time

	// OperatorToken gates every route under /api. The webhook endpoint
	// authenticates via HMAC signature instead, and /healthz and /metrics
	// are served without authentication.
	OperatorToken string

	// DefaultWebhookSecret is recorded onto a RepoBinding created from an
	// installation event, since a GitHub App's webhook secret is
	// app-scoped rather than per-repository.
	DefaultWebhookSecret string

	// PushClassifier configures which paths a push event's commits are
	// checked against for the three push-dispatch categories.
	PushClassifier webhook.PushClassifierConfig

	// Coordinators returns (creating if absent) the sync coordinator for
	// a repository, keeping one goroutine-safe instance per repo as
	// §4.E's "durable, single-writer entity per repository" requires.
	Coordinators func(repoID string) *sync.Coordinator

	// Routers returns (creating if absent) the issue-graph router for a
	// repository, used to run the PR-merged closure cascade from the
	// webhook path.
	Routers func(repoID string) *router.Router

	// BeadsStores returns the local JSONL issue store backing a
	// repository's working checkout, or nil if the repository has none
	// cloned locally (e.g. it hasn't been synced yet).
	BeadsStores func(repoID string) *issue.JSONLStore
}

func (s *Server) beadsStoreFor(repoID string) *issue.JSONLStore {
	if s.BeadsStores == nil {
		return nil
	}
	return s.BeadsStores(repoID)
}

// NewRouter builds devflow's HTTP router.
func (s *Server) NewRouter() http.Handler {
	root := mux.NewRouter()
	if s.Metrics != nil {
		root.Use(s.Metrics.Middleware)
	}

	root.HandleFunc("/webhook/github", s.handleWebhook).Methods(http.MethodPost)
	root.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.Metrics != nil && s.PromReg != nil {
		root.Handle("/metrics", metrics.Handler(s.PromReg)).Methods(http.MethodGet)
	}

	api := root.PathPrefix("/api").Subrouter()
	api.Use(s.operatorAuthRequired)
	if s.APIRateLimit != nil {
		api.Use(ratelimit.Middleware(s.APIRateLimit, rateLimitKey))
	}

	api.HandleFunc("/sandbox/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sandbox/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sandbox/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sandbox/sessions/{id}/ws", s.handleSessionWS).Methods(http.MethodGet)

	api.HandleFunc("/repos/{owner}/{name}/status", s.handleRepoStatus).Methods(http.MethodGet)
	api.HandleFunc("/repos/{owner}/{name}/sync/issues", s.handleSyncIssues).Methods(http.MethodPost)
	api.HandleFunc("/repos/{owner}/{name}/sync/reset", s.handleSyncReset).Methods(http.MethodPost)

	api.HandleFunc("/workflows/assign", s.handleAssign).Methods(http.MethodPost)

	api.HandleFunc("/pr/create", s.handlePRCreate).Methods(http.MethodPost)
	api.HandleFunc("/pr/review", s.handlePRReview).Methods(http.MethodPost)
	api.HandleFunc("/pr/merge", s.handlePRMerge).Methods(http.MethodPost)

	return root
}

// operatorAuthRequired rejects requests lacking the configured bearer
// token, mirroring the teacher's MattermostAuthorizationRequired gate
// but checking a static operator token instead of a session header,
// since devflow has no human-session host to delegate to.
func (s *Server) operatorAuthRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.OperatorToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.OperatorToken {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid operator token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitKey extracts the fixed-window limiter's per-caller key: the
// bearer token when present (every authed caller already sends one, per
// operatorAuthRequired above), falling back to the remote address so an
// unauthenticated deployment still throttles per source.
func rateLimitKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return auth
	}
	return r.RemoteAddr
}

// HealthzResponse is the JSON payload for the lightweight /healthz
// endpoint, matching server/healthcheck.go's {status, uptime} shape.
type HealthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthzResponse{Status: "ok", Uptime: time.Since(s.StartedAt).String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorEnvelope is §7's {ok:false, error:<kind>, message?} failure shape.
type errorEnvelope struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{Error: kind, Message: message})
}

// writeErrKind maps a devflow error to its §7 HTTP status and stable
// kind name.
func writeErrKind(w http.ResponseWriter, err error) {
	writeError(w, errkind.HTTPStatus(err), errkind.Name(err), err.Error())
}
