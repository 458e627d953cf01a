// Package webhook implements the inbound GitHub webhook gateway,
// grounded directly on server/webhook.go: HMAC-SHA256 signature
// verification, a maxWebhookBodySize cap, a statusRecorder to observe
// the dispatched handler's final status before marking a delivery
// processed, and delivery-ID idempotency. Event-type routing
// additionally dispatches issues, milestone, installation, and push
// events, which the teacher's narrower review-loop scope never needed.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/devflow-ai/devflow/internal/observability"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"

	// maxBodySize limits the body read to guard against a malicious or
	// misbehaving sender exhausting memory.
	maxBodySize = 1 << 20

	EventPing              = "ping"
	EventPullRequest       = "pull_request"
	EventPullRequestReview = "pull_request_review"
	EventIssues            = "issues"
	EventMilestone         = "milestone"
	EventInstallation      = "installation"
	EventPush              = "push"
)

// Dispatcher handles one decoded event type. Handlers return the HTTP
// status to send; a non-2xx status prevents the delivery from being
// marked processed so GitHub's retry will be reprocessed.
type Dispatcher interface {
	HandlePullRequest(body []byte) int
	HandlePullRequestReview(body []byte) int
	HandleIssues(body []byte) int
	HandleMilestone(body []byte) int
	HandleInstallation(body []byte) int
	HandlePush(body []byte) int
}

// IdempotencyStore tracks which webhook deliveries have already been
// processed.
type IdempotencyStore interface {
	HasDeliveryBeenProcessed(deliveryID string) (bool, error)
	MarkDeliveryProcessed(deliveryID string) error
}

// SecretResolver looks up the HMAC secret for the repository a delivery
// claims to be from, keyed by the X-GitHub-Delivery installation
// context the caller has already resolved (e.g. from the request path).
type SecretResolver func(r *http.Request) (secret string, ok bool)

// Gateway is the HTTP handler accepting GitHub webhook deliveries.
type Gateway struct {
	Secrets    SecretResolver
	Idempotent IdempotencyStore
	Dispatch   Dispatcher
	Log        *observability.Logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	secret, ok := g.Secrets(r)
	if !ok {
		g.Log.Warnw("github webhook received for unknown installation")
		http.Error(w, "unknown installation", http.StatusNotFound)
		return
	}

	signature := r.Header.Get(signatureHeader)
	if !VerifySignature([]byte(secret), signature, body) {
		g.Log.Warnw("github webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	deliveryID := r.Header.Get(deliveryHeader)
	if deliveryID != "" {
		seen, err := g.Idempotent.HasDeliveryBeenProcessed(deliveryID)
		if err == nil && seen {
			g.Log.Debugw("duplicate github webhook delivery, skipping", "delivery", deliveryID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	eventType := r.Header.Get(eventHeader)
	g.Log.Debugw("github webhook received", "event", eventType, "delivery", deliveryID)

	switch eventType {
	case EventPing:
		g.handlePing(sr, body)
	case EventPullRequest:
		sr.WriteHeader(g.Dispatch.HandlePullRequest(body))
	case EventPullRequestReview:
		sr.WriteHeader(g.Dispatch.HandlePullRequestReview(body))
	case EventIssues:
		sr.WriteHeader(g.Dispatch.HandleIssues(body))
	case EventMilestone:
		sr.WriteHeader(g.Dispatch.HandleMilestone(body))
	case EventInstallation:
		sr.WriteHeader(g.Dispatch.HandleInstallation(body))
	case EventPush:
		sr.WriteHeader(g.Dispatch.HandlePush(body))
	default:
		g.Log.Debugw("ignoring unhandled github event type", "event", eventType)
		sr.WriteHeader(http.StatusOK)
	}

	if deliveryID != "" && sr.status >= 200 && sr.status < 300 {
		if err := g.Idempotent.MarkDeliveryProcessed(deliveryID); err != nil {
			g.Log.Warnw("failed to mark delivery processed", "delivery", deliveryID, "error", err.Error())
		}
	}
}

func (g *Gateway) handlePing(w http.ResponseWriter, body []byte) {
	var event struct {
		Zen    string `json:"zen"`
		HookID int    `json:"hook_id"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	g.Log.Infow("github webhook ping received", "zen", event.Zen, "hook_id", fmt.Sprintf("%d", event.HookID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// VerifySignature validates the HMAC-SHA256 signature GitHub attaches to
// a webhook delivery using a constant-time comparison.
func VerifySignature(secret []byte, signature string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	sigBytes, err := hex.DecodeString(signature[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(sigBytes, expected)
}
