package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cr3t"

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type fakeIdempotency struct {
	seen   map[string]bool
	marked []string
}

func newFakeIdempotency() *fakeIdempotency { return &fakeIdempotency{seen: map[string]bool{}} }

func (f *fakeIdempotency) HasDeliveryBeenProcessed(id string) (bool, error) { return f.seen[id], nil }
func (f *fakeIdempotency) MarkDeliveryProcessed(id string) error {
	f.seen[id] = true
	f.marked = append(f.marked, id)
	return nil
}

type fakeDispatcher struct {
	calls  []string
	status int
}

func (f *fakeDispatcher) HandlePullRequest(body []byte) int {
	f.calls = append(f.calls, "pull_request")
	return f.statusOr(http.StatusOK)
}
func (f *fakeDispatcher) HandlePullRequestReview(body []byte) int {
	f.calls = append(f.calls, "pull_request_review")
	return f.statusOr(http.StatusOK)
}
func (f *fakeDispatcher) HandleIssues(body []byte) int {
	f.calls = append(f.calls, "issues")
	return f.statusOr(http.StatusOK)
}
func (f *fakeDispatcher) HandleMilestone(body []byte) int {
	f.calls = append(f.calls, "milestone")
	return f.statusOr(http.StatusOK)
}
func (f *fakeDispatcher) HandleInstallation(body []byte) int {
	f.calls = append(f.calls, "installation")
	return f.statusOr(http.StatusOK)
}
func (f *fakeDispatcher) HandlePush(body []byte) int {
	f.calls = append(f.calls, "push")
	return f.statusOr(http.StatusOK)
}
func (f *fakeDispatcher) statusOr(def int) int {
	if f.status != 0 {
		return f.status
	}
	return def
}

func newTestGateway(idempotent *fakeIdempotency, dispatch *fakeDispatcher) *Gateway {
	return &Gateway{
		Secrets:    func(r *http.Request) (string, bool) { return testSecret, true },
		Idempotent: idempotent,
		Dispatch:   dispatch,
		Log:        observability.NewNop(),
	}
}

func postWebhook(t *testing.T, g *Gateway, event, delivery, body string, badSig bool) *httptest.ResponseRecorder {
	t.Helper()
	sig := sign(testSecret, body)
	if badSig {
		sig = sign("wrong-secret", body)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(signatureHeader, sig)
	req.Header.Set(eventHeader, event)
	if delivery != "" {
		req.Header.Set(deliveryHeader, delivery)
	}
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	return rec
}

func TestVerifySignatureValid(t *testing.T) {
	body := []byte(`{"a":1}`)
	require.True(t, VerifySignature([]byte(testSecret), sign(testSecret, string(body)), body))
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{"a":1}`)
	require.False(t, VerifySignature([]byte(testSecret), sign("other", string(body)), body))
}

func TestVerifySignatureMalformed(t *testing.T) {
	require.False(t, VerifySignature([]byte(testSecret), "not-a-signature", []byte("x")))
	require.False(t, VerifySignature([]byte(testSecret), "sha256=zz", []byte("x")))
}

func TestGatewayRejectsInvalidSignature(t *testing.T) {
	g := newTestGateway(newFakeIdempotency(), &fakeDispatcher{})
	rec := postWebhook(t, g, EventPing, "d1", `{"zen":"hi","hook_id":1}`, true)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayHandlesPing(t *testing.T) {
	g := newTestGateway(newFakeIdempotency(), &fakeDispatcher{})
	rec := postWebhook(t, g, EventPing, "d1", `{"zen":"hi","hook_id":1}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayDispatchesPullRequestEvent(t *testing.T) {
	dispatch := &fakeDispatcher{}
	g := newTestGateway(newFakeIdempotency(), dispatch)
	rec := postWebhook(t, g, EventPullRequest, "d1", `{"action":"opened"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"pull_request"}, dispatch.calls)
}

func TestGatewaySkipsDuplicateDelivery(t *testing.T) {
	idempotent := newFakeIdempotency()
	idempotent.seen["d1"] = true
	dispatch := &fakeDispatcher{}
	g := newTestGateway(idempotent, dispatch)

	rec := postWebhook(t, g, EventPullRequest, "d1", `{"action":"opened"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, dispatch.calls, "duplicate delivery should not be dispatched")
}

func TestGatewayMarksDeliveryProcessedOnlyOn2xx(t *testing.T) {
	idempotent := newFakeIdempotency()
	dispatch := &fakeDispatcher{status: http.StatusInternalServerError}
	g := newTestGateway(idempotent, dispatch)

	rec := postWebhook(t, g, EventIssues, "d1", `{"action":"opened"}`, false)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, idempotent.marked, "a failed handler must not mark the delivery processed")
}

func TestGatewayIgnoresUnknownEventType(t *testing.T) {
	g := newTestGateway(newFakeIdempotency(), &fakeDispatcher{})
	rec := postWebhook(t, g, "some_future_event", "d1", `{}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayDispatchesPushEvent(t *testing.T) {
	dispatch := &fakeDispatcher{}
	g := newTestGateway(newFakeIdempotency(), dispatch)
	rec := postWebhook(t, g, EventPush, "d1", `{"ref":"refs/heads/main","commits":[]}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"push"}, dispatch.calls)
}

func TestGatewayRejectsUnknownInstallation(t *testing.T) {
	g := newTestGateway(newFakeIdempotency(), &fakeDispatcher{})
	g.Secrets = func(r *http.Request) (string, bool) { return "", false }
	rec := postWebhook(t, g, EventPing, "d1", `{}`, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
