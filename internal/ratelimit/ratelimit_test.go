package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devflow-ai/devflow/internal/errkind"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	now := time.Now()
	l := NewFixedWindow(2, time.Minute, func() time.Time { return now })

	require.True(t, l.Allow("user-1"))
	require.True(t, l.Allow("user-1"))
	require.False(t, l.Allow("user-1"))
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	now := time.Now()
	l := NewFixedWindow(1, time.Minute, func() time.Time { return now })

	require.True(t, l.Allow("user-1"))
	require.False(t, l.Allow("user-1"))

	now = now.Add(2 * time.Minute)
	require.True(t, l.Allow("user-1"))
}

func TestFixedWindowAlwaysAllowsEmptyKey(t *testing.T) {
	l := NewFixedWindow(1, time.Minute, nil)
	require.True(t, l.Allow(""))
	require.True(t, l.Allow(""))
	require.True(t, l.Allow(""))
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := NewFixedWindow(1, time.Minute, nil)
	handler := Middleware(l, func(r *http.Request) string { return r.Header.Get("X-User") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User", "alice")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestSandboxCreationAllowsWithinBurst(t *testing.T) {
	s := NewSandboxCreation(1, 2)
	require.NoError(t, s.Allow())
	require.NoError(t, s.Allow())
	require.ErrorIs(t, s.Allow(), errkind.RateLimited)
}
