package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNormalizePathCollapsesNumericAndUUIDSegments(t *testing.T) {
	require.Equal(t, "/api/pr/:id", NormalizePath("/api/pr/42"))
	require.Equal(t, "/api/sandbox/sessions/:id", NormalizePath("/api/sandbox/sessions/1e2d3c4b-0000-0000-0000-000000000000"))
	require.Equal(t, "/api/repos/acme/widgets/status", NormalizePath("/api/repos/acme/widgets/status"))
}

func TestMiddlewareRecordsRequestCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/pr/7", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	var mf dto.Metric
	c, err := m.HTTPRequestsTotal.GetMetricWithLabelValues("/api/pr/:id", "4xx")
	require.NoError(t, err)
	require.NoError(t, c.Write(&mf))
	require.Equal(t, float64(1), mf.GetCounter().GetValue())
}
