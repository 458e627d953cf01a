// Package metrics exposes Prometheus counters and histograms for webhook
// deliveries, sync cycles, and PR-DO transitions, grounded on the
// teacher's server/metrics.go (a path-normalizing counter map wrapping
// every route) but backed by real collectors from
// github.com/prometheus/client_golang instead of a hand-rolled map.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors devflow's subsystems publish to.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	WebhookDeliveriesTotal *prometheus.CounterVec
	WebhookDuplicatesTotal prometheus.Counter

	SyncCyclesTotal   *prometheus.CounterVec
	SyncErrorsTotal   prometheus.Counter
	PRDOTransitions   *prometheus.CounterVec
	WorkflowsTriggered prometheus.Counter
	SandboxSessions    *prometheus.GaugeVec
}

// New registers and returns devflow's metric collectors against a fresh
// registry, so tests can construct independent instances without
// colliding on the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_http_requests_total",
			Help: "Total HTTP requests handled by devflow's API, by route and status class.",
		}, []string{"route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		WebhookDeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_webhook_deliveries_total",
			Help: "Total webhook deliveries accepted, by event type.",
		}, []string{"event"}),
		WebhookDuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "devflow_webhook_duplicate_deliveries_total",
			Help: "Webhook deliveries skipped as duplicates of an already-processed delivery ID.",
		}),
		SyncCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_sync_cycles_total",
			Help: "Completed sync cycles, by outcome (success/backoff).",
		}, []string{"outcome"}),
		SyncErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "devflow_sync_errors_total",
			Help: "Sync cycles that ended in backoff.",
		}),
		PRDOTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_prdo_transitions_total",
			Help: "PR-DO state transitions, by resulting state.",
		}, []string{"state"}),
		WorkflowsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "devflow_workflows_triggered_total",
			Help: "Develop workflows started by the assignment dispatcher.",
		}),
		SandboxSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devflow_sandbox_sessions",
			Help: "Current sandbox session count, by state.",
		}, []string{"state"}),
	}
}

// Handler returns the /metrics exposition handler.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// NormalizePath collapses path parameters (numeric IDs, UUID-shaped
// segments) into a template so the label cardinality stays bounded,
// matching the teacher's own path-normalizing counter map.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	digits := true
	for _, r := range seg {
		if r < '0' || r > '9' {
			digits = false
			break
		}
	}
	if digits {
		return true
	}
	return strings.Count(seg, "-") >= 4 // UUID-shaped
}

// Middleware wraps an http.Handler, recording request count and latency
// by normalized route, mirroring the teacher's apiMetricsMiddleware.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := NormalizePath(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(m.HTTPRequestDuration.WithLabelValues(route))
		defer timer.ObserveDuration()

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(route, statusClass(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
