// Package metrics provides Prometheus metrics for the support gateway.
// It tracks limiter decisions, authorization denials, sign-ins and backend health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "supportgate"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0,
}

// Outcome label values shared by several counters.
const (
	OutcomeAllowed     = "allowed"
	OutcomeDenied      = "denied"
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
	OutcomeSameOrigin  = "same_origin"
	OutcomeRelative    = "relative"
	OutcomeAllowList   = "allow_list"
	OutcomeFallback    = "fallback"

	// OutcomeShortCircuit is a backend fetch skipped by an open breaker.
	OutcomeShortCircuit = "short_circuit"
)

// =============================================================================
// Rate Limiting
// =============================================================================

var (
	// RateLimitDecisions counts limiter decisions per class.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	// RateLimiterBackendErrors counts limiter store failures.
	RateLimiterBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_backend_errors_total",
			Help:      "Rate limiter store errors by action taken (fail_open, fail_closed)",
		},
		[]string{"action"},
	)
)

// =============================================================================
// Authorization
// =============================================================================

var (
	// AuthzDenials counts rejected requests by required capability and reason.
	AuthzDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_denials_total",
			Help:      "Authorization denials by capability and reason",
		},
		[]string{"capability", "reason"}, // reason: unauthenticated, forbidden
	)

	// SignIns counts sign-in attempts by outcome.
	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signins_total",
			Help:      "Sign-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RedirectDecisions counts post-sign-in redirect resolutions.
	RedirectDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirect_decisions_total",
			Help:      "Redirect validation results by outcome",
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// Backend
// =============================================================================

var (
	// BackendFetches counts requests to the ticketing backend.
	BackendFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fetch_total",
			Help:      "Backend lookups by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// BackendLatency tracks backend lookup latency.
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_fetch_latency_seconds",
			Help:      "Backend lookup latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"endpoint"},
	)
)

// =============================================================================
// HTTP and infrastructure
// =============================================================================

var (
	// HTTPRequestDuration tracks request latency at the gateway edge.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"route", "status_code"},
	)

	// AuditDBConnections tracks the postgres audit store's connection pool.
	AuditDBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_db_connections",
			Help:      "Audit database connections by state",
		},
		[]string{"state"}, // "in_use", "idle", "open", "max_open"
	)
)
