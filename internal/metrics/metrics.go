package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mealplan"

var (
	// HTTP Request Metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status_code"},
	)

	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests",
		},
	)

	// Authentication Metrics
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total number of token verifications by result",
		},
		[]string{"result"}, // success, failure
	)

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of authentication failures by error type",
		},
		[]string{"error_type"}, // missing_token, invalid_token, expired_token
	)

	// Rate Limiting Metrics
	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of bucket checks by operation and result",
		},
		[]string{"operation", "result"}, // allowed, rejected, fail_open, fail_closed
	)

	rateLimitRetryAfter = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "retry_after_seconds",
			Help:      "Retry-after hint handed out on rejection",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"operation"},
	)

	rateLimitCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Duration of bucket checks including storage round trips",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"backend"},
	)

	rateLimitErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "errors_total",
			Help:      "Total number of bucket storage errors",
		},
		[]string{"backend", "error_type"}, // conflict, storage
	)

	// Domain Operation Metrics
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operations",
			Name:      "total",
			Help:      "Total number of gated operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AI Provider Metrics
	aiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of AI provider calls by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: success, error, canceled, timeout
	)

	aiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "AI provider call duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"kind"},
	)

	// Circuit Breaker Metrics
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	circuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"provider", "from_state", "to_state"},
	)

	// Health Check Metrics
	healthCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks performed",
		},
		[]string{"check_name", "status"},
	)

	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of health checks in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"check_name"},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpActiveRequests,
			authAttemptsTotal,
			authFailuresTotal,
			rateLimitDecisionsTotal,
			rateLimitRetryAfter,
			rateLimitCheckDuration,
			rateLimitErrorsTotal,
			operationsTotal,
			aiRequestsTotal,
			aiRequestDuration,
			circuitBreakerState,
			circuitBreakerTransitionsTotal,
			healthCheckTotal,
			healthCheckDuration,
		)
	})
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTP Metrics functions
func RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration.Seconds())
}

func IncActiveRequests() {
	httpActiveRequests.Inc()
}

func DecActiveRequests() {
	httpActiveRequests.Dec()
}

// Authentication Metrics functions
func RecordAuthAttempt(result string) {
	authAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordAuthFailure(errorType string) {
	authFailuresTotal.WithLabelValues(errorType).Inc()
}

// Rate Limiting Metrics functions
func RecordRateLimitDecision(operation, result string) {
	rateLimitDecisionsTotal.WithLabelValues(operation, result).Inc()
}

func RecordRateLimitRetryAfter(operation string, retryAfter time.Duration) {
	rateLimitRetryAfter.WithLabelValues(operation).Observe(retryAfter.Seconds())
}

func RecordRateLimitCheckDuration(backend string, duration time.Duration) {
	rateLimitCheckDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordRateLimitError(backend, errorType string) {
	rateLimitErrorsTotal.WithLabelValues(backend, errorType).Inc()
}

// RecordOperation counts a gated domain operation by outcome
func RecordOperation(operation, outcome string) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// AI Provider Metrics functions
func RecordAIRequest(kind, outcome string, duration time.Duration) {
	aiRequestsTotal.WithLabelValues(kind, outcome).Inc()
	aiRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Circuit Breaker Metrics functions
func SetCircuitBreakerState(provider string, state int) {
	circuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func RecordCircuitBreakerTransition(provider, fromState, toState string) {
	circuitBreakerTransitionsTotal.WithLabelValues(provider, fromState, toState).Inc()
}

// Health Check Metrics functions
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	healthCheckTotal.WithLabelValues(checkName, status).Inc()
	healthCheckDuration.WithLabelValues(checkName).Observe(duration.Seconds())
}
