package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal     *prometheus.CounterVec
	AuthzDecisionDuration   *prometheus.HistogramVec
	AuthzContextLoadSeconds prometheus.Histogram

	// Cache metrics
	CacheLookupsTotal       *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec
	CacheErrorsTotal        *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Role management metrics
	RoleMutationsTotal *prometheus.CounterVec
	ExpirySweepsTotal  *prometheus.CounterVec
	ExpiredRowsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_authz_decisions_total",
				Help: "Authorization decisions by outcome and code",
			},
			[]string{"outcome", "code"},
		),
		AuthzDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetguard_authz_decision_duration_seconds",
				Help:    "Time to reach an authorization decision",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"outcome"},
		),
		AuthzContextLoadSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assetguard_authz_context_load_seconds",
				Help:    "Time to build an authorization context",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_cache_lookups_total",
				Help: "Cache lookups by key family and result",
			},
			[]string{"family", "result"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_cache_invalidations_total",
				Help: "Cache keys invalidated by key family",
			},
			[]string{"family"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_cache_errors_total",
				Help: "Cache backend errors by operation",
			},
			[]string{"operation"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_store_operations_total",
				Help: "Store reads performed on cache misses",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetguard_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_role_mutations_total",
				Help: "Role management mutations by operation and status",
			},
			[]string{"operation", "status"},
		),
		ExpirySweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_expiry_sweeps_total",
				Help: "Expiry sweeps by status",
			},
			[]string{"status"},
		),
		ExpiredRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetguard_expired_rows_total",
				Help: "Assignments and overrides deactivated by the expiry sweep",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzDecisionDuration,
		m.AuthzContextLoadSeconds,
		m.CacheLookupsTotal,
		m.CacheInvalidationsTotal,
		m.CacheErrorsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.RoleMutationsTotal,
		m.ExpirySweepsTotal,
		m.ExpiredRowsTotal,
	)

	return m
}

// RecordDecision records one authorization decision
func (m *Metrics) RecordDecision(allowed bool, code string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
		code = "OK"
	}
	m.AuthzDecisionsTotal.WithLabelValues(outcome, code).Inc()
	m.AuthzDecisionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveContextLoad records the time spent building an authorization context
func (m *Metrics) ObserveContextLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.AuthzContextLoadSeconds.Observe(d.Seconds())
}

// RecordCacheLookup records a cache hit or miss for a key family
func (m *Metrics) RecordCacheLookup(family string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(family, result).Inc()
}

// RecordCacheInvalidation records invalidated keys of a family
func (m *Metrics) RecordCacheInvalidation(family string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheInvalidationsTotal.WithLabelValues(family).Add(float64(n))
}

// RecordCacheError records a cache backend failure
func (m *Metrics) RecordCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// ObserveStoreOperation records a store call
func (m *Metrics) ObserveStoreOperation(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRoleMutation records a role management operation
func (m *Metrics) RecordRoleMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.RoleMutationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
}

// RecordSweep records one expiry sweep
func (m *Metrics) RecordSweep(assignments, overrides int, err error) {
	if m == nil {
		return
	}
	m.ExpirySweepsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.ExpiredRowsTotal.WithLabelValues("assignment").Add(float64(assignments))
	m.ExpiredRowsTotal.WithLabelValues("override").Add(float64(overrides))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RouteLabel maps a request to a low-cardinality path label. The default
// uses the raw URL path; routers with path variables should supply their
// route template instead.
type RouteLabel func(r *http.Request) string

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics, label RouteLabel) func(http.Handler) http.Handler {
	if label == nil {
		label = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := label(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
