package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision(true, "", time.Millisecond)
	m.RecordDecision(false, "PERMISSION_DENIED", time.Millisecond)
	m.RecordDecision(false, "PERMISSION_DENIED", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("allow", "OK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("deny", "PERMISSION_DENIED")))
}

func TestMetrics_CacheAndStore(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup("permissions", true)
	m.RecordCacheLookup("permissions", false)
	m.RecordCacheInvalidation("user_roles", 3)
	m.ObserveStoreOperation("calculate_effective_permissions", time.Millisecond, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("permissions", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("permissions", "miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheInvalidationsTotal.WithLabelValues("user_roles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("calculate_effective_permissions", "error")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision(true, "", time.Second)
		m.RecordCacheLookup("x", true)
		m.RecordRoleMutation("create_role", nil)
		m.RecordSweep(1, 2, nil)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/roles", "403")))

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "assetguard_http_requests_total"))
}
