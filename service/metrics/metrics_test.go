package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetWorkerState_OneHotPerAddress(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetWorkerState("A", "connecting")
	m.SetWorkerState("A", "listening")
	m.SetWorkerState("B", "failed")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.workerState.WithLabelValues("A", "connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerState.WithLabelValues("A", "listening")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerState.WithLabelValues("B", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.workerState.WithLabelValues("B", "listening")))
}

func TestRecordClaim(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordClaim(true)
	m.RecordClaim(false)
	m.RecordClaim(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimsTotal.WithLabelValues("won")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.claimsTotal.WithLabelValues("duplicate")))
}

func TestSessionCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordNotification("A")
	m.RecordNotification("A")
	m.RecordClassification("send-native")
	m.RecordFallback()
	m.RecordFetchFailure("timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("A")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classificationsTotal.WithLabelValues("send-native")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchFailuresTotal.WithLabelValues("timeout")))
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
		700: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCodeToString(code), "code %d", code)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, "session")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("session", "GET", "4xx")))
}

func TestHTTPMetricsMiddleware_KeepsFlusher(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	var flushable bool
	handler := HTTPMetricsMiddleware(m, "stream")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, flushable)
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestTimer(t *testing.T) {
	var recorded float64
	stop := Timer(time.Now().Add(-time.Second), func(d float64) { recorded = d })
	stop()
	require.GreaterOrEqual(t, recorded, 1.0)
}
