package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPrometheusMiddleware_BasicMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()

	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())

	r.GET("/players/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "test error"})
	})

	for _, path := range []string{"/players/a", "/players/b", "/error", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			// Шаблон маршрута, а не конкретный URL
			assert.Len(t, mf.GetMetric(), 3)
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "path" {
						assert.Contains(t, []string{"/players/:id", "/error", "unmatched"}, l.GetValue())
					}
				}
			}
		case "test_http_request_errors_total":
			errorsFound = true
			assert.Len(t, mf.GetMetric(), 2, "500 и 404")
		}
	}

	assert.True(t, durationFound, "Duration metric not found")
	assert.True(t, errorsFound, "Errors metric not found")
}

func TestPrometheusMiddleware_InflightRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()

	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())

	release := make(chan struct{})
	entered := make(chan struct{})
	r.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	done := make(chan struct{})
	go func() {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
		close(done)
	}()

	<-entered
	assert.Equal(t, 1.0, gaugeValue(t, registry, "test_http_requests_inflight"))

	close(release)
	<-done
	assert.Equal(t, 0.0, gaugeValue(t, registry, "test_http_requests_inflight"))
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()

	promMw := NewPrometheusMiddleware("endpoint", registry)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint_http_requests_inflight")
}

func TestRequestLogger_TraceID(t *testing.T) {
	r := gin.New()
	r.Use(NewRequestLogger().Handler())

	var capturedTraceID string
	r.GET("/test", func(c *gin.Context) {
		traceID, exists := c.Get(TraceIDKey)
		require.True(t, exists, "trace_id should be set in context")
		capturedTraceID = traceID.(string)
		c.JSON(http.StatusOK, gin.H{"trace_id": capturedTraceID})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, capturedTraceID)
	assert.Equal(t, capturedTraceID, w.Header().Get("X-Trace-Id"))
	assert.Contains(t, w.Body.String(), capturedTraceID)
}

func TestMiddleware_Integration(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()

	r.Use(NewRequestLogger().Handler())
	promMw := NewPrometheusMiddleware("integration_test", registry)
	r.Use(promMw.Handler())

	r.GET("/api/leaderboard", func(c *gin.Context) {
		time.Sleep(time.Millisecond)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	var requestsCount uint64
	for _, mf := range metricFamilies {
		if mf.GetName() == "integration_test_http_request_duration_seconds" {
			for _, m := range mf.GetMetric() {
				requestsCount += m.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, uint64(5), requestsCount)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
