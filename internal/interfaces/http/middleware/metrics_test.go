package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeter returns a meter provider backed by a manual reader.
func setupTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})

	return mp, reader
}

// collectMetrics collects metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return rm
}

// findMetricByName finds a metric by name in the collected metrics.
func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumCounter(t *testing.T, m *metricdata.Metrics) map[attribute.Distinct]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	out := map[attribute.Distinct]int64{}
	for _, dp := range sum.DataPoints {
		out[dp.Attributes.Equivalent()] = dp.Value
	}
	return out
}

func newMeteredRouter(t *testing.T) (*gin.Engine, *sdkmetric.ManualReader) {
	t.Helper()
	mp, reader := setupTestMeter(t)

	router := gin.New()
	router.Use(HTTPMetrics(mp.Meter("test")))
	router.GET("/api/v1/lms/sync/user/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"synced": true})
	})
	router.POST("/api/v1/lms/webhook/grades", func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})
	return router, reader
}

func TestHTTPMetrics_NilMeter(t *testing.T) {
	router := gin.New()
	router.Use(HTTPMetrics(nil))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetrics_RequestCounter(t *testing.T) {
	router, reader := newMeteredRouter(t)

	for _, path := range []string{"/api/v1/lms/sync/user/a", "/api/v1/lms/sync/user/b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/lms/webhook/grades", nil))

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	counts := sumCounter(t, m)

	ok := attribute.NewSet(
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.route", "/api/v1/lms/sync/user/:id"),
		attribute.Int("http.status_code", http.StatusOK),
	)
	denied := attribute.NewSet(
		attribute.String("http.method", http.MethodPost),
		attribute.String("http.route", "/api/v1/lms/webhook/grades"),
		attribute.Int("http.status_code", http.StatusUnauthorized),
	)
	assert.Equal(t, int64(2), counts[ok.Equivalent()])
	assert.Equal(t, int64(1), counts[denied.Equivalent()])
}

func TestHTTPMetrics_UnmatchedRoute(t *testing.T) {
	router, reader := newMeteredRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/lms/unknown/123", nil))

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	notFound := attribute.NewSet(
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.route", "unknown"),
		attribute.Int("http.status_code", http.StatusNotFound),
	)
	assert.Equal(t, int64(1), sumCounter(t, m)[notFound.Equivalent()])
}

func TestHTTPMetrics_DurationAndSize(t *testing.T) {
	router, reader := newMeteredRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/lms/sync/user/a", nil))
	// no body, so no size sample
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/lms/webhook/grades", nil))

	rm := collectMetrics(t, reader)

	duration := findMetricByName(rm, "http_server_request_duration_seconds")
	require.NotNil(t, duration)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var samples uint64
	for _, dp := range hist.DataPoints {
		samples += dp.Count
	}
	assert.Equal(t, uint64(2), samples)

	size := findMetricByName(rm, "http_server_response_size_bytes")
	require.NotNil(t, size)
	sizeHist, ok := size.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, sizeHist.DataPoints, 1)
	assert.Equal(t, uint64(1), sizeHist.DataPoints[0].Count)
	assert.Equal(t, float64(len(`{"synced":true}`)), sizeHist.DataPoints[0].Sum)
}

func TestHTTPMetrics_ActiveRequestsSettle(t *testing.T) {
	router, reader := newMeteredRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/lms/sync/user/a", nil))

	m := findMetricByName(collectMetrics(t, reader), "http_server_active_requests")
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range sum.DataPoints {
		assert.Equal(t, int64(0), dp.Value)
	}
}
