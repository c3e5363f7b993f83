package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordBridgeResult("GET", OutcomeSuccess, time.Second)
	m.RecordRejected("offline")
	m.PendingAdded()
	m.PendingRemoved()
	m.RecordUnknownID()
	m.RecordGuardTrip("timeout")
	m.RecordGuardUnblock()
	m.RecordHostCall("GET", "200", time.Second)
	m.RecordHTTPRequest("GET", "/health", "200", time.Second)
	m.PeerConnected()
	m.PeerDisconnected()
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordGuardTrip("timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.GuardTrips.WithLabelValues("timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GuardTrips.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.GuardBlocked))

	a.RecordGuardUnblock()
	assert.Equal(t, 0.0, testutil.ToFloat64(a.GuardBlocked))
}

func TestPendingGauge(t *testing.T) {
	m := NewMetrics()
	m.PendingAdded()
	m.PendingAdded()
	m.PendingRemoved()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pending))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "host_http_requests_total"))
}
