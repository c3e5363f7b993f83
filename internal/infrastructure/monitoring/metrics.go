package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bridge outcomes used as the "outcome" label.
const (
	OutcomeSuccess         = "success"
	OutcomeHostError       = "host_error"
	OutcomeAuthFailure     = "auth_failure"
	OutcomeTransformFailed = "transform_failed"
	OutcomeTimeout         = "timeout"
	OutcomeSendFailed      = "send_failed"
	OutcomeChannelClosed   = "channel_closed"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Bridge (caller side)
	BridgeRequests *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec
	BridgeRejected *prometheus.CounterVec
	Pending        prometheus.Gauge
	UnknownIDs     prometheus.Counter

	// Guard
	GuardTrips    *prometheus.CounterVec
	GuardBlocked  prometheus.Gauge
	GuardUnblocks prometheus.Counter

	// Host executor
	HostCalls    *prometheus.CounterVec
	HostDuration *prometheus.HistogramVec

	// Host HTTP surface
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	IPCPeers     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith registers all metrics on reg and serves them from g.
func NewMetricsWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,

		BridgeRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_requests_total",
				Help: "Bridged tracker requests by terminal outcome",
			},
			[]string{"method", "outcome"},
		),
		BridgeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_request_duration_seconds",
				Help:    "Time from dispatch to terminal event",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 200},
			},
			[]string{"method"},
		),
		BridgeRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_precondition_rejections_total",
				Help: "Requests refused before dispatch",
			},
			[]string{"reason"},
		),
		Pending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_pending_requests",
				Help: "Requests awaiting a host response",
			},
		),
		UnknownIDs: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_unknown_response_ids_total",
				Help: "Host responses discarded because no pending request matched",
			},
		),

		GuardTrips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_guard_trips_total",
				Help: "Access guard trips by reason",
			},
			[]string{"reason"},
		),
		GuardBlocked: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_guard_blocked",
				Help: "1 while the access guard blocks requests",
			},
		),
		GuardUnblocks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_guard_unblocks_total",
				Help: "Explicit access guard unblocks",
			},
		),

		HostCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_calls_total",
				Help: "Tracker calls executed by the host",
			},
			[]string{"method", "status"},
		),
		HostDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_call_duration_seconds",
				Help:    "Tracker call duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "host_http_requests_total",
				Help: "Requests served by the host HTTP surface",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "host_http_request_duration_seconds",
				Help:    "Host HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		IPCPeers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_ipc_peers",
				Help: "Connected bridge peers",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordBridgeResult records a pending request's terminal event.
func (m *Metrics) RecordBridgeResult(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BridgeRequests.WithLabelValues(method, outcome).Inc()
	m.BridgeDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRejected records a request refused by a precondition.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.BridgeRejected.WithLabelValues(reason).Inc()
}

// PendingAdded increments the pending gauge.
func (m *Metrics) PendingAdded() {
	if m == nil {
		return
	}
	m.Pending.Inc()
}

// PendingRemoved decrements the pending gauge.
func (m *Metrics) PendingRemoved() {
	if m == nil {
		return
	}
	m.Pending.Dec()
}

// RecordUnknownID counts a discarded response.
func (m *Metrics) RecordUnknownID() {
	if m == nil {
		return
	}
	m.UnknownIDs.Inc()
}

// RecordGuardTrip records an access guard trip.
func (m *Metrics) RecordGuardTrip(reason string) {
	if m == nil {
		return
	}
	m.GuardTrips.WithLabelValues(reason).Inc()
	m.GuardBlocked.Set(1)
}

// RecordGuardUnblock records an explicit unblock.
func (m *Metrics) RecordGuardUnblock() {
	if m == nil {
		return
	}
	m.GuardUnblocks.Inc()
	m.GuardBlocked.Set(0)
}

// RecordHostCall records a tracker call made by the executor.
func (m *Metrics) RecordHostCall(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HostCalls.WithLabelValues(method, status).Inc()
	m.HostDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPRequest records a request served by the host.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// PeerConnected and PeerDisconnected track websocket bridge peers.
func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	m.IPCPeers.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.IPCPeers.Dec()
}
