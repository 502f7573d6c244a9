package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Sync metrics
	Connections   *prometheus.GaugeVec
	FramesRelayed *prometheus.CounterVec
	UpdateBytes   prometheus.Counter
	Scopes        prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on a specific registerer.
// Tests pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_connections",
				Help: "Live WebSocket connections per scope",
			},
			[]string{"scope"},
		),
		FramesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_total",
				Help: "Sync frames handled, by frame type and direction",
			},
			[]string{"type", "direction"},
		),
		UpdateBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_update_bytes_total",
				Help: "Total update payload bytes relayed",
			},
		),
		Scopes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_scopes",
				Help: "Number of scopes with at least one archived update",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_uptime_seconds",
				Help: "Relay uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFrame records a relayed sync frame. direction is "in" or "out".
func (m *Metrics) RecordFrame(frameType, direction string) {
	m.FramesRelayed.WithLabelValues(frameType, direction).Inc()
}

// AddUpdateBytes adds to the relayed payload byte counter
func (m *Metrics) AddUpdateBytes(n int) {
	m.UpdateBytes.Add(float64(n))
}

// IncConnections increments the connection gauge for a scope
func (m *Metrics) IncConnections(scope string) {
	m.Connections.WithLabelValues(scope).Inc()
}

// DecConnections decrements the connection gauge for a scope
func (m *Metrics) DecConnections(scope string) {
	m.Connections.WithLabelValues(scope).Dec()
}

// SetScopes sets the number of known scopes
func (m *Metrics) SetScopes(count int) {
	m.Scopes.Set(float64(count))
}
