package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Bus metrics
	Transmits     *prometheus.CounterVec
	Deliveries    prometheus.Counter
	Drops         *prometheus.CounterVec
	Receives      *prometheus.CounterVec
	Subscriptions *prometheus.CounterVec

	// SB task metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Telemetry       *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
	usageOnce sync.Once

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	TotalTransmits int64   `json:"total_transmits"`
	TotalDrops     int64   `json:"total_drops"`
	TotalDuration  float64 `json:"total_duration"`
	RequestCount   int64   `json:"request_count"`
}

// Usage is the resource picture a bus exposes to the gauges.
type Usage struct {
	MsgIDs            int
	PeakMsgIDs        int
	Pipes             int
	PeakPipes         int
	Subscriptions     int
	PeakSubscriptions int
	Buffers           int
	PeakBuffers       int
	MemBytes          int
	PeakMemBytes      int
}

// NewMetrics creates a metrics collector on its own registry, so several
// buses (or tests) in one process do not collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "softbus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "softbus_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "softbus_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Bus metrics
		Transmits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_transmits_total",
				Help: "Transmit calls by result status",
			},
			[]string{"status"},
		),
		Deliveries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "softbus_deliveries_total",
				Help: "Buffer references enqueued onto pipes",
			},
		),
		Drops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_drops_total",
				Help: "Per-destination drops by reason",
			},
			[]string{"reason"},
		),
		Receives: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_receives_total",
				Help: "Receive calls by result status",
			},
			[]string{"status"},
		),
		Subscriptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_subscription_ops_total",
				Help: "Subscribe and unsubscribe calls by result status",
			},
			[]string{"op", "status"},
		),

		// SB task metrics
		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_commands_total",
				Help: "Ground commands processed by the SB task",
			},
			[]string{"command", "status"},
		),
		CommandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "softbus_command_duration_seconds",
				Help:    "Command processing duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"command"},
		),
		Telemetry: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_telemetry_packets_total",
				Help: "Telemetry packets published by the SB task",
			},
			[]string{"packet"},
		),

		// WebSocket metrics
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "softbus_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softbus_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "softbus_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackUsage registers gauges that read fn on every scrape. Only the first
// call takes effect.
func (m *Metrics) TrackUsage(fn func() Usage) {
	m.usageOnce.Do(func() {
		f := promauto.With(m.registry)
		gauge := func(name, help string, pick func(Usage) int) {
			f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
				return float64(pick(fn()))
			})
		}
		gauge("softbus_msg_ids_in_use", "MsgIDs with at least one subscriber", func(u Usage) int { return u.MsgIDs })
		gauge("softbus_msg_ids_peak", "Peak MsgIDs in use", func(u Usage) int { return u.PeakMsgIDs })
		gauge("softbus_pipes_in_use", "Pipes in use", func(u Usage) int { return u.Pipes })
		gauge("softbus_pipes_peak", "Peak pipes in use", func(u Usage) int { return u.PeakPipes })
		gauge("softbus_subscriptions_in_use", "Destinations in use", func(u Usage) int { return u.Subscriptions })
		gauge("softbus_subscriptions_peak", "Peak destinations in use", func(u Usage) int { return u.PeakSubscriptions })
		gauge("softbus_buffers_in_use", "Message buffers in use", func(u Usage) int { return u.Buffers })
		gauge("softbus_buffers_peak", "Peak message buffers in use", func(u Usage) int { return u.PeakBuffers })
		gauge("softbus_buffer_bytes_in_use", "Buffer memory in use", func(u Usage) int { return u.MemBytes })
		gauge("softbus_buffer_bytes_peak", "Peak buffer memory in use", func(u Usage) int { return u.PeakMemBytes })
	})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordTransmit records one transmit call and its fan-out outcome.
func (m *Metrics) RecordTransmit(status string, delivered, limitDrops, overflowDrops int) {
	m.Transmits.WithLabelValues(status).Inc()
	if delivered > 0 {
		m.Deliveries.Add(float64(delivered))
	}
	if limitDrops > 0 {
		m.Drops.WithLabelValues("msg_limit").Add(float64(limitDrops))
	}
	if overflowDrops > 0 {
		m.Drops.WithLabelValues("pipe_overflow").Add(float64(overflowDrops))
	}

	m.mu.Lock()
	m.snapshot.TotalTransmits++
	m.snapshot.TotalDrops += int64(limitDrops + overflowDrops)
	m.mu.Unlock()
}

// RecordReceive records one receive call.
func (m *Metrics) RecordReceive(status string) {
	m.Receives.WithLabelValues(status).Inc()
}

// RecordSubscription records a subscribe or unsubscribe call.
func (m *Metrics) RecordSubscription(op, status string) {
	m.Subscriptions.WithLabelValues(op, status).Inc()
}

// RecordCommand records a processed command
func (m *Metrics) RecordCommand(command, status string, duration time.Duration) {
	m.Commands.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordTelemetry records a published telemetry packet
func (m *Metrics) RecordTelemetry(packet string) {
	m.Telemetry.WithLabelValues(packet).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns the JSON view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Uptime is the time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
