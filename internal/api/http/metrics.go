package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
)

// MetricsAggregator serves the Prometheus registry and a JSON summary of it.
type MetricsAggregator struct {
	metrics *monitoring.Metrics
	bus     *bus.Bus
}

// NewMetricsAggregator creates a metrics aggregator
func NewMetricsAggregator(metrics *monitoring.Metrics, b *bus.Bus) *MetricsAggregator {
	return &MetricsAggregator{metrics: metrics, bus: b}
}

// Register mounts /metrics and /metrics/json.
func (ma *MetricsAggregator) Register(r gin.IRouter) {
	r.GET("/metrics", gin.WrapH(ma.metrics.Handler()))
	r.GET("/metrics/json", ma.GetAggregatedMetrics)
}

// MetricsSnapshot is the JSON metrics view
type MetricsSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Bus       bus.Stats      `json:"bus"`
	Counters  bus.Counters   `json:"counters"`
	Summary   MetricsSummary `json:"summary"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	TotalTransmits   int64   `json:"total_transmits"`
	TotalDrops       int64   `json:"total_drops"`
	DropRate         float64 `json:"drop_rate"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// GetAggregatedMetrics returns bus usage plus the request and transmit summary
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Bus:       ma.bus.Stats(),
		Counters:  ma.bus.Counters(),
		Summary:   ma.calculateSummary(),
	})
}

func (ma *MetricsAggregator) calculateSummary() MetricsSummary {
	snapshot := ma.metrics.Snapshot()

	var avgLatency, errorRate, dropRate float64
	if snapshot.RequestCount > 0 {
		avgLatency = snapshot.TotalDuration / float64(snapshot.RequestCount) * 1000
		errorRate = float64(snapshot.TotalErrors) / float64(snapshot.RequestCount)
	}
	if snapshot.TotalTransmits > 0 {
		dropRate = float64(snapshot.TotalDrops) / float64(snapshot.TotalTransmits)
	}

	return MetricsSummary{
		TotalRequests:    snapshot.TotalRequests,
		AverageLatencyMs: avgLatency,
		ErrorRate:        errorRate,
		TotalTransmits:   snapshot.TotalTransmits,
		TotalDrops:       snapshot.TotalDrops,
		DropRate:         dropRate,
		UptimeSeconds:    ma.metrics.Uptime().Seconds(),
	}
}
