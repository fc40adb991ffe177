package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordTransmit("SUCCESS", 1, 0, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Transmits.WithLabelValues("SUCCESS")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Transmits.WithLabelValues("SUCCESS")))
}

func TestRecordTransmit(t *testing.T) {
	m := NewMetrics()

	m.RecordTransmit("SUCCESS", 3, 1, 2)
	m.RecordTransmit("BAD_ARGUMENT", 0, 0, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Deliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Drops.WithLabelValues("msg_limit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Drops.WithLabelValues("pipe_overflow")))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalTransmits)
	assert.Equal(t, int64(3), snap.TotalDrops)
}

func TestTrackUsage(t *testing.T) {
	m := NewMetrics()
	calls := 0
	m.TrackUsage(func() Usage {
		calls++
		return Usage{Pipes: 7, MemBytes: 512}
	})
	// Second registration is ignored rather than panicking.
	m.TrackUsage(func() Usage { return Usage{} })

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		if len(f.GetMetric()) == 1 && f.GetMetric()[0].GetGauge() != nil {
			values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 7.0, values["softbus_pipes_in_use"])
	assert.Equal(t, 512.0, values["softbus_buffer_bytes_in_use"])
	assert.Positive(t, calls)
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/pipes/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pipes/3", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/pipes/:id", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "softbus_http_requests_total"))
}

func TestTimer(t *testing.T) {
	m := NewMetrics()
	timer := NewTimer(m, "noop")
	d := timer.Stop("success")

	assert.GreaterOrEqual(t, d.Nanoseconds(), int64(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("noop", "success")))

	assert.NotPanics(t, func() { NewTimer(nil, "noop").Stop("success") })
}
