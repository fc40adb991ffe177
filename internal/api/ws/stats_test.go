package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
	"github.com/flightcore/softbus/internal/shared/id"
)

func dial(t *testing.T, interval time.Duration) (*bus.Bus, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b, err := bus.New(bus.DefaultConfig(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	router := gin.New()
	router.GET("/ws/stats", NewHandler(b, monitoring.NewMetrics(), nil, interval).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/stats", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return b, conn
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readType skips periodic stats frames until one of type want arrives.
func readType(t *testing.T, conn *websocket.Conn, want string) Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := read(t, conn); f.Type == want {
			return f
		}
	}
	t.Fatalf("no %q frame", want)
	return Frame{}
}

func TestGreetingAndSnapshot(t *testing.T) {
	b, conn := dial(t, time.Hour)

	hello := read(t, conn)
	assert.Equal(t, "system", hello.Type)
	assert.Equal(t, b.Instance().String(), hello.Instance)
	assert.True(t, strings.HasPrefix(hello.Connection, "ws_"))
	assert.True(t, id.IsValid(strings.TrimPrefix(hello.Connection, "ws_")))

	first := read(t, conn)
	require.Equal(t, "stats", first.Type)
	require.NotNil(t, first.Stats)
	assert.Zero(t, first.Stats.PipesInUse)

	_, err := b.CreatePipe(id.NamedTaskID("ground"), 4, "DATA")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Type: "snapshot"}))
	next := readType(t, conn, "stats")
	require.NotNil(t, next.Stats)
	assert.Equal(t, 1, next.Stats.PipesInUse)
	assert.NotNil(t, next.Counters)
}

func TestPingAndErrors(t *testing.T) {
	_, conn := dial(t, time.Hour)
	read(t, conn)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "launch"}))
	f := read(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "unknown message type", f.Message)

	require.NoError(t, conn.WriteJSON(Message{Type: "set_interval", IntervalMs: 1}))
	assert.Equal(t, "error", read(t, conn).Type)
}

func TestSetIntervalPushes(t *testing.T) {
	_, conn := dial(t, time.Hour)
	read(t, conn)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "set_interval", IntervalMs: 100}))
	f := read(t, conn)
	require.Equal(t, "interval", f.Type)
	assert.Equal(t, int64(100), f.IntervalMs)

	// Periodic pushes now arrive without asking.
	assert.Equal(t, "stats", read(t, conn).Type)
}
