package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/infrastructure/logging"
	"github.com/flightcore/softbus/internal/infrastructure/monitoring"
	"github.com/flightcore/softbus/internal/shared/id"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 4096

	// Bounds for client-requested push intervals.
	MinInterval = 100 * time.Millisecond
	MaxInterval = time.Minute
)

// Message is a client request.
type Message struct {
	Type       string `json:"type"`
	IntervalMs int    `json:"interval_ms,omitempty"`
}

// Frame is a server push.
type Frame struct {
	Type       string        `json:"type"`
	Timestamp  int64         `json:"timestamp"`
	Connection string        `json:"connection,omitempty"`
	Instance   string        `json:"instance,omitempty"`
	Message    string        `json:"message,omitempty"`
	IntervalMs int64         `json:"interval_ms,omitempty"`
	Stats      *bus.Stats    `json:"stats,omitempty"`
	Counters   *bus.Counters `json:"counters,omitempty"`
}

// Handler streams bus statistics over WebSocket connections
type Handler struct {
	bus      *bus.Bus
	metrics  *monitoring.Metrics
	log      *logging.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewHandler creates a stats stream handler pushing every interval.
func NewHandler(b *bus.Bus, metrics *monitoring.Metrics, logger *logging.Logger, interval time.Duration) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{
		bus:      b,
		metrics:  metrics,
		log:      logger.Named("ws"),
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and streams until either side goes
// away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := id.Default().GenerateWithPrefix("ws")
	log := h.log.With(zap.String("connection", connID))
	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	log.Debug("Stats stream opened", zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	requests := make(chan Message, 8)
	go h.readLoop(ctx, cancel, conn, requests)

	err = h.writeLoop(ctx, conn, connID, requests)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("Stats stream ended", zap.Error(err))
	}
}

// readLoop is the only reader of conn.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- Message) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		h.record("in", m.Type)
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the only writer of conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, connID string, requests <-chan Message) error {
	interval := h.interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := h.send(conn, Frame{
		Type:       "system",
		Connection: connID,
		Instance:   h.bus.Instance().String(),
		IntervalMs: interval.Milliseconds(),
		Message:    "connected to software bus stats stream",
	}); err != nil {
		return err
	}
	if err := h.send(conn, h.snapshot()); err != nil {
		return err
	}

	for {
		var frame Frame
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case <-ticker.C:
			frame = h.snapshot()
		case m := <-requests:
			switch m.Type {
			case "ping":
				frame = Frame{Type: "pong"}
			case "snapshot":
				frame = h.snapshot()
			case "set_interval":
				d := time.Duration(m.IntervalMs) * time.Millisecond
				if d < MinInterval || d > MaxInterval {
					frame = Frame{Type: "error", Message: "interval_ms out of range"}
					break
				}
				interval = d
				ticker.Reset(interval)
				frame = Frame{Type: "interval", IntervalMs: interval.Milliseconds()}
			default:
				frame = Frame{Type: "error", Message: "unknown message type"}
			}
		}
		if err := h.send(conn, frame); err != nil {
			return err
		}
	}
}

func (h *Handler) snapshot() Frame {
	stats := h.bus.Stats()
	counters := h.bus.Counters()
	return Frame{Type: "stats", Stats: &stats, Counters: &counters}
}

func (h *Handler) send(conn *websocket.Conn, f Frame) error {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().Unix()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		return err
	}
	h.record("out", f.Type)
	return nil
}

func (h *Handler) record(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}
