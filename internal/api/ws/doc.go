// Package ws streams live bus statistics over WebSocket.
//
// Message Types (Client → Server):
//   - ping: keep-alive, answered with pong
//   - snapshot: push stats now
//   - set_interval: change the push period (interval_ms)
//
// Message Types (Server → Client):
//   - system: greeting with connection id and bus instance
//   - stats: usage snapshot and counters
//   - interval: push period changed
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(b, metrics, logger, time.Second)
//	router.GET("/ws/stats", handler.HandleConnection)
package ws
