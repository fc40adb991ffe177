// Package main is the entry point of the software bus service.
//
// The service hosts one in-process software bus, its housekeeping task and a
// diagnostic HTTP API (REST, Prometheus metrics, WebSocket stats stream).
//
// Configuration:
//   - Defaults, then an optional YAML or TOML file (-config)
//   - Environment variables (12-factor)
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -config softbus.yaml -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
