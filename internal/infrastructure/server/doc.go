// Package server runs the diagnostic HTTP API: the gin middleware stack,
// route registration and a listener with graceful shutdown.
package server
