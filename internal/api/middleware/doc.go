// Package middleware holds the gin middleware of the diagnostics API: CORS,
// rate limiting, request ids and access logging.
package middleware
