// Package http is the diagnostic REST API over a running bus: usage and
// counters, pipe and route listings, route enable/disable, counter resets,
// dump requests and Prometheus metrics.
package http
