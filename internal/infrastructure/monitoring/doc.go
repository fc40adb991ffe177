/*
Package monitoring provides Prometheus metrics for the software bus.

# Overview

Every Metrics value owns its own registry. The bus records transmit,
receive and subscription outcomes; the SB task records commands and
telemetry; the diagnostic API records HTTP traffic through Middleware.
Resource gauges (pipes, MsgIDs, buffers, memory) are read from the bus on
each scrape via TrackUsage.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "noop")
	// ... process the command ...
	timer.Stop("success")
*/
package monitoring
