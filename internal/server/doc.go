// Package server assembles the software bus service with fx.
//
// Lifecycle:
//  1. Build the logger, metrics, bus, dump writer and bus task from config
//  2. Build the gin router and HTTP server
//  3. OnStart: run the bus task, then open the HTTP listener
//  4. OnStop: drain HTTP, close the task, tear the bus down
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	app := server.New(cfg)
//	app.Run()
package server
