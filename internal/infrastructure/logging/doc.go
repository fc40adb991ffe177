// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// The bus names its loggers per component ("bus", "sbtask", "http") and
// attaches msg_id, pipe and task fields to every event.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Pipe created", zap.String("pipe_name", "SB_CMD_PIPE"))
//	logger.Error("Transmit failed", zap.Error(err))
package logging
