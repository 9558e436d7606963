// Package logging provides structured logging for fleetd.
//
// It wraps log/slog so every component writes the same structured records.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Component-scoped child loggers
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("scheduler").Info("plan enqueued", "plan_id", id)
//
// Never log broker passwords, tokens or object store keys.
package logging
