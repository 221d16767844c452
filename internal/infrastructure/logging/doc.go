// Package logging provides structured logging for the Gray Logic camera service.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8090)
//	session, err := camera.NewSession(camera.Options{Logger: logger.Component("camera"), ...})
//
// # Security
//
// Never log secrets. As a backstop, attributes named password, token,
// access_token or authorization are written as "[redacted]", and string
// values longer than 512 bytes (base64 frames) are truncated.
package logging
