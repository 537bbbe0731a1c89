// Package logging provides structured logging for chargegate.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same shape.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log passwords, session IDs, CSRF tokens or Authorization headers.
// Principals are logged by name and kind only.
package logging
