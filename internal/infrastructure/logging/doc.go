// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a named child via Component so log lines carry their
// origin ("bridge", "host", "guard", ...).
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	b := bridge.New(bridge.Options{Logger: logger.Component("bridge")})
//	logger.Error("Failed to connect", zap.Error(err))
package logging
