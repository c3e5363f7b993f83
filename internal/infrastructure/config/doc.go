// Package config provides 12-factor configuration for the tracker bridge.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: host HTTP server settings (port, host)
//   - Bridge: caller-side timeout, host websocket address, tracker base URL
//   - Tracker: credential, tracker host, self-signed and cookie modes
//   - Session: memory or redis backed session state
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Executor: outbound request rate and HTTP timeout
//
// Tracker credentials can also come from a YAML or TOML file via
// LoadTrackerFile; TRACKER_* variables still take precedence.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
