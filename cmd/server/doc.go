// Package main runs the tracker bridge host.
//
// The host accepts caller connections on /bridge, performs the tracker calls
// they describe with injected credentials and replies with the result.
//
// Configuration comes from environment variables (see the config package);
// flags override them.
//
// Usage:
//
//	./server -port 8000
//	./server -dev -log-level debug
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
