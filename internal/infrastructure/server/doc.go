// Package server wires the bridge host's HTTP surface: the websocket
// endpoint callers connect to, the attachment proxy, health and metrics.
//
// Routes:
//   - GET /health       liveness and connected peer count
//   - GET /metrics      Prometheus exposition
//   - GET /bridge       websocket upgrade, one executor loop per connection
//   - GET /attachments  ?session=&url= proxy with injected tracker credentials
//
// Each /bridge connection owns its credential registry. The attachment proxy
// only fetches URLs matched by a filter the named session installed.
package server
