// Package metrics provides Prometheus metrics for monitoring a chat client.
//
// Key metrics:
//   - Connection session state, connect attempts and stale closes
//   - Frames sent and received by message type, and denied sends
//   - Token bucket level
//   - Credential refreshes and session events
//
// All recording methods are safe to call on a nil *Metrics.
package metrics
