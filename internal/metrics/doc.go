// Package metrics provides Prometheus metrics for the push connection client.
//
// Key metrics:
//   - Connections per lifecycle state
//   - Inbound/outbound frame and heartbeat counts
//   - Reconnect scheduling (and suppressed duplicates)
//   - Rejected sends and listener panics
package metrics
