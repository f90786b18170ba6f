// Package connection implements the per-identity push connection client.
//
// The client:
//   - Keeps one WebSocket per identity, addressed as /<root>/websocket/<identity>
//   - Drives an explicit lifecycle state machine on a single owning goroutine
//   - Sends a {"type":"ping"} heartbeat while open
//   - Reconnects after a fixed delay, forever, until closed
//   - Fans inbound frames out to registered listeners in order
package connection
