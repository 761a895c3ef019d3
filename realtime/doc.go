// Package realtime implements the persistent channel used for
// fire-and-forget event delivery.
//
// A Channel wraps a single WebSocket connection:
//   - keepalive pings with pong-based staleness detection
//   - invocation/acknowledgement correlation
//   - automatic reconnection with exponential backoff
//
// It is safe for concurrent use.
package realtime
