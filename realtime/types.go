package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrInvokeTimeout   = errors.New("invoke timeout")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrClosed          = errors.New("channel closed")
)

// State is the lifecycle state of a Channel.
type State int32

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected State = iota

	// Connecting means an initial connection attempt is in flight.
	Connecting

	// Connected means the channel is established and ready to invoke.
	Connected

	// Reconnecting means the connection dropped and retries are in progress.
	Reconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// invocation is a method invocation sent to the server.
type invocation struct {
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Payload interface{} `json:"payload,omitempty"`
}

// ack is a frame from the server. Frames with a non-zero ID acknowledge
// an invocation; frames with ID 0 are unsolicited server messages.
type ack struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "ok" or "error"
	Msg  json.RawMessage `json:"msg"`
}

// errorMsg is the message content of an "error" frame.
type errorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config configures a Channel.
type Config struct {
	URL                  string        // WebSocket URL (e.g., ws://localhost:5000/metrics)
	AccessToken          string        // Bearer token for the Authorization header ("" = no auth)
	HandshakeTimeout     time.Duration // Dial deadline
	WriteTimeout         time.Duration // Write deadline for sends
	InvokeTimeout        time.Duration // Max wait for a server acknowledgement
	KeepAliveInterval    time.Duration // Interval between client pings
	PongTimeout          time.Duration // Max time without a pong before the connection is considered stale
	ReconnectBaseDelay   time.Duration // Base wait time between reconnection attempts
	ReconnectMaxDelay    time.Duration // Max wait time between reconnection attempts
	MaxReconnectAttempts int           // Reconnection attempts before giving up (negative disables automatic reconnection)
	ErrorBufferSize      int           // Errors channel buffer size
	Logger               *slog.Logger  // nil uses slog.Default()
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		InvokeTimeout:        30 * time.Second,
		KeepAliveInterval:    15 * time.Second,
		PongTimeout:          60 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 4,
		ErrorBufferSize:      16,
	}
}
