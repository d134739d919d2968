package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrNotOpen          = errors.New("connection not open")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrStaleConnection  = errors.New("connection stale (no frames within pong timeout)")
	ErrConnectionLost   = errors.New("connection lost")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAborted          = errors.New("connect aborted by disconnect")
	ErrNoRoom           = errors.New("not in a room")
	ErrRateLimited      = errors.New("rate limited")
)

// RateLimitError reports a denied connect or send and how long to wait.
type RateLimitError struct {
	Op   string // "connect" or "send"
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry in %s", e.Op, e.Wait.Round(time.Millisecond))
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// State is the session connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusEvent is published on every state transition.
type StatusEvent struct {
	State    State
	Previous State
	Err      error // Cause of an unexpected close, nil otherwise
	At       time.Time
}

// TimestampedMessage wraps raw frame data with its receive time.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// TokenSource supplies credentials for the handshake.
type TokenSource interface {
	IsAuthenticated() bool
	AccessToken(ctx context.Context) (string, error)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://chat.example.com/ws)
	Token        string        // Sent as the token query parameter
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound frame channel buffer size
	ReadLimit    int64         // Maximum inbound frame size in bytes (0 = unlimited)
}

// Config configures a Session.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration // Ping frame period
	PongTimeout       time.Duration // Max silence before the socket is considered stale
	ConnectTimeout    time.Duration // Bound on a single dial and handshake
	WriteTimeout      time.Duration
	ReconnectMinDelay time.Duration // Floor on the delay before a reconnect
	BufferSize        int
	ReadLimit         int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       60 * time.Second,
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectMinDelay: time.Second,
		BufferSize:        256,
		ReadLimit:         1 << 20,
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	State             State
	ReconnectAttempts int
	CurrentRoom       string
	FramesSent        int64
	FramesReceived    int64
	MalformedFrames   int64
	SendsDenied       int64
}
