package connection

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrMissingIdentity = errors.New("missing identity")
	ErrClosed          = errors.New("connection closed")
	ErrSendQueueFull   = errors.New("send queue full")
	ErrTransportClosed = errors.New("transport closed")
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// HeartbeatFrame is the keep-alive message written while a connection is open.
type HeartbeatFrame struct {
	Type string `json:"type"`
}

var pingFrame = mustMarshal(HeartbeatFrame{Type: "ping"})

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Config configures connections built by a Directory.
type Config struct {
	BaseURL           string        // Scheme and host, e.g. ws://127.0.0.1:8101 (http/https are rewritten)
	ServiceRoot       string        // Path prefix in front of /websocket/<identity>
	ReconnectDelay    time.Duration // Fixed wait before each reconnect attempt
	HeartbeatInterval time.Duration // Ping period while open
	MailboxSize       int           // Initial capacity of the event queue
}

// DefaultConfig returns the console's reference settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "ws://127.0.0.1:8101",
		ServiceRoot:       "api",
		ReconnectDelay:    3 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MailboxSize:       64,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	return c
}

// Stats provides counters for a single connection.
type Stats struct {
	State          State
	FramesReceived int64
	FramesSent     int64
	HeartbeatsSent int64
	Reconnects     int64
	SendsDropped   int64
	Listeners      int
	Queued         int // Events waiting for the owner goroutine
	QueueCapacity  int
	QueueGrows     int
}

// BuildURL returns the push endpoint for identity:
// <baseURL>/<serviceRoot>/websocket/<identity>.
func BuildURL(baseURL, serviceRoot, identity string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	path := "/websocket/" + url.PathEscape(identity)
	if root := strings.Trim(serviceRoot, "/"); root != "" {
		path = "/" + root + path
	}
	return base + path
}
