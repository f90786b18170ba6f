package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures the gorilla-backed dialer.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration      // Max time for the HTTP upgrade
	WriteTimeout     time.Duration      // Write deadline per frame
	SendBuffer       int                // Frames queued ahead of the writer
	ReadLimit        int64              // Max inbound frame size (0 = unlimited)
	Header           func() http.Header // Handshake headers, evaluated per dial
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendBuffer:       256,
		ReadLimit:        1 << 20,
	}
}

// WebSocketDialer opens gorilla/websocket transports.
type WebSocketDialer struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	// Tracks writer goroutines so Wait can block until sockets are flushed.
	writers sync.WaitGroup
}

// NewWebSocketDialer creates a dialer. Zero fields in cfg take defaults.
func NewWebSocketDialer(cfg WebSocketConfig, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWebSocketConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &WebSocketDialer{cfg: cfg, logger: logger}
}

// Dial performs the WebSocket handshake against url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	header := http.Header{}
	if d.cfg.Header != nil {
		for k, vs := range d.cfg.Header() {
			for _, v := range vs {
				header.Add(k, v)
			}
		}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.cfg.ReadLimit > 0 {
		conn.SetReadLimit(d.cfg.ReadLimit)
	}

	t := &wsTransport{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
		logger:       d.logger,
		out:          make(chan []byte, d.cfg.SendBuffer),
		done:         make(chan struct{}),
	}
	t.open.Store(true)

	d.writers.Add(1)
	go func() {
		defer d.writers.Done()
		t.writeLoop()
	}()

	return t, nil
}

// Wait blocks until every transport from this dialer has flushed its queue
// and shut its socket, or ctx ends.
func (d *WebSocketDialer) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		d.writers.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wsTransport implements Transport over a gorilla connection. writeLoop is
// the only writer and the only goroutine that closes the socket.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	open      atomic.Bool
}

// Run reads frames until the connection fails or is closed.
func (t *wsTransport) Run(h Handler) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.open.Store(false)

			select {
			case <-t.done:
				// Closed locally.
				h.OnClose(nil)
				return
			default:
			}

			_ = t.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.OnClose(err)
			} else {
				h.OnError(err)
			}
			return
		}

		h.OnMessage(data)
	}
}

// Send queues frame for the writer goroutine.
func (t *wsTransport) Send(frame []byte) error {
	if !t.open.Load() {
		return ErrTransportClosed
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.out <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSendQueueFull
	}
}

// IsOpen reports whether the stream is usable.
func (t *wsTransport) IsOpen() bool {
	return t.open.Load()
}

// Close stops accepting frames. The writer flushes what is already queued,
// sends a normal close frame and shuts the socket in the background.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.open.Store(false)
		close(t.done)
	})
	return nil
}

// writeLoop drains queued frames onto the socket.
func (t *wsTransport) writeLoop() {
	defer t.conn.Close()

	for {
		select {
		case <-t.done:
			t.flush()
			return
		case frame := <-t.out:
			if err := t.write(frame); err != nil {
				t.logger.Debug("websocket write failed", "error", err)
				// The read side observes the broken socket and reports it.
				t.open.Store(false)
				return
			}
		}
	}
}

// flush writes whatever is still queued, then the close frame.
func (t *wsTransport) flush() {
	for {
		select {
		case frame := <-t.out:
			if err := t.write(frame); err != nil {
				return
			}
		default:
			_ = t.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.writeTimeout),
			)
			return
		}
	}
}

func (t *wsTransport) write(frame []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}
