package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

var errDialRefused = errors.New("connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records outbound frames and lets a test drive the inbound
// side through the Handler it was run with.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	open      atomic.Bool
	handlers  chan Handler
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	t := &fakeTransport{
		handlers: make(chan Handler, 1),
		closed:   make(chan struct{}),
	}
	t.open.Store(true)
	return t
}

func (t *fakeTransport) Run(h Handler) {
	t.handlers <- h
	<-t.closed
}

func (t *fakeTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sendErr != nil {
		return t.sendErr
	}
	if !t.open.Load() {
		return ErrTransportClosed
	}
	t.sent = append(t.sent, append([]byte(nil), frame...))
	return nil
}

func (t *fakeTransport) IsOpen() bool {
	return t.open.Load()
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.open.Store(false)
		close(t.closed)
	})
	return nil
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) frames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.sent))
	for i, f := range t.sent {
		out[i] = string(f)
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// handler waits for Run to be called and returns the handler it received.
func (t *fakeTransport) handler(tb testing.TB) Handler {
	tb.Helper()
	select {
	case h := <-t.handlers:
		// Put it back so later calls see it too.
		t.handlers <- h
		return h
	case <-time.After(waitTimeout):
		tb.Fatal("transport was never run")
		return nil
	}
}

// fakeDialer hands out fakeTransports and can be told to fail.
type fakeDialer struct {
	mu   sync.Mutex
	urls []string

	failures   atomic.Int32
	attempts   atomic.Int32
	transports chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transports: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	d.attempts.Add(1)

	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errDialRefused
	}

	t := newFakeTransport()
	d.transports <- t
	return t, nil
}

func (d *fakeDialer) failNext(n int) {
	d.failures.Store(int32(n))
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) next(tb testing.TB) *fakeTransport {
	tb.Helper()
	select {
	case t := <-d.transports:
		return t
	case <-time.After(waitTimeout):
		tb.Fatal("no transport dialed")
		return nil
	}
}

func testConfig() Config {
	return Config{
		BaseURL:           "ws://console.test",
		ServiceRoot:       "api",
		ReconnectDelay:    3 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

func newTestConnection(t *testing.T, d Dialer, clk clock.Clock, opts ...Option) *Connection {
	t.Helper()

	opts = append([]Option{WithClock(clk), WithLogger(discardLogger())}, opts...)
	c, err := NewConnection("42", testConfig(), d, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitState(t *testing.T, c *Connection, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, c.WaitFor(ctx, want), "waiting for %s, at %s", want, c.State())
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("connection did not shut down")
	}
}

// openConnection connects c and returns the transport once it is open.
func openConnection(t *testing.T, c *Connection, d *fakeDialer) *fakeTransport {
	t.Helper()
	c.Connect()
	ft := d.next(t)
	waitState(t, c, StateOpen)
	ft.handler(t)
	return ft
}
