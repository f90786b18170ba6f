package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rickgao/consolews/internal/mailbox"
	"github.com/rickgao/consolews/internal/metrics"
)

// Option configures a Connection or Directory.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	clock         clock.Clock
	metrics       *metrics.Metrics
	singleSession bool
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock driving heartbeat and reconnect timers.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSingleSession makes a Directory bind one connection for the process:
// the first identity wins and later lookups return it unchanged.
func WithSingleSession() Option {
	return func(o *options) {
		o.singleSession = true
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	return o
}

type eventKind int

const (
	evConnect eventKind = iota
	evOpened
	evDialFailed
	evMessage
	evClosed
	evErrored
	evHeartbeat
	evReconnect
	evSend
	evClose
)

// event is one unit of work for the owning goroutine. gen ties transport and
// heartbeat events to the dial attempt that produced them.
type event struct {
	kind      eventKind
	gen       uint64
	transport Transport
	frame     []byte
	err       error
}

// Connection is the push channel for one identity. All state transitions
// happen on a single goroutine fed by a mailbox; the exported methods only
// post events and never block on the network.
type Connection struct {
	id        string
	identity  string
	url       string
	cfg       Config
	dialer    Dialer
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	listeners *Registry

	events    *mailbox.Mailbox[event]
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	release   func()

	// Published view of state for other goroutines.
	notifyMu  sync.Mutex
	published State
	changed   chan struct{}

	// Owned by run.
	state           State
	gen             uint64
	transport       Transport
	heartbeat       *heartbeat
	reconnectTimer  *clock.Timer
	reconnectLocked bool

	framesReceived atomic.Int64
	framesSent     atomic.Int64
	heartbeatsSent atomic.Int64
	reconnects     atomic.Int64
	sendsDropped   atomic.Int64
}

// NewConnection creates an idle connection for identity. Call Connect to
// start dialing.
func NewConnection(identity string, cfg Config, dialer Dialer, opts ...Option) (*Connection, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}

	o := buildOptions(opts)
	cfg = cfg.withDefaults()
	id := uuid.New().String()
	logger := o.logger.With("identity", identity, "conn_id", id)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        id,
		identity:  identity,
		url:       BuildURL(cfg.BaseURL, cfg.ServiceRoot, identity),
		cfg:       cfg,
		dialer:    dialer,
		clock:     o.clock,
		logger:    logger,
		metrics:   o.metrics,
		listeners: NewRegistry(logger, o.metrics),
		events:    mailbox.New[event](cfg.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		published: StateIdle,
		changed:   make(chan struct{}),
		state:     StateIdle,
	}
	c.metrics.Transition("", StateIdle.String())

	go c.run()

	return c, nil
}

// ID returns the unique identifier of this connection instance.
func (c *Connection) ID() string { return c.id }

// Identity returns the identity the connection is bound to.
func (c *Connection) Identity() string { return c.identity }

// URL returns the endpoint the connection dials.
func (c *Connection) URL() string { return c.url }

// Done is closed once the connection has fully shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the most recently published state.
func (c *Connection) State() State {
	if c.closed.Load() {
		return StateClosed
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	return c.published
}

// WaitFor blocks until the connection reaches want or ctx ends. Waiting for
// anything other than StateClosed on a closed connection returns ErrClosed.
func (c *Connection) WaitFor(ctx context.Context, want State) error {
	for {
		c.notifyMu.Lock()
		st, ch := c.published, c.changed
		c.notifyMu.Unlock()

		if st == want {
			return nil
		}
		if st == StateClosed {
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Stats returns counters for this connection.
func (c *Connection) Stats() Stats {
	queue := c.events.Stats()
	return Stats{
		State:          c.State(),
		FramesReceived: c.framesReceived.Load(),
		FramesSent:     c.framesSent.Load(),
		HeartbeatsSent: c.heartbeatsSent.Load(),
		Reconnects:     c.reconnects.Load(),
		SendsDropped:   c.sendsDropped.Load(),
		Listeners:      c.listeners.Len(),
		Queued:         queue.Queued,
		QueueCapacity:  queue.Capacity,
		QueueGrows:     queue.Grows,
	}
}

// Subscribe registers fn for every inbound frame.
func (c *Connection) Subscribe(fn Listener) *Subscription {
	return c.listeners.Subscribe(fn)
}

// Unsubscribe removes a registration. It reports whether it was present.
func (c *Connection) Unsubscribe(sub *Subscription) bool {
	return c.listeners.Unsubscribe(sub)
}

// Connect starts dialing. It is a no-op unless the connection is idle.
func (c *Connection) Connect() {
	c.post(event{kind: evConnect})
}

// Send hands payload to the open transport. When the connection is not open
// the payload is dropped and ErrNotConnected is returned.
//
// The open check is best-effort: nil means the frame was accepted while the
// connection was open, not that it was written. If the transport drops before
// the owner goroutine picks the frame up, it is discarded, logged and counted
// as a rejected send.
func (c *Connection) Send(payload []byte) error {
	if st := c.State(); st != StateOpen {
		c.rejectSend("not_open", st)
		if st == StateClosed {
			return ErrClosed
		}
		return ErrNotConnected
	}

	frame := make([]byte, len(payload))
	copy(frame, payload)
	if !c.post(event{kind: evSend, frame: frame}) {
		c.rejectSend("closed", StateClosed)
		return ErrClosed
	}
	return nil
}

// SendJSON encodes v and sends it as one frame.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return c.Send(data)
}

// Close shuts the connection down from any state. It never fails and may be
// called repeatedly, including from inside a listener.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.post(event{kind: evClose})
		if c.release != nil {
			c.release()
		}
	})
	return nil
}

func (c *Connection) post(ev event) bool {
	return c.events.Send(ev)
}

func (c *Connection) rejectSend(reason string, st State) {
	c.sendsDropped.Add(1)
	c.metrics.SendRejected(reason)
	c.logger.Warn("websocket not connected, frame dropped",
		"state", st,
		"reason", reason,
	)
}

// run is the owning goroutine.
func (c *Connection) run() {
	defer close(c.done)

	for {
		ev, ok := c.events.Receive()
		if !ok {
			return
		}

		switch ev.kind {
		case evConnect:
			c.handleConnect()
		case evOpened:
			c.handleOpened(ev)
		case evDialFailed:
			c.handleDialFailed(ev)
		case evMessage:
			c.handleMessage(ev)
		case evClosed, evErrored:
			c.handleTransportDown(ev)
		case evHeartbeat:
			c.handleHeartbeat(ev)
		case evReconnect:
			c.handleReconnect()
		case evSend:
			c.handleSend(ev)
		case evClose:
			c.handleClose()
			return
		}
	}
}

func (c *Connection) setState(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next

	c.notifyMu.Lock()
	c.published = next
	close(c.changed)
	c.changed = make(chan struct{})
	c.notifyMu.Unlock()

	c.metrics.Transition(prev.String(), next.String())
	c.logger.Debug("connection state changed", "from", prev, "to", next)
}

func (c *Connection) handleConnect() {
	if c.state != StateIdle {
		c.logger.Debug("connect ignored", "state", c.state)
		return
	}
	c.dial()
}

// dial starts one handshake in the background.
func (c *Connection) dial() {
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)

	c.logger.Debug("dialing websocket", "url", c.url, "attempt", gen)

	go func() {
		t, err := c.dialer.Dial(c.ctx, c.url)
		if err != nil {
			c.post(event{kind: evDialFailed, gen: gen, err: err})
			return
		}
		if !c.post(event{kind: evOpened, gen: gen, transport: t}) {
			_ = t.Close()
			return
		}
		t.Run(transportHandler{conn: c, gen: gen})
	}()
}

func (c *Connection) handleOpened(ev event) {
	if ev.gen != c.gen || c.state != StateConnecting {
		_ = ev.transport.Close()
		return
	}

	c.transport = ev.transport
	c.armHeartbeat()
	c.setState(StateOpen)

	c.logger.Info("websocket connected", "url", c.url)
}

func (c *Connection) handleDialFailed(ev event) {
	if ev.gen != c.gen || c.state != StateConnecting {
		return
	}

	c.metrics.DialFailed()
	c.logger.Warn("websocket dial failed", "url", c.url, "error", ev.err)
	c.scheduleReconnect()
}

func (c *Connection) handleMessage(ev event) {
	if ev.gen != c.gen {
		return
	}
	c.framesReceived.Add(1)
	c.metrics.FrameReceived()
	c.listeners.Dispatch(ev.frame)
}

func (c *Connection) handleTransportDown(ev event) {
	if ev.gen != c.gen {
		return
	}

	if ev.kind == evErrored {
		c.logger.Warn("websocket error", "error", ev.err)
	} else {
		c.logger.Info("websocket closed, reconnecting", "reason", ev.err)
	}

	c.disarmHeartbeat()
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer unless one is pending.
func (c *Connection) scheduleReconnect() {
	if c.reconnectLocked {
		c.metrics.ReconnectSuppressed()
		c.logger.Debug("reconnect already pending")
		return
	}

	c.reconnectLocked = true
	c.reconnectTimer = c.clock.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.post(event{kind: evReconnect})
	})
	c.reconnects.Add(1)
	c.metrics.ReconnectScheduled()
	c.setState(StateReconnectPending)

	c.logger.Info("reconnection scheduled", "delay", c.cfg.ReconnectDelay)
}

func (c *Connection) handleReconnect() {
	if c.state != StateReconnectPending {
		return
	}

	c.reconnectLocked = false
	c.reconnectTimer = nil

	c.logger.Info("attempting reconnection", "url", c.url)
	c.dial()
}

func (c *Connection) armHeartbeat() {
	c.disarmHeartbeat()
	gen := c.gen
	c.heartbeat = startHeartbeat(c.clock, c.cfg.HeartbeatInterval, func() {
		c.post(event{kind: evHeartbeat, gen: gen})
	})
}

func (c *Connection) disarmHeartbeat() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *Connection) handleHeartbeat(ev event) {
	if ev.gen != c.gen || c.state != StateOpen || c.transport == nil || !c.transport.IsOpen() {
		return
	}

	if err := c.transport.Send(pingFrame); err != nil {
		c.logger.Debug("failed to send heartbeat", "error", err)
		return
	}
	c.heartbeatsSent.Add(1)
	c.metrics.HeartbeatSent()
}

func (c *Connection) handleSend(ev event) {
	if c.state != StateOpen || c.transport == nil || !c.transport.IsOpen() {
		c.rejectSend("not_open", c.state)
		return
	}

	if err := c.transport.Send(ev.frame); err != nil {
		reason := "transport_closed"
		if errors.Is(err, ErrSendQueueFull) {
			reason = "queue_full"
		}
		c.rejectSend(reason, c.state)
		return
	}
	c.framesSent.Add(1)
	c.metrics.FrameSent()
}

// handleClose is terminal: it tears everything down and stops the mailbox.
func (c *Connection) handleClose() {
	c.setState(StateClosing)

	c.disarmHeartbeat()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectLocked = false

	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close failed", "error", err)
		}
		c.transport = nil
	}

	c.setState(StateClosed)
	c.events.Close()

	// Anything still queued is stale; release transports nobody will own.
	for _, ev := range c.events.DrainTo(0) {
		switch ev.kind {
		case evOpened:
			_ = ev.transport.Close()
		case evSend:
			c.rejectSend("closed", StateClosed)
		}
	}

	c.metrics.Transition(StateClosed.String(), "")
	c.logger.Info("websocket closed")
}

// transportHandler forwards transport callbacks into the mailbox.
type transportHandler struct {
	conn *Connection
	gen  uint64
}

func (h transportHandler) OnMessage(frame []byte) {
	h.conn.post(event{kind: evMessage, gen: h.gen, frame: frame})
}

func (h transportHandler) OnClose(err error) {
	h.conn.post(event{kind: evClosed, gen: h.gen, err: err})
}

func (h transportHandler) OnError(err error) {
	h.conn.post(event{kind: evErrored, gen: h.gen, err: err})
}
