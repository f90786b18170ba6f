package connection

import (
	"log/slog"
	"sort"
	"sync"
)

// Directory maps identities to their live Connection. It creates connections
// lazily and only forgets them when they are closed.
type Directory struct {
	cfg    Config
	dialer Dialer
	opts   []Option
	single bool
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	bound *Connection // single-session mode only
}

// NewDirectory creates an empty directory. The options are passed on to every
// connection it builds.
func NewDirectory(cfg Config, dialer Dialer, opts ...Option) *Directory {
	o := buildOptions(opts)
	return &Directory{
		cfg:    cfg,
		dialer: dialer,
		opts:   opts,
		single: o.singleSession,
		logger: o.logger,
		conns:  make(map[string]*Connection),
	}
}

// GetOrCreate returns the connection for identity, building and connecting
// it on first use. By default connections are keyed by identity, so each
// identity gets its own. In single-session mode (WithSingleSession) the first
// identity binds the one connection, and later calls get it back as is even
// when identity differs from the one it was built for.
func (d *Directory) GetOrCreate(identity string) (*Connection, error) {
	if identity == "" {
		d.logger.Warn("no identity, connection not created")
		return nil, ErrMissingIdentity
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.single && d.bound != nil {
		if d.bound.Identity() != identity {
			d.logger.Warn("connection already bound to another identity",
				"bound", d.bound.Identity(),
				"requested", identity,
			)
		}
		return d.bound, nil
	}
	if c, ok := d.conns[identity]; ok {
		return c, nil
	}

	c, err := NewConnection(identity, d.cfg, d.dialer, d.opts...)
	if err != nil {
		return nil, err
	}
	c.release = func() { d.forget(identity, c) }

	d.conns[identity] = c
	if d.single {
		d.bound = c
	}

	d.logger.Info("connection created", "identity", identity, "url", c.URL())
	c.Connect()

	return c, nil
}

// Get returns the connection for identity without creating one.
func (d *Directory) Get(identity string) (*Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[identity]
	return c, ok
}

// Close closes and forgets the connection for identity, if any.
func (d *Directory) Close(identity string) error {
	d.mu.Lock()
	c, ok := d.conns[identity]
	d.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// Reset closes every connection and clears the single-session binding.
func (d *Directory) Reset() error {
	d.mu.Lock()
	conns := make([]*Connection, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// Len returns the number of live connections.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Identities returns the identities with a live connection, sorted.
func (d *Directory) Identities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.conns))
	for id := range d.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// forget drops c if it is still the entry for identity.
func (d *Directory) forget(identity string, c *Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conns[identity] == c {
		delete(d.conns, identity)
	}
	if d.bound == c {
		d.bound = nil
	}
}
