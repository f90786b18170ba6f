// Package session watches the console login so the push channel does not
// outlive the session that opened it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/consolews/internal/api"
)

// Reasons passed to EndHandler.
var (
	ErrLoggedOut   = errors.New("session logged out")
	ErrUserChanged = errors.New("session user changed")
)

// UserSource resolves the user behind the current session.
type UserSource interface {
	GetLoginUser(ctx context.Context) (*api.LoginUser, error)
}

// EndHandler is told once when the watched session ends.
type EndHandler interface {
	SessionEnded(identity string, reason error)
}

// EndHandlerFunc is a function adapter for EndHandler.
type EndHandlerFunc func(identity string, reason error)

func (f EndHandlerFunc) SessionEnded(identity string, reason error) {
	f(identity, reason)
}

// Config holds watcher configuration.
type Config struct {
	Interval time.Duration // Time between login checks (default: 1m)
	Timeout  time.Duration // Per-check timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Watcher periodically re-resolves the login user and reports when the
// session is gone or belongs to someone else.
type Watcher struct {
	cfg      Config
	identity string
	users    UserSource
	handler  EndHandler
	logger   *slog.Logger
	clock    clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	ticker *clock.Ticker
	wg     sync.WaitGroup

	ended    atomic.Bool
	checks   atomic.Int64
	failures atomic.Int64
}

// New creates a watcher for identity. A nil clock uses the wall clock.
func New(cfg Config, identity string, users UserSource, handler EndHandler, logger *slog.Logger, clk clock.Clock) *Watcher {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Watcher{
		cfg:      cfg,
		identity: identity,
		users:    users,
		handler:  handler,
		logger:   logger.With("identity", identity),
		clock:    clk,
	}
}

// Start begins checking. The first check happens one interval from now.
func (w *Watcher) Start(ctx context.Context) error {
	if w.users == nil {
		return errors.New("session watcher needs a user source")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.ticker = w.clock.Ticker(w.cfg.Interval)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("session watcher started", "interval", w.cfg.Interval)
	return nil
}

// Stop shuts the watcher down and waits for an in-flight check.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Debug("session watcher stopped",
			"checks", w.checks.Load(),
			"failures", w.failures.Load(),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ended reports whether the session has been seen to end.
func (w *Watcher) Ended() bool {
	return w.ended.Load()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer w.ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.ticker.C:
			if w.check() {
				return
			}
		}
	}
}

// check performs one lookup. It returns true once the session has ended.
func (w *Watcher) check() bool {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()

	w.checks.Add(1)
	user, err := w.users.GetLoginUser(ctx)
	switch {
	case errors.Is(err, api.ErrNotLoggedIn):
		w.end(ErrLoggedOut)
		return true
	case err != nil:
		// Transient: the backend may be restarting along with the push channel.
		w.failures.Add(1)
		w.logger.Warn("failed to check session", "error", err)
		return false
	case user.Identity() != w.identity:
		w.end(fmt.Errorf("%w: now %s", ErrUserChanged, user.Identity()))
		return true
	}

	w.logger.Debug("session still valid")
	return false
}

// end runs on the watcher goroutine only; run exits right after.
func (w *Watcher) end(reason error) {
	w.logger.Warn("session ended", "reason", reason)
	if w.handler != nil {
		w.handler.SessionEnded(w.identity, reason)
	}
	w.ended.Store(true)
}
