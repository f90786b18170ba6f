package connection

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/consolews/internal/metrics"
)

// Listener consumes one inbound frame. The frame is shared by every listener
// of a dispatch and must not be modified.
type Listener func(frame []byte)

// Subscription is the handle for one registration. Registering the same
// function twice yields two independent subscriptions.
type Subscription struct {
	id       string
	fn       Listener
	registry *Registry
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Cancel removes the subscription from its registry. Safe on nil and safe to
// call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.registry == nil {
		return
	}
	s.registry.Unsubscribe(s)
}

// Registry is an ordered set of listeners with per-listener fault isolation.
type Registry struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs []*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, metrics: m}
}

// Subscribe appends fn and returns its handle. A nil fn is ignored.
func (r *Registry) Subscribe(fn Listener) *Subscription {
	if fn == nil {
		return nil
	}
	sub := &Subscription{
		id:       uuid.New().String(),
		fn:       fn,
		registry: r,
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	r.logger.Debug("listener subscribed", "subscription_id", sub.id)
	return sub
}

// Unsubscribe removes sub. It reports whether sub was registered.
func (r *Registry) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s == sub {
			// Copy so in-flight dispatch snapshots stay intact.
			next := make([]*Subscription, 0, len(r.subs)-1)
			next = append(next, r.subs[:i]...)
			r.subs = append(next, r.subs[i+1:]...)
			r.logger.Debug("listener unsubscribed", "subscription_id", sub.id)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dispatch calls every listener registered at the time of the call, in
// registration order. It returns how many returned without panicking.
func (r *Registry) Dispatch(frame []byte) int {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if err := r.invoke(sub, frame); err != nil {
			r.metrics.ListenerPanicked()
			r.logger.Error("listener failed",
				"subscription_id", sub.id,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// invoke runs one listener, converting a panic into an error.
func (r *Registry) invoke(sub *Subscription, frame []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panic: %v", rec)
		}
	}()
	sub.fn(frame)
	return nil
}
