// Package mailbox provides the unbounded event queue that serializes work
// onto a single owning goroutine.
//
// Producers never block and never lose items: the ring doubles its capacity
// once it is 70% full. A closed mailbox rejects new items but still hands out
// the ones already queued.
package mailbox

import (
	"sync"
)

// Mailbox is a thread-safe FIFO with a growable ring buffer.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // next item to hand out
	tail   int // next free slot
	count  int
	closed bool
	grows  int
}

// Stats is a point-in-time view of a mailbox.
type Stats struct {
	Queued   int
	Capacity int
	Grows    int
}

// New creates a mailbox with the given initial capacity (minimum 1).
func New[T any](initialCapacity int) *Mailbox[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	m := &Mailbox[T]{
		ring: make([]T, initialCapacity),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Send enqueues item. It returns false once the mailbox is closed.
func (m *Mailbox[T]) Send(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	threshold := (len(m.ring) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if m.count+1 >= threshold {
		m.grow()
	}

	m.ring[m.tail] = item
	m.tail = (m.tail + 1) % len(m.ring)
	m.count++

	m.cond.Signal()
	return true
}

// Receive blocks until an item is available or the mailbox is closed and
// drained. The boolean is false only in the latter case.
func (m *Mailbox[T]) Receive() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.count == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.count == 0 {
		var zero T
		return zero, false
	}
	return m.pop(), true
}

// DrainTo removes up to max queued items (all of them when max <= 0).
func (m *Mailbox[T]) DrainTo(max int) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return nil
	}
	n := m.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = m.pop()
	}
	return out
}

// Close stops accepting items and wakes every blocked receiver.
// Calling Close more than once is harmless.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}

// Stats returns the current depth and ring size.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Queued:   m.count,
		Capacity: len(m.ring),
		Grows:    m.grows,
	}
}

// pop removes the head item. Must be called with mu held and count > 0.
func (m *Mailbox[T]) pop() T {
	var zero T
	item := m.ring[m.head]
	m.ring[m.head] = zero
	m.head = (m.head + 1) % len(m.ring)
	m.count--
	return item
}

// grow doubles the ring, unwrapping queued items to the front.
// Must be called with mu held.
func (m *Mailbox[T]) grow() {
	next := make([]T, len(m.ring)*2)
	if m.count > 0 {
		if m.head < m.tail {
			copy(next, m.ring[m.head:m.tail])
		} else {
			n := copy(next, m.ring[m.head:])
			copy(next[n:], m.ring[:m.tail])
		}
	}
	m.ring = next
	m.head = 0
	m.tail = m.count
	m.grows++
}
