package connection

import "context"

// Handler receives events from a running Transport.
type Handler interface {
	// OnMessage is called once per inbound frame, in arrival order.
	OnMessage(frame []byte)

	// OnClose reports a clean end of the stream.
	OnClose(err error)

	// OnError reports an abnormal end of the stream.
	OnError(err error)
}

// Transport is one open bidirectional frame stream.
type Transport interface {
	// Run delivers inbound frames to h until the stream ends, then reports
	// the end through exactly one of h.OnClose or h.OnError. It blocks.
	Run(h Handler)

	// Send queues a frame for writing. It does not wait for the network.
	Send(frame []byte) error

	// IsOpen reports whether the stream can still carry frames.
	IsOpen() bool

	// Close tears the stream down. Safe to call multiple times.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	// Dial blocks until the stream is open or ctx is cancelled.
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}
