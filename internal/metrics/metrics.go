package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consolews"

// Metrics holds the collectors shared by every connection in a process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionStates  *prometheus.GaugeVec
	FramesReceived    prometheus.Counter
	FramesSent        prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	DialFailures      prometheus.Counter
	ReconnectsPlanned prometheus.Counter
	ReconnectsMerged  prometheus.Counter
	SendsRejected     *prometheus.CounterVec
	ListenerPanics    prometheus.Counter
}

// New registers the collectors with reg. Passing nil uses a private registry,
// which keeps tests independent of the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ConnectionStates: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of push connections in each lifecycle state.",
		}, []string{"state"}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames dispatched to listeners.",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Caller frames handed to an open transport.",
		}),
		HeartbeatsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Keep-alive ping frames written.",
		}),
		DialFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_failures_total",
			Help:      "Transport open attempts that failed.",
		}),
		ReconnectsPlanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect timers armed after a close or error.",
		}),
		ReconnectsMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_suppressed_total",
			Help:      "Close or error events ignored because a reconnect was already pending.",
		}),
		SendsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_rejected_total",
			Help:      "Outbound frames dropped, by reason.",
		}, []string{"reason"}),
		ListenerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "Listener callbacks that panicked during dispatch.",
		}),
	}
}

// Transition moves one connection from one state label to another.
// An empty from means the connection is new; an empty to means it is gone.
func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	if from != "" {
		m.ConnectionStates.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.ConnectionStates.WithLabelValues(to).Inc()
	}
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

// FrameSent counts one frame handed to a transport.
func (m *Metrics) FrameSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

// HeartbeatSent counts one ping.
func (m *Metrics) HeartbeatSent() {
	if m != nil {
		m.HeartbeatsSent.Inc()
	}
}

// DialFailed counts a failed dial.
func (m *Metrics) DialFailed() {
	if m != nil {
		m.DialFailures.Inc()
	}
}

// ReconnectScheduled counts an armed reconnect timer.
func (m *Metrics) ReconnectScheduled() {
	if m != nil {
		m.ReconnectsPlanned.Inc()
	}
}

// ReconnectSuppressed counts a reconnect request dropped because a timer was already pending.
func (m *Metrics) ReconnectSuppressed() {
	if m != nil {
		m.ReconnectsMerged.Inc()
	}
}

// SendRejected counts a dropped outbound frame under reason.
func (m *Metrics) SendRejected(reason string) {
	if m != nil {
		m.SendsRejected.WithLabelValues(reason).Inc()
	}
}

// ListenerPanicked counts a recovered listener panic.
func (m *Metrics) ListenerPanicked() {
	if m != nil {
		m.ListenerPanics.Inc()
	}
}
