package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/consolews/internal/metrics"
)

func TestNewConnection_RequiresIdentity(t *testing.T) {
	_, err := NewConnection("", testConfig(), newFakeDialer())
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = NewConnection("42", testConfig(), nil)
	assert.Error(t, err)
}

func TestConnection_StartsIdle(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "42", c.Identity())
	assert.Equal(t, "ws://console.test/api/websocket/42", c.URL())
	assert.NotEmpty(t, c.ID())
	assert.Empty(t, d.dialed())
}

func TestConnection_ConnectOpens(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())

	openConnection(t, c, d)

	assert.Equal(t, []string{"ws://console.test/api/websocket/42"}, d.dialed())
	assert.Equal(t, StateOpen, c.Stats().State)
}

func TestConnection_ConnectIgnoredWhenActive(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())

	openConnection(t, c, d)
	c.Connect()
	c.Connect()

	// A send is processed after both connects; once it lands they are done.
	require.NoError(t, c.Send([]byte("sync")))
	require.Eventually(t, func() bool { return c.Stats().FramesSent == 1 }, waitTimeout, 5*time.Millisecond)

	assert.Len(t, d.dialed(), 1)
}

func TestConnection_StatsReportEventQueue(t *testing.T) {
	d := newFakeDialer()
	cfg := testConfig()
	cfg.MailboxSize = 16
	c, err := NewConnection("42", cfg, d, WithClock(clock.NewMock()), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, 16, c.Stats().QueueCapacity)

	openConnection(t, c, d)
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Send([]byte("x")))
	}
	require.Eventually(t, func() bool { return c.Stats().FramesSent == 20 }, waitTimeout, 5*time.Millisecond)

	st := c.Stats()
	assert.Equal(t, 0, st.Queued)
	assert.GreaterOrEqual(t, st.QueueCapacity, 16)
}

func TestConnection_SendWhenOpen(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())
	ft := openConnection(t, c, d)

	payload := []byte("hello")
	require.NoError(t, c.Send(payload))
	payload[0] = 'j' // caller owns its buffer

	require.NoError(t, c.SendJSON(map[string]string{"type": "chat"}))

	require.Eventually(t, func() bool { return len(ft.frames()) == 2 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"hello", `{"type":"chat"}`}, ft.frames())
	assert.Equal(t, int64(2), c.Stats().FramesSent)
}

func TestConnection_SendJSONEncodeError(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())
	openConnection(t, c, d)

	err := c.SendJSON(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode frame")
}

func TestConnection_SendWhenNotOpen(t *testing.T) {
	d := newFakeDialer()
	m := metrics.New(nil)
	c := newTestConnection(t, d, clock.NewMock(), WithMetrics(m))

	err := c.Send([]byte("early"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int64(1), c.Stats().SendsDropped)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendsRejected.WithLabelValues("not_open")))
}

func TestConnection_SendDuringReconnectNeverReachesTransport(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)
	ft := openConnection(t, c, d)

	ft.handler(t).OnClose(nil)
	waitState(t, c, StateReconnectPending)

	assert.ErrorIs(t, c.Send([]byte("lost")), ErrNotConnected)
	assert.Empty(t, ft.frames())
}

func TestConnection_SendAcceptedThenTransportGone(t *testing.T) {
	d := newFakeDialer()
	m := metrics.New(nil)
	c := newTestConnection(t, d, clock.NewMock(), WithMetrics(m))
	ft := openConnection(t, c, d)

	// The socket is gone but its close event has not been processed yet.
	ft.open.Store(false)

	require.NoError(t, c.Send([]byte("late")))

	require.Eventually(t, func() bool { return c.Stats().SendsDropped == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendsRejected.WithLabelValues("not_open")))
	assert.Empty(t, ft.frames())
}

func TestConnection_SendQueueFullIsDropped(t *testing.T) {
	d := newFakeDialer()
	m := metrics.New(nil)
	c := newTestConnection(t, d, clock.NewMock(), WithMetrics(m))
	ft := openConnection(t, c, d)
	ft.setSendErr(ErrSendQueueFull)

	require.NoError(t, c.Send([]byte("x")))

	require.Eventually(t, func() bool { return c.Stats().SendsDropped == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendsRejected.WithLabelValues("queue_full")))
	assert.Equal(t, int64(0), c.Stats().FramesSent)
}

func TestConnection_ReconnectsAfterServerClose(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)
	ft := openConnection(t, c, d)

	ft.handler(t).OnClose(errors.New("server going away"))
	waitState(t, c, StateReconnectPending)
	assert.True(t, ft.isClosed())

	mock.Add(2 * time.Second)
	assert.Len(t, d.dialed(), 1, "reconnect fired early")

	mock.Add(time.Second)
	ft2 := d.next(t)
	waitState(t, c, StateOpen)

	assert.NotSame(t, ft, ft2)
	assert.Equal(t, []string{
		"ws://console.test/api/websocket/42",
		"ws://console.test/api/websocket/42",
	}, d.dialed())
	assert.Equal(t, int64(1), c.Stats().Reconnects)
}

func TestConnection_SingleReconnectTimer(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	m := metrics.New(nil)
	c := newTestConnection(t, d, mock, WithMetrics(m))
	ft := openConnection(t, c, d)

	h := ft.handler(t)
	h.OnError(errors.New("connection reset"))
	h.OnClose(nil)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ReconnectsMerged) == 1
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReconnectsPlanned))
	assert.Equal(t, StateReconnectPending, c.State())

	mock.Add(3 * time.Second)
	d.next(t)
	waitState(t, c, StateOpen)

	mock.Add(3 * time.Second)
	assert.Never(t, func() bool { return len(d.dialed()) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().Reconnects)
}

func TestConnection_DialFailureRetriesForever(t *testing.T) {
	d := newFakeDialer()
	d.failNext(5)
	mock := clock.NewMock()
	m := metrics.New(nil)
	c := newTestConnection(t, d, mock, WithMetrics(m))

	c.Connect()
	for i := 1; i <= 5; i++ {
		waitState(t, c, StateReconnectPending)
		require.Eventually(t, func() bool { return int(d.attempts.Load()) == i }, waitTimeout, 5*time.Millisecond)
		mock.Add(3 * time.Second)
		require.Eventually(t, func() bool { return int(d.attempts.Load()) == i+1 }, waitTimeout, 5*time.Millisecond)
	}

	d.next(t)
	waitState(t, c, StateOpen)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.DialFailures))
	assert.Equal(t, int64(5), c.Stats().Reconnects)
}

func TestConnection_HeartbeatWhileOpen(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	m := metrics.New(nil)
	c := newTestConnection(t, d, mock, WithMetrics(m))
	ft := openConnection(t, c, d)

	mock.Add(29 * time.Second)
	assert.Empty(t, ft.frames())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return len(ft.frames()) == 1 }, waitTimeout, 5*time.Millisecond)

	mock.Add(30 * time.Second)
	require.Eventually(t, func() bool { return len(ft.frames()) == 2 }, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, []string{`{"type":"ping"}`, `{"type":"ping"}`}, ft.frames())
	assert.Equal(t, int64(2), c.Stats().HeartbeatsSent)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.HeartbeatsSent))
}

func TestConnection_HeartbeatSkippedWhenTransportNotOpen(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)
	ft := openConnection(t, c, d)

	ft.open.Store(false)
	mock.Add(30 * time.Second)

	assert.Never(t, func() bool { return len(ft.frames()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int64(0), c.Stats().HeartbeatsSent)
}

func TestConnection_HeartbeatStopsWhileReconnecting(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)
	ft := openConnection(t, c, d)

	ft.handler(t).OnError(errors.New("broken pipe"))
	waitState(t, c, StateReconnectPending)

	d.failNext(100)
	mock.Add(30 * time.Second)

	assert.Never(t, func() bool { return len(ft.frames()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnection_NoHeartbeatAfterClose(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)
	ft := openConnection(t, c, d)

	require.NoError(t, c.Close())
	waitDone(t, c)

	mock.Add(2 * time.Minute)
	assert.Never(t, func() bool { return len(ft.frames()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, ft.isClosed())
}

func TestConnection_ListenersInOrder(t *testing.T) {
	d := newFakeDialer()
	m := metrics.New(nil)
	c := newTestConnection(t, d, clock.NewMock(), WithMetrics(m))

	var mu sync.Mutex
	var got []string
	record := func(tag string) Listener {
		return func(frame []byte) {
			mu.Lock()
			got = append(got, tag+":"+string(frame))
			mu.Unlock()
		}
	}

	c.Subscribe(record("a"))
	c.Subscribe(func([]byte) { panic("bad listener") })
	c.Subscribe(record("b"))

	ft := openConnection(t, c, d)
	h := ft.handler(t)
	h.OnMessage([]byte("1"))
	h.OnMessage([]byte("2"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2"}, got)
	mu.Unlock()
	assert.Equal(t, int64(2), c.Stats().FramesReceived)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ListenerPanics))
	assert.Equal(t, StateOpen, c.State())
}

func TestConnection_UnsubscribeStopsDelivery(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())

	received := make(chan string, 4)
	sub := c.Subscribe(func(frame []byte) { received <- "sub:" + string(frame) })
	c.Subscribe(func(frame []byte) { received <- "keep:" + string(frame) })

	ft := openConnection(t, c, d)
	assert.True(t, c.Unsubscribe(sub))
	assert.False(t, c.Unsubscribe(sub))

	ft.handler(t).OnMessage([]byte("x"))
	select {
	case got := <-received:
		assert.Equal(t, "keep:x", got)
	case <-time.After(waitTimeout):
		t.Fatal("frame not delivered")
	}
	assert.Equal(t, 1, c.Stats().Listeners)
}

func TestConnection_StaleTransportIgnored(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)

	received := make(chan string, 4)
	c.Subscribe(func(frame []byte) { received <- string(frame) })

	ft1 := openConnection(t, c, d)
	old := ft1.handler(t)
	old.OnError(errors.New("reset"))
	waitState(t, c, StateReconnectPending)

	mock.Add(3 * time.Second)
	ft2 := d.next(t)
	waitState(t, c, StateOpen)
	current := ft2.handler(t)

	old.OnMessage([]byte("stale"))
	old.OnClose(nil)
	current.OnMessage([]byte("fresh"))

	select {
	case got := <-received:
		assert.Equal(t, "fresh", got)
	case <-time.After(waitTimeout):
		t.Fatal("frame not delivered")
	}
	assert.Equal(t, StateOpen, c.State())
	assert.False(t, ft2.isClosed())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	m := metrics.New(nil)
	c := newTestConnection(t, d, clock.NewMock(), WithMetrics(m))
	ft := openConnection(t, c, d)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	waitDone(t, c)
	require.NoError(t, c.Close())

	assert.Equal(t, StateClosed, c.State())
	assert.True(t, ft.isClosed())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionStates.WithLabelValues("open")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionStates.WithLabelValues("closed")))
}

func TestConnection_CloseBeforeConnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())

	require.NoError(t, c.Close())
	waitDone(t, c)

	c.Connect()
	assert.Never(t, func() bool { return len(d.dialed()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnection_CloseCancelsPendingReconnect(t *testing.T) {
	d := newFakeDialer()
	mock := clock.NewMock()
	c := newTestConnection(t, d, mock)
	ft := openConnection(t, c, d)

	ft.handler(t).OnClose(nil)
	waitState(t, c, StateReconnectPending)

	require.NoError(t, c.Close())
	waitDone(t, c)

	mock.Add(10 * time.Second)
	assert.Never(t, func() bool { return len(d.dialed()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestConnection_CloseFromListener(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())
	c.Subscribe(func([]byte) { _ = c.Close() })

	ft := openConnection(t, c, d)
	ft.handler(t).OnMessage([]byte("bye"))

	waitDone(t, c)
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, ft.isClosed())
}

func TestConnection_WaitForClosed(t *testing.T) {
	d := newFakeDialer()
	c := newTestConnection(t, d, clock.NewMock())
	require.NoError(t, c.Close())
	waitDone(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	assert.NoError(t, c.WaitFor(ctx, StateClosed))
	assert.ErrorIs(t, c.WaitFor(ctx, StateOpen), ErrClosed)
}

func TestConnection_WaitForContextCanceled(t *testing.T) {
	c := newTestConnection(t, newFakeDialer(), clock.NewMock())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitFor(ctx, StateOpen), context.DeadlineExceeded)
}
