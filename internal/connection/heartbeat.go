package connection

import (
	"time"

	"github.com/benbjohnson/clock"
)

// heartbeat ticks while a connection is open. Each tick only posts an event;
// the owning goroutine decides whether a ping is written.
type heartbeat struct {
	ticker *clock.Ticker
	stop   chan struct{}
}

// startHeartbeat arms a fresh ticker that calls tick every interval.
func startHeartbeat(clk clock.Clock, interval time.Duration, tick func()) *heartbeat {
	hb := &heartbeat{
		ticker: clk.Ticker(interval),
		stop:   make(chan struct{}),
	}
	go hb.loop(tick)
	return hb
}

func (hb *heartbeat) loop(tick func()) {
	for {
		select {
		case <-hb.stop:
			return
		case <-hb.ticker.C:
			select {
			case <-hb.stop:
				return
			default:
			}
			tick()
		}
	}
}

// Stop cancels the ticker. Called once by the owner.
func (hb *heartbeat) Stop() {
	hb.ticker.Stop()
	close(hb.stop)
}
