package canfw

import (
	"fmt"
	"sync/atomic"
)

// Stats is a snapshot of a Channel's counters.
type Stats struct {
	Sent          uint32
	Queued        uint32
	Retried       uint32
	RetryFailures uint32
	Dropped       uint32
	Received      uint32
	Errors        uint32
	Pending       int
}

func (st Stats) String() string {
	return fmt.Sprintf("sent: %d queued: %d retried: %d retry failures: %d dropped: %d recv: %d errors: %d pending: %d",
		st.Sent, st.Queued, st.Retried, st.RetryFailures, st.Dropped, st.Received, st.Errors, st.Pending)
}

type counters struct {
	sent          atomic.Uint32
	queued        atomic.Uint32
	retried       atomic.Uint32
	retryFailures atomic.Uint32
	dropped       atomic.Uint32
	received      atomic.Uint32
	errors        atomic.Uint32
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:          c.sent.Load(),
		Queued:        c.queued.Load(),
		Retried:       c.retried.Load(),
		RetryFailures: c.retryFailures.Load(),
		Dropped:       c.dropped.Load(),
		Received:      c.received.Load(),
		Errors:        c.errors.Load(),
	}
}
