// Package scheduler implements the two interchangeable dispatch
// strategies of spec §4.7: a priority-queue scheduler (min-heap by
// due time, then sequence) and a ring-buffer scheduler (fixed-size
// SPSC ring bucketed by millisecond). Both guarantee monotone
// non-decreasing dispatch timestamps, FIFO among equal deadlines, and
// a bounded drain().
package scheduler

import (
	"time"

	"github.com/oddnote/midimind/midimsg"
)

// Epsilon is the dispatch-time slack within which an event is
// considered due "now" (spec §4.7's priority-queue strategy).
const Epsilon = 500 * time.Microsecond

// MaxWake bounds how long the priority-queue dispatcher sleeps before
// re-evaluating the heap even with nothing due, so a newly-submitted
// earlier event is never missed for long (spec §4.7).
const MaxWake = 10 * time.Millisecond

// DrainDeadline bounds how long drain() waits for pending events to
// flush before returning DrainTimeout (spec §5's "drain 1 s").
const DrainDeadline = time.Second

// ScheduledEvent is one dispatch-bound MIDI message, carrying the
// route/sink it is addressed to and its due time in clock
// microseconds (spec's GLOSSARY "Late event").
type ScheduledEvent struct {
	DueUS    int64
	Seq      uint64
	SinkID   string
	Message  midimsg.Message
}

// Dispatcher receives a ScheduledEvent at or after its due time.
type Dispatcher func(ev ScheduledEvent)

// Scheduler is the common interface both strategies implement (spec
// §4.7's "submit(ScheduledEvent), tick(), drain()").
type Scheduler interface {
	Submit(ev ScheduledEvent) error
	Tick(nowUS int64)
	Drain(deadline time.Duration) error
	Close()
}
