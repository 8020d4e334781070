// Package latency implements the per-sink delay-profile compensator
// of spec §4.6: adjusted = timestamp - profile.delay(kind, channel),
// marking events whose adjusted time has already passed as late.
package latency

import (
	"sync"
	"sync/atomic"

	"github.com/oddnote/midimind/midimsg"
)

// Profile looks up the compensation delay, in microseconds, to
// subtract from a message's timestamp before scheduling it at a given
// sink device.
type Profile interface {
	DelayUS(kind midimsg.Kind, channel uint8) int64
}

// StaticProfile is a Profile with one delay per message kind,
// independent of channel — the common case of a fixed per-device
// output latency measured once and configured.
type StaticProfile struct {
	Default int64
	byKind  map[midimsg.Kind]int64
}

// NewStaticProfile returns a StaticProfile applying defaultDelayUS to
// every kind unless overridden via WithKind.
func NewStaticProfile(defaultDelayUS int64) *StaticProfile {
	return &StaticProfile{Default: defaultDelayUS, byKind: make(map[midimsg.Kind]int64)}
}

// WithKind overrides the delay for a specific message kind and
// returns the profile for chaining.
func (p *StaticProfile) WithKind(kind midimsg.Kind, delayUS int64) *StaticProfile {
	p.byKind[kind] = delayUS
	return p
}

func (p *StaticProfile) DelayUS(kind midimsg.Kind, channel uint8) int64 {
	if d, ok := p.byKind[kind]; ok {
		return d
	}
	return p.Default
}

// Compensator applies per-sink Profiles to outbound messages (spec
// §4.6). Jitter bound is informational only and not modeled here.
type Compensator struct {
	mu        sync.RWMutex
	profiles  map[string]Profile
	lateCount atomic.Int64
}

// NewCompensator returns an empty Compensator; sinks default to zero
// delay until SetProfile is called.
func NewCompensator() *Compensator {
	return &Compensator{profiles: make(map[string]Profile)}
}

// SetProfile installs the delay Profile for a sink device. Safe to
// call concurrently with Adjust (e.g. a control command reconfiguring
// a sink's profile while devices are actively dispatching).
func (c *Compensator) SetProfile(sinkDeviceID string, p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[sinkDeviceID] = p
}

// Adjust computes the compensated timestamp for m bound for
// sinkDeviceID, given the scheduler's current clock nowUS. It reports
// late=true if the adjusted timestamp has already passed, incrementing
// the aggregated late-events counter either way scheduler dispatch
// still proceeds immediately per spec §4.6. Safe for concurrent use:
// every device drives its own reader goroutine into Adjust via
// router dispatch.
func (c *Compensator) Adjust(sinkDeviceID string, m midimsg.Message, nowUS int64) (adjustedUS int64, late bool) {
	c.mu.RLock()
	p, ok := c.profiles[sinkDeviceID]
	c.mu.RUnlock()

	var delay int64
	if ok {
		delay = p.DelayUS(m.Kind, m.Channel)
	}
	adjustedUS = m.TimestampUS - delay
	late = adjustedUS < nowUS
	if late {
		c.lateCount.Add(1)
	}
	return adjustedUS, late
}

// LateCount returns the number of Adjust calls that produced a late
// event since construction, feeding the `scheduler.late(count)`
// observable event (spec §6).
func (c *Compensator) LateCount() int64 {
	return c.lateCount.Load()
}
