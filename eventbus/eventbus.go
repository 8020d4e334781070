// Package eventbus is the typed pub/sub fan-out for spec §6's
// observable events: device.connected/disconnected/error,
// player.position/state, route.changed, sysex.received,
// scheduler.late. Publication is non-blocking; high-rate topics
// (player.position) coalesce to the subscriber's last-seen value
// instead of queuing every update (spec §9).
package eventbus

import "sync"

// Topic names the observable event channels of spec §6.
type Topic string

const (
	TopicDeviceConnected    Topic = "device.connected"
	TopicDeviceDisconnected Topic = "device.disconnected"
	TopicDeviceError        Topic = "device.error"
	TopicPlayerPosition     Topic = "player.position"
	TopicPlayerState        Topic = "player.state"
	TopicRouteChanged       Topic = "route.changed"
	TopicSysExReceived      Topic = "sysex.received"
	TopicSchedulerLate      Topic = "scheduler.late"
)

// coalesced marks topics whose subscriber channel holds only the most
// recent event: a slow consumer sees the latest state, never a
// backlog (spec §9's "coalesces high-rate events (player.position) by
// timestamp").
var coalesced = map[Topic]bool{
	TopicPlayerPosition: true,
	TopicSchedulerLate:  true,
}

// Handle identifies a subscription for later Unsubscribe.
type Handle uint64

type subscriber struct {
	handle Handle
	ch     chan any
}

// Bus is the process-wide typed event bus.
type Bus struct {
	mu     sync.Mutex
	nextID Handle
	subs   map[Topic][]subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]subscriber)}
}

// Subscribe registers a new subscriber on topic, returning a receive
// channel and a Handle for Unsubscribe. The channel is buffered (size
// 1 for coalesced topics, 64 otherwise) so Publish never blocks on a
// slow reader.
func (b *Bus) Subscribe(topic Topic) (<-chan any, Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	size := 64
	if coalesced[topic] {
		size = 1
	}
	sub := subscriber{handle: b.nextID, ch: make(chan any, size)}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub.ch, sub.handle
}

// Unsubscribe removes a subscription by handle, closing its channel.
func (b *Bus) Unsubscribe(topic Topic, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.handle == h {
			close(s.ch)
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber of topic. For a coalesced
// topic, a full subscriber channel is drained of its stale value and
// the new one takes its place; for an ordinary topic, a full
// subscriber channel causes that event to be dropped for that
// subscriber rather than blocking the publisher.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			if coalesced[topic] {
				select {
				case <-s.ch:
				default:
				}
				select {
				case s.ch <- event:
				default:
				}
			}
		}
	}
}
