// Package queue provides the lock-free-friendly primitives spec §9
// calls out as implementation-interior: a single-producer/single-
// consumer ring buffer (the bucket storage a ring-buffer scheduler
// needs, spec §4.7) and a sync.Pool-backed object pool bounding
// allocation of hot-path values such as scheduler.ScheduledEvent.
// Generic over the element type so this package has no dependency on
// scheduler — scheduler imports queue, not the other way around.
package queue

import (
	"sync"
	"sync/atomic"
)

// SPSC is a ring buffer of fixed, power-of-two capacity. Exactly one
// goroutine may call Push and exactly one may call Pop; this is the
// discipline spec §5 requires for the ring-buffer scheduler's
// producer/consumer pair (a scheduler may serialize multiple caller
// goroutines onto one producer role with its own mutex, as
// RingScheduler does, and still satisfy this).
type SPSC[T any] struct {
	buf  []T
	mask uint64
	head atomic.Uint64 // next write index (producer-owned)
	tail atomic.Uint64 // next read index (consumer-owned)
}

// NewSPSC returns an SPSC ring of the given capacity, rounded up to
// the next power of two.
func NewSPSC[T any](capacity int) *SPSC[T] {
	if capacity <= 0 {
		capacity = 1
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &SPSC[T]{buf: make([]T, n), mask: uint64(n - 1)}
}

// Push appends v, returning false if the ring is full (producer must
// retry or drop per the caller's backpressure policy).
func (q *SPSC[T]) Push(v T) bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if head-tail >= uint64(len(q.buf)) {
		return false
	}
	q.buf[head&q.mask] = v
	q.head.Store(head + 1)
	return true
}

// Pop removes and returns the oldest value, or ok=false if empty.
func (q *SPSC[T]) Pop() (v T, ok bool) {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail == head {
		return v, false
	}
	v = q.buf[tail&q.mask]
	q.tail.Store(tail + 1)
	return v, true
}

// Len reports the number of buffered values; approximate under
// concurrent access but exact once the caller's own producer/consumer
// calls have quiesced.
func (q *SPSC[T]) Len() int {
	return int(q.head.Load() - q.tail.Load())
}

// Pool bounds *T allocation in a hot path by recycling values through
// a sync.Pool (spec §9's "object pool for ScheduledEvent").
type Pool[T any] struct {
	pool sync.Pool
}

// NewPool returns a ready-to-use Pool for T.
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{pool: sync.Pool{New: func() any { return new(T) }}}
}

// Get returns a zeroed *T, reused from the pool when available.
func (p *Pool[T]) Get() *T {
	v := p.pool.Get().(*T)
	var zero T
	*v = zero
	return v
}

// Put returns v to the pool for reuse.
func (p *Pool[T]) Put(v *T) {
	p.pool.Put(v)
}
