// Package processor implements the per-route message transform chain
// (spec §4.4): pure stages over (message, now, local state) applied in
// order, with a reset hook for the all-notes-off guarantee.
package processor

import "github.com/oddnote/midimind/midimsg"

// Stage is one link in a processor chain. Process may return zero or
// more output messages (a filter returns 0 or 1; an arpeggiator may
// buffer input and emit nothing until a later Tick). Tick releases any
// due, internally-scheduled events (delay echoes, arpeggiator steps).
// Reset clears held state and returns the NoteOff messages needed to
// satisfy the all-notes-off guarantee (spec §4.4).
type Stage interface {
	Process(m midimsg.Message, nowUS int64) []midimsg.Message
	Tick(nowUS int64) []midimsg.Message
	Reset() []midimsg.Message
}

// Chain applies a sequence of Stages in order, feeding each stage's
// output into the next.
type Chain struct {
	stages []Stage
}

// NewChain returns a Chain that applies stages in the given order.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// Process runs m through every stage, in order, fanning out across
// stages that emit more than one message.
func (c *Chain) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	pending := []midimsg.Message{m}
	for _, s := range c.stages {
		var next []midimsg.Message
		for _, in := range pending {
			next = append(next, s.Process(in, nowUS)...)
		}
		pending = next
		if len(pending) == 0 {
			return nil
		}
	}
	return pending
}

// Tick releases due events from every stage that schedules its own
// future output (Delay, Arpeggiator), in chain order so a later
// stage's Tick output still passes through the stages after it.
func (c *Chain) Tick(nowUS int64) []midimsg.Message {
	var out []midimsg.Message
	for i, s := range c.stages {
		for _, m := range s.Tick(nowUS) {
			out = append(out, c.passThrough(i+1, m, nowUS)...)
		}
	}
	return out
}

// passThrough runs m through the stages starting at index from,
// used so a mid-chain stage's Tick output is still processed by
// whatever follows it in the chain.
func (c *Chain) passThrough(from int, m midimsg.Message, nowUS int64) []midimsg.Message {
	pending := []midimsg.Message{m}
	for _, s := range c.stages[from:] {
		var next []midimsg.Message
		for _, in := range pending {
			next = append(next, s.Process(in, nowUS)...)
		}
		pending = next
		if len(pending) == 0 {
			return nil
		}
	}
	return pending
}

// Reset invokes Reset on every stage, collecting the NoteOff messages
// each one emits to release its held notes (spec §4.4's all-notes-off
// guarantee). Stages are reset in chain order.
func (c *Chain) Reset() []midimsg.Message {
	var out []midimsg.Message
	for _, s := range c.stages {
		out = append(out, s.Reset()...)
	}
	return out
}
