// Package router implements the route table and per-message fanout
// (spec §4.5): for each ingress message, match routes by source and
// channel filter, run the processor chain, apply gain/offset, and hand
// the result to a sink function (normally latency.Compensator.Adjust
// chained into scheduler.Submit). The route table is a copy-on-write
// snapshot so in-flight dispatch never observes a torn update.
package router

import (
	"sync"
	"sync/atomic"

	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
	"github.com/oddnote/midimind/processor"
)

// Sink receives a fully-processed message bound for one device, plus
// the route it came from (so the caller can apply latency
// compensation keyed by sink device and message kind/channel).
type Sink func(sinkDeviceID string, m midimsg.Message, route Route)

// Route is one configured source->sink connection with its mix
// controls and processor chain (spec's GLOSSARY "Route").
type Route struct {
	ID       string
	SourceID string
	SinkID   string
	Channels [17]bool // 1-based; index 0 unused, meaning "no channel restriction" when all false
	Gain     float64  // velocity scale, 1.0 = unity
	OffsetUS int64    // timestamp offset applied before scheduling
	Mute     bool
	Solo     bool

	Chain *processor.Chain
}

// admitsChannel reports whether ch passes this route's channel filter.
// A route with no channels configured (all false) admits everything,
// matching "filter admits the message" semantics for a default route.
func (r Route) admitsChannel(ch uint8) bool {
	if ch == 0 {
		return true
	}
	any := false
	for _, v := range r.Channels {
		if v {
			any = true
			break
		}
	}
	if !any {
		return true
	}
	return ch <= 16 && r.Channels[ch]
}

// snapshot is the immutable route table published via atomic.Pointer.
type snapshot struct {
	routes []Route
}

// Table is the CoW route table (spec §4.5/§5's "Route table: read-
// mostly, CoW snapshot"). Writers serialize on mu; readers load the
// snapshot pointer atomically and never block.
type Table struct {
	mu  sync.Mutex
	cur atomic.Pointer[snapshot]
	sink Sink
}

// NewTable returns an empty Table dispatching matched output to sink.
func NewTable(sink Sink) *Table {
	t := &Table{sink: sink}
	t.cur.Store(&snapshot{})
	return t
}

func (t *Table) load() *snapshot {
	return t.cur.Load()
}

// Add appends route to the table (or replaces an existing route with
// the same ID), publishing a new snapshot.
func (t *Table) Add(route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.load().routes
	next := make([]Route, 0, len(old)+1)
	replaced := false
	for _, r := range old {
		if r.ID == route.ID {
			next = append(next, route)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, route)
	}
	t.cur.Store(&snapshot{routes: next})
}

// Remove deletes the route with the given ID. Returns KindNotFound if
// no such route exists.
func (t *Table) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.load().routes
	next := make([]Route, 0, len(old))
	found := false
	for _, r := range old {
		if r.ID == id {
			found = true
			continue
		}
		next = append(next, r)
	}
	if !found {
		return midierr.NotFound("router.Table.Remove", "route", id)
	}
	t.cur.Store(&snapshot{routes: next})
	return nil
}

// List returns a copy of the current route snapshot.
func (t *Table) List() []Route {
	snap := t.load().routes
	out := make([]Route, len(snap))
	copy(out, snap)
	return out
}

// mutate applies fn to the route with the given ID and republishes the
// table; used by Mute/Solo/Volume/Offset.
func (t *Table) mutate(id string, fn func(*Route)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.load().routes
	next := make([]Route, len(old))
	copy(next, old)
	found := false
	for i := range next {
		if next[i].ID == id {
			fn(&next[i])
			found = true
			break
		}
	}
	if !found {
		return midierr.NotFound("router.Table.mutate", "route", id)
	}
	t.cur.Store(&snapshot{routes: next})
	return nil
}

func (t *Table) SetMute(id string, mute bool) error {
	return t.mutate(id, func(r *Route) { r.Mute = mute })
}

func (t *Table) SetSolo(id string, solo bool) error {
	return t.mutate(id, func(r *Route) { r.Solo = solo })
}

func (t *Table) SetVolume(id string, gain float64) error {
	return t.mutate(id, func(r *Route) { r.Gain = gain })
}

func (t *Table) SetOffset(id string, offsetUS int64) error {
	return t.mutate(id, func(r *Route) { r.OffsetUS = offsetUS })
}

// SetChain installs chain as the route's processor chain
// (processor.chain_set, spec §6), replacing whatever was there before.
func (t *Table) SetChain(id string, chain *processor.Chain) error {
	return t.mutate(id, func(r *Route) { r.Chain = chain })
}

// ResetRoute invokes Reset on a single route's processor chain,
// dispatching the resulting all-notes-off NoteOffs through the sink
// (processor.reset, spec §6). Returns KindNotFound for an unknown
// route ID.
func (t *Table) ResetRoute(id string) error {
	t.mu.Lock()
	route, ok := findRoute(t.load().routes, id)
	t.mu.Unlock()
	if !ok {
		return midierr.NotFound("router.Table.ResetRoute", "route", id)
	}
	if route.Chain == nil {
		return nil
	}
	for _, out := range route.Chain.Reset() {
		if t.sink != nil {
			t.sink(route.SinkID, out, route)
		}
	}
	return nil
}

func findRoute(routes []Route, id string) (Route, bool) {
	for _, r := range routes {
		if r.ID == id {
			return r, true
		}
	}
	return Route{}, false
}

// Dispatch runs an ingress message from sourceID through every
// matching route against a single snapshot (spec §4.5's "in-flight
// messages observe a single snapshot for the duration of one ingress
// dispatch"), applying solo semantics: if any route is solo, only
// solo+unmuted routes emit; otherwise all unmuted routes emit.
func (t *Table) Dispatch(sourceID string, m midimsg.Message) {
	snap := t.load().routes

	anySolo := false
	for _, r := range snap {
		if r.Solo {
			anySolo = true
			break
		}
	}

	for _, r := range snap {
		if r.SourceID != sourceID {
			continue
		}
		if !r.admitsChannel(m.Channel) {
			continue
		}
		if anySolo {
			if !r.Solo || r.Mute {
				continue
			}
		} else if r.Mute {
			continue
		}
		t.dispatchRoute(r, m)
	}
}

func (t *Table) dispatchRoute(r Route, m midimsg.Message) {
	outputs := []midimsg.Message{m}
	if r.Chain != nil {
		outputs = r.Chain.Process(m, m.TimestampUS)
	}
	for _, out := range outputs {
		out.Data2 = applyGain(out, r.Gain)
		out.TimestampUS += r.OffsetUS
		if t.sink != nil {
			t.sink(r.SinkID, out, r)
		}
	}
}

func applyGain(m midimsg.Message, gain float64) uint8 {
	if m.Kind != midimsg.KindNoteOn || gain == 0 || gain == 1.0 {
		return m.Data2
	}
	scaled := float64(m.Data2) * gain
	if scaled < 1 {
		scaled = 1
	}
	if scaled > 127 {
		scaled = 127
	}
	return uint8(scaled)
}

// Tick releases scheduled output from every route's processor chain
// (arpeggiator steps, delay echoes), dispatching it through the same
// gain/offset/sink path as Dispatch.
func (t *Table) Tick(nowUS int64) {
	snap := t.load().routes
	for _, r := range snap {
		if r.Chain == nil {
			continue
		}
		for _, out := range r.Chain.Tick(nowUS) {
			out.Data2 = applyGain(out, r.Gain)
			out.TimestampUS += r.OffsetUS
			if t.sink != nil {
				t.sink(r.SinkID, out, r)
			}
		}
	}
}

// ResetAll invokes Reset on every route's processor chain, dispatching
// the resulting all-notes-off NoteOffs through the sink (spec §4.4's
// guarantee, triggered on Stop transitions and route edits).
func (t *Table) ResetAll() {
	snap := t.load().routes
	for _, r := range snap {
		if r.Chain == nil {
			continue
		}
		for _, out := range r.Chain.Reset() {
			if t.sink != nil {
				t.sink(r.SinkID, out, r)
			}
		}
	}
}
