package processor

import (
	"math/rand"

	"github.com/oddnote/midimind/midimsg"
)

// ArpPattern selects the order in which an Arpeggiator steps through
// its held notes.
type ArpPattern int

const (
	PatternUp ArpPattern = iota
	PatternDown
	PatternUpDown
	PatternRandom
)

type heldNote struct {
	channel  uint8
	note     uint8
	velocity uint8
}

// Arpeggiator maintains a held-notes set in insertion order and, on
// Tick, emits the configured pattern at a fixed interval (spec §4.4).
// NoteOn/NoteOff are absorbed (added to/removed from the held set) and
// never pass through directly; every other message kind passes
// through unchanged.
type Arpeggiator struct {
	Pattern    ArpPattern
	IntervalUS int64

	held       []heldNote
	started    bool
	lastStepUS int64
	upIdx      int
	goingUp    bool
	sounding   int // index into held of the currently-sounding note, -1 if none
	rng        *rand.Rand
}

// NewArpeggiator returns an Arpeggiator stepping pattern every
// intervalUS microseconds.
func NewArpeggiator(pattern ArpPattern, intervalUS int64) *Arpeggiator {
	return &Arpeggiator{
		Pattern:    pattern,
		IntervalUS: intervalUS,
		goingUp:    true,
		sounding:   -1,
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (a *Arpeggiator) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	switch m.Kind {
	case midimsg.KindNoteOn:
		a.held = append(a.held, heldNote{channel: m.Channel, note: m.Data1, velocity: m.Data2})
		if !a.started {
			a.started = true
			a.lastStepUS = nowUS
		}
		return nil
	case midimsg.KindNoteOff:
		for i, h := range a.held {
			if h.note == m.Data1 {
				a.held = append(a.held[:i], a.held[i+1:]...)
				if a.sounding == i {
					a.sounding = -1
				} else if a.sounding > i {
					a.sounding--
				}
				break
			}
		}
		return nil
	default:
		return []midimsg.Message{m}
	}
}

func (a *Arpeggiator) Tick(nowUS int64) []midimsg.Message {
	if !a.started || len(a.held) == 0 || a.IntervalUS <= 0 {
		return nil
	}
	if nowUS-a.lastStepUS < a.IntervalUS {
		return nil
	}
	a.lastStepUS += a.IntervalUS

	var out []midimsg.Message
	if a.sounding >= 0 && a.sounding < len(a.held) {
		prev := a.held[a.sounding]
		out = append(out, midimsg.NoteOff(prev.channel, prev.note, 0, nowUS))
	}

	next := a.nextIndex()
	a.sounding = next
	n := a.held[next]
	out = append(out, midimsg.NoteOn(n.channel, n.note, n.velocity, nowUS))
	return out
}

func (a *Arpeggiator) nextIndex() int {
	n := len(a.held)
	switch a.Pattern {
	case PatternDown:
		a.upIdx = (a.upIdx - 1 + n) % n
		return a.upIdx
	case PatternUpDown:
		if n == 1 {
			return 0
		}
		if a.goingUp {
			a.upIdx++
			if a.upIdx >= n-1 {
				a.upIdx = n - 1
				a.goingUp = false
			}
		} else {
			a.upIdx--
			if a.upIdx <= 0 {
				a.upIdx = 0
				a.goingUp = true
			}
		}
		return a.upIdx
	case PatternRandom:
		return a.rng.Intn(n)
	default: // PatternUp
		idx := a.upIdx % n
		a.upIdx++
		return idx
	}
}

// Reset clears held notes, emitting a NoteOff for whichever note is
// currently sounding (spec §4.4's all-notes-off guarantee).
func (a *Arpeggiator) Reset() []midimsg.Message {
	var out []midimsg.Message
	if a.sounding >= 0 && a.sounding < len(a.held) {
		h := a.held[a.sounding]
		out = append(out, midimsg.NoteOff(h.channel, h.note, 0, 0))
	}
	a.held = nil
	a.started = false
	a.upIdx = 0
	a.goingUp = true
	a.sounding = -1
	return out
}
