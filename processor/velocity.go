package processor

import (
	"math"

	"github.com/oddnote/midimind/midimsg"
)

// VelocityCurve selects the response curve a Velocity stage applies.
type VelocityCurve int

const (
	CurveLinear VelocityCurve = iota
	CurveLog
	CurveExp
)

// Velocity rescales NoteOn velocity through a configurable curve and
// gain, clamped to 1..127 (spec §4.4). A canonicalized NoteOn with
// velocity 0 is already a NoteOff (midimsg.NoteOn's invariant) and is
// never seen here with Data2 == 0.
type Velocity struct {
	Curve VelocityCurve
	Gain  float64
}

// NewVelocity returns a Velocity stage applying curve with the given
// gain (1.0 = unity).
func NewVelocity(curve VelocityCurve, gain float64) *Velocity {
	return &Velocity{Curve: curve, Gain: gain}
}

func (v *Velocity) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	if m.Kind != midimsg.KindNoteOn {
		return []midimsg.Message{m}
	}
	norm := float64(m.Data2) / 127.0
	var shaped float64
	switch v.Curve {
	case CurveLog:
		shaped = math.Log1p(norm*(math.E-1)) // maps [0,1] -> [0,1] logarithmically
	case CurveExp:
		shaped = (math.Exp(norm) - 1) / (math.E - 1)
	default:
		shaped = norm
	}
	scaled := shaped * v.Gain * 127.0
	clamped := clampVelocity(scaled)
	out := m
	out.Data2 = clamped
	return []midimsg.Message{out}
}

func clampVelocity(v float64) uint8 {
	if v < 1 {
		return 1
	}
	if v > 127 {
		return 127
	}
	return uint8(v)
}

func (v *Velocity) Tick(nowUS int64) []midimsg.Message { return nil }
func (v *Velocity) Reset() []midimsg.Message           { return nil }
