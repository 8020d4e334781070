package processor

import "github.com/oddnote/midimind/midimsg"

// Chord adds parallel notes at fixed intervals above (or below) each
// NoteOn/NoteOff, the harmonizer stage of spec §4.4. Notes falling
// outside 0..127 are dropped individually; the original note is always
// emitted.
type Chord struct {
	Intervals []int // semitone offsets for each added voice, e.g. {4,7} for a major triad
}

// NewChord returns a Chord stage adding one voice per entry in
// intervals.
func NewChord(intervals ...int) *Chord {
	return &Chord{Intervals: intervals}
}

func (c *Chord) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	if !m.IsNote() {
		return []midimsg.Message{m}
	}
	out := []midimsg.Message{m}
	for _, iv := range c.Intervals {
		note := int(m.Data1) + iv
		if note < 0 || note > 127 {
			continue
		}
		voice := m
		voice.Data1 = uint8(note)
		out = append(out, voice)
	}
	return out
}

func (c *Chord) Tick(nowUS int64) []midimsg.Message { return nil }
func (c *Chord) Reset() []midimsg.Message           { return nil }
