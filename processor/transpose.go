package processor

import "github.com/oddnote/midimind/midimsg"

// Transpose adds a fixed number of semitones to NoteOn/NoteOff note
// numbers, dropping the message if the result falls outside 0..127
// (spec §4.4, boundary case: "note 127 +1 semitone → dropped, not
// wrapped"). Non-note messages pass through unchanged.
type Transpose struct {
	Semitones int
}

// NewTranspose returns a Transpose stage shifting note numbers by n
// semitones (may be negative).
func NewTranspose(semitones int) *Transpose {
	return &Transpose{Semitones: semitones}
}

func (t *Transpose) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	if !m.IsNote() || t.Semitones == 0 {
		return []midimsg.Message{m}
	}
	note := int(m.Data1) + t.Semitones
	if note < 0 || note > 127 {
		return nil
	}
	out := m
	out.Data1 = uint8(note)
	return []midimsg.Message{out}
}

func (t *Transpose) Tick(nowUS int64) []midimsg.Message { return nil }
func (t *Transpose) Reset() []midimsg.Message           { return nil }
