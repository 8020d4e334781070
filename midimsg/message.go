// Package midimsg is the typed MIDI message model and Standard MIDI
// File (SMF) codec: the wire-format leaf of the dataplane (spec §3,
// §4.1).
package midimsg

import "fmt"

// Kind identifies which of the MIDI message families a Message
// represents.
type Kind int

const (
	KindNoteOn Kind = iota
	KindNoteOff
	KindPolyAftertouch
	KindControlChange
	KindProgramChange
	KindChannelPressure
	KindPitchBend
	KindSysEx
	KindMetaEvent
	KindRealtime
)

func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "NoteOn"
	case KindNoteOff:
		return "NoteOff"
	case KindPolyAftertouch:
		return "PolyAftertouch"
	case KindControlChange:
		return "ControlChange"
	case KindProgramChange:
		return "ProgramChange"
	case KindChannelPressure:
		return "ChannelPressure"
	case KindPitchBend:
		return "PitchBend"
	case KindSysEx:
		return "SysEx"
	case KindMetaEvent:
		return "MetaEvent"
	case KindRealtime:
		return "Realtime"
	default:
		return "Unknown"
	}
}

// Status bytes for the channel voice messages, high nibble only; the
// low nibble carries the zero-based channel on the wire.
const (
	statusNoteOff         byte = 0x80
	statusNoteOn          byte = 0x90
	statusPolyAftertouch  byte = 0xA0
	statusControlChange   byte = 0xB0
	statusProgramChange   byte = 0xC0
	statusChannelPressure byte = 0xD0
	statusPitchBend       byte = 0xE0
	statusSysEx           byte = 0xF0
	statusSysExEnd        byte = 0xF7
	statusMeta            byte = 0xFF
)

// Message is the typed representation of a single MIDI event, carrying
// a monotonic-microsecond timestamp (spec §3).
type Message struct {
	Kind Kind

	// Channel is 1-based (1..16); zero for messages with no channel
	// (SysEx, MetaEvent, Realtime).
	Channel uint8

	// Data1/Data2 hold the message's data bytes (0..127) for channel
	// voice messages. Note/Controller/Program number goes in Data1;
	// velocity/value/pressure goes in Data2 where applicable.
	Data1 uint8
	Data2 uint8

	// Raw carries the payload for SysEx (the bytes between F0/F7,
	// exclusive) and MetaEvent (the bytes after the type byte).
	Raw []byte

	// MetaType holds the meta-event type byte when Kind == KindMetaEvent.
	MetaType byte

	// RealtimeStatus holds the status byte when Kind == KindRealtime
	// (0xF8 clock, 0xFA start, 0xFB continue, 0xFC stop, 0xFE active
	// sensing, 0xFF reset — note 0xFF is also the SMF meta prefix and
	// is disambiguated by context, never both at once in one Message).
	RealtimeStatus byte

	// TimestampUS is microseconds since the clock's monotonic origin.
	TimestampUS int64
}

// NoteOn builds a canonicalized NoteOn/NoteOff message: velocity 0 is
// rewritten to NoteOff per spec §3's invariant.
func NoteOn(channel, note, velocity uint8, tsUS int64) Message {
	if velocity == 0 {
		return NoteOff(channel, note, 0, tsUS)
	}
	return Message{Kind: KindNoteOn, Channel: channel, Data1: note, Data2: velocity, TimestampUS: tsUS}
}

// NoteOff builds a NoteOff message.
func NoteOff(channel, note, velocity uint8, tsUS int64) Message {
	return Message{Kind: KindNoteOff, Channel: channel, Data1: note, Data2: velocity, TimestampUS: tsUS}
}

// IsNote reports whether m is a NoteOn or NoteOff.
func (m Message) IsNote() bool { return m.Kind == KindNoteOn || m.Kind == KindNoteOff }

// statusByte returns the high-nibble status byte for channel voice
// kinds; panics for non-channel kinds since it is only called after a
// Kind switch has already excluded them.
func (k Kind) statusByte() byte {
	switch k {
	case KindNoteOff:
		return statusNoteOff
	case KindNoteOn:
		return statusNoteOn
	case KindPolyAftertouch:
		return statusPolyAftertouch
	case KindControlChange:
		return statusControlChange
	case KindProgramChange:
		return statusProgramChange
	case KindChannelPressure:
		return statusChannelPressure
	case KindPitchBend:
		return statusPitchBend
	default:
		panic(fmt.Sprintf("midimsg: %s has no channel-voice status byte", k))
	}
}

// dataLength returns how many data bytes follow the status byte for
// channel voice kinds (1 or 2).
func (k Kind) dataLength() int {
	switch k {
	case KindProgramChange, KindChannelPressure:
		return 1
	default:
		return 2
	}
}

// ChannelOutOfRange reports whether ch is outside MIDI's 1..16 range.
func ChannelOutOfRange(ch uint8) bool { return ch < 1 || ch > 16 }
