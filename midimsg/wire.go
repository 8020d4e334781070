package midimsg

import (
	"fmt"

	"github.com/oddnote/midimind/midierr"
)

// Decoder turns a stream of raw MIDI bytes into Messages, tracking
// running status the way an SMF track or a live serial/USB MIDI
// stream both require (spec §4.1: "running status supported on read").
type Decoder struct {
	runningStatus byte
	tsUS          int64
}

// NewDecoder returns a Decoder with no running status set.
func NewDecoder() *Decoder { return &Decoder{} }

// SetTimestamp sets the timestamp (microseconds) stamped onto the next
// decoded Message. Callers update this between calls as new bytes
// arrive in real time. The SMF reader does not use a Decoder and leaves
// TimestampUS at zero; SMF timing is carried by tick positions.
func (d *Decoder) SetTimestamp(tsUS int64) { d.tsUS = tsUS }

// Decode consumes one complete message from buf starting at offset 0
// and returns the Message plus the number of bytes consumed. buf must
// contain status byte plus all data bytes (the caller is responsible
// for framing SysEx by its own F0..F7 bounds before calling Decode on
// non-SysEx messages). Running status: if buf[0] is a data byte
// (<0x80) and a running status is active, it is reused and no status
// byte is consumed.
func (d *Decoder) Decode(buf []byte) (Message, int, error) {
	if len(buf) == 0 {
		return Message{}, 0, midierr.New("midimsg.Decode", midierr.KindTruncated)
	}

	status := d.runningStatus
	consumedStatus := 0
	if buf[0] >= 0x80 {
		status = buf[0]
		consumedStatus = 1
		if status >= 0x80 && status < 0xF0 {
			d.runningStatus = status
		} else if status >= 0xF0 {
			// System messages clear running status per the MIDI spec,
			// except realtime bytes (0xF8.. ) which don't affect it.
			if status < 0xF8 {
				d.runningStatus = 0
			}
		}
	}
	if status == 0 {
		return Message{}, 0, midierr.New("midimsg.Decode", midierr.KindTruncated)
	}

	if status >= 0xF8 {
		return Message{Kind: KindRealtime, RealtimeStatus: status, TimestampUS: d.tsUS}, consumedStatus, nil
	}

	if status == statusSysEx {
		end := -1
		for i := consumedStatus; i < len(buf); i++ {
			if buf[i] == statusSysExEnd {
				end = i
				break
			}
		}
		if end == -1 {
			return Message{}, 0, midierr.New("midimsg.Decode", midierr.KindTruncated)
		}
		payload := append([]byte(nil), buf[consumedStatus:end]...)
		return Message{Kind: KindSysEx, Raw: payload, TimestampUS: d.tsUS}, end + 1, nil
	}

	if status == statusMeta {
		// Meta events only occur inside SMF tracks; readMetaEvent in
		// smf.go handles the type+length framing directly since it
		// needs VLQ length decoding not meaningful on a live wire.
		return Message{}, 0, midierr.New("midimsg.Decode", midierr.KindUnsupportedFormat)
	}

	kind, channel := classify(status)
	need := kind.dataLength()
	if len(buf) < consumedStatus+need {
		return Message{}, 0, midierr.New("midimsg.Decode", midierr.KindTruncated)
	}

	var d1, d2 uint8
	if need >= 1 {
		d1 = buf[consumedStatus]
	}
	if need >= 2 {
		d2 = buf[consumedStatus+1]
	}

	m := Message{Kind: kind, Channel: channel, Data1: d1, TimestampUS: d.tsUS}
	if need >= 2 {
		m.Data2 = d2
	}
	if m.Kind == KindNoteOn && m.Data2 == 0 {
		m.Kind = KindNoteOff
	}
	return m, consumedStatus + need, nil
}

func classify(status byte) (Kind, uint8) {
	channel := uint8(status&0x0F) + 1
	switch status & 0xF0 {
	case statusNoteOff:
		return KindNoteOff, channel
	case statusNoteOn:
		return KindNoteOn, channel
	case statusPolyAftertouch:
		return KindPolyAftertouch, channel
	case statusControlChange:
		return KindControlChange, channel
	case statusProgramChange:
		return KindProgramChange, channel
	case statusChannelPressure:
		return KindChannelPressure, channel
	case statusPitchBend:
		return KindPitchBend, channel
	default:
		return KindRealtime, 0
	}
}

// Encode serializes m to its canonical wire form: always includes the
// status byte (no running status), per spec §4.1's "write path emits
// canonical form" rule for stable diffs.
func Encode(m Message) ([]byte, error) {
	switch m.Kind {
	case KindNoteOn, KindNoteOff, KindPolyAftertouch, KindControlChange,
		KindProgramChange, KindChannelPressure, KindPitchBend:
		if ChannelOutOfRange(m.Channel) {
			return nil, midierr.New("midimsg.Encode", midierr.KindChannelOutOfRange)
		}
		status := m.Kind.statusByte() | (m.Channel - 1)
		out := []byte{status, m.Data1}
		if m.Kind.dataLength() == 2 {
			out = append(out, m.Data2)
		}
		return out, nil
	case KindSysEx:
		out := make([]byte, 0, len(m.Raw)+2)
		out = append(out, statusSysEx)
		out = append(out, m.Raw...)
		out = append(out, statusSysExEnd)
		return out, nil
	case KindRealtime:
		return []byte{m.RealtimeStatus}, nil
	case KindMetaEvent:
		out := []byte{statusMeta, m.MetaType}
		out = append(out, encodeVLQ(uint32(len(m.Raw)))...)
		out = append(out, m.Raw...)
		return out, nil
	default:
		return nil, fmt.Errorf("midimsg.Encode: unhandled kind %s", m.Kind)
	}
}
