package midimsg

import (
	"encoding/binary"
	"fmt"

	"github.com/oddnote/midimind/midierr"
)

// Format identifies the SMF header format field (spec §3).
type Format uint16

const (
	Format0 Format = 0
	Format1 Format = 1
	Format2 Format = 2
)

// Header is the parsed MThd chunk.
type Header struct {
	Format Format
	Tracks uint16

	// TicksPerQuarter is set when the division field's top bit is 0.
	// When SMPTE division is used instead, SMPTEFormat/SMPTETicks are
	// set and TicksPerQuarter is 0.
	TicksPerQuarter uint16
	SMPTEFormat     int8
	SMPTETicks      uint8
}

// Event pairs a track-relative delta-tick with the decoded message.
type Event struct {
	DeltaTicks uint32
	Message    Message

	// AbsoluteTicks is the cached running index spec §3 requires each
	// track to maintain; populated by ReadSMF/computed by AppendEvent.
	AbsoluteTicks uint64
}

// Track is an ordered list of Events, always ending with an
// End-of-Track meta event per spec §3's invariant.
type Track struct {
	Events []Event
}

// AppendEvent appends e to t, deriving AbsoluteTicks from the prior
// event (or 0 for the first) plus e.DeltaTicks.
func (t *Track) AppendEvent(delta uint32, m Message) {
	var prevAbs uint64
	if n := len(t.Events); n > 0 {
		prevAbs = t.Events[n-1].AbsoluteTicks
	}
	t.Events = append(t.Events, Event{
		DeltaTicks:    delta,
		Message:       m,
		AbsoluteTicks: prevAbs + uint64(delta),
	})
}

// EndsWithEndOfTrack reports whether t's last event is the mandatory
// End-of-Track meta event (meta type 0x2F).
func (t *Track) EndsWithEndOfTrack() bool {
	if len(t.Events) == 0 {
		return false
	}
	last := t.Events[len(t.Events)-1].Message
	return last.Kind == KindMetaEvent && last.MetaType == metaEndOfTrack
}

// TempoPoint is one entry in a track's tempo map (spec §3).
type TempoPoint struct {
	Tick             uint64
	MicrosPerQuarter uint32
}

// File is the full parsed SMF document.
type File struct {
	Header Header
	Tracks []Track
}

// TempoMap walks every track's meta events (conventionally tempo lives
// in track 0, but format-2 files may carry tempo per track) and
// returns the merged, tick-ordered tempo map. A file with no tempo
// meta events gets an implicit 120 BPM (500000 us/quarter) at tick 0.
func (f *File) TempoMap() []TempoPoint {
	var points []TempoPoint
	for _, tr := range f.Tracks {
		for _, ev := range tr.Events {
			if ev.Message.Kind == KindMetaEvent && ev.Message.MetaType == metaSetTempo && len(ev.Message.Raw) == 3 {
				micros := uint32(ev.Message.Raw[0])<<16 | uint32(ev.Message.Raw[1])<<8 | uint32(ev.Message.Raw[2])
				points = append(points, TempoPoint{Tick: ev.AbsoluteTicks, MicrosPerQuarter: micros})
			}
		}
	}
	if len(points) == 0 {
		return []TempoPoint{{Tick: 0, MicrosPerQuarter: 500000}}
	}
	sortTempoPoints(points)
	if points[0].Tick != 0 {
		points = append([]TempoPoint{{Tick: 0, MicrosPerQuarter: 500000}}, points...)
	}
	return points
}

func sortTempoPoints(p []TempoPoint) {
	for i := 1; i < len(p); i++ {
		for j := i; j > 0 && p[j-1].Tick > p[j].Tick; j-- {
			p[j-1], p[j] = p[j], p[j-1]
		}
	}
}

const (
	metaEndOfTrack byte = 0x2F
	metaSetTempo   byte = 0x51
)

var (
	mThd = [4]byte{'M', 'T', 'h', 'd'}
	mTrk = [4]byte{'M', 'T', 'r', 'k'}
)

// ReadSMF parses a complete Standard MIDI File from buf.
func ReadSMF(buf []byte) (*File, error) {
	const op = "midimsg.ReadSMF"
	r := &reader{buf: buf}

	var magic [4]byte
	if !r.read(magic[:]) {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	if magic != mThd {
		return nil, midierr.New(op, midierr.KindBadMagic)
	}
	hdrLen, ok := r.readU32()
	if !ok || hdrLen < 6 {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	hdrStart := r.pos
	format, ok := r.readU16()
	if !ok {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	numTracks, ok := r.readU16()
	if !ok {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	division, ok := r.readU16()
	if !ok {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	r.pos = hdrStart + int(hdrLen)

	if format > 2 {
		return nil, midierr.New(op, midierr.KindUnsupportedFormat)
	}

	hdr := Header{Format: Format(format), Tracks: numTracks}
	if division&0x8000 != 0 {
		hdr.SMPTEFormat = int8(int16(division) >> 8)
		hdr.SMPTETicks = uint8(division & 0xFF)
	} else {
		hdr.TicksPerQuarter = division & 0x7FFF
	}

	f := &File{Header: hdr}
	for i := 0; i < int(numTracks); i++ {
		tr, err := readTrack(r)
		if err != nil {
			return nil, err
		}
		f.Tracks = append(f.Tracks, tr)
	}
	return f, nil
}

func readTrack(r *reader) (Track, error) {
	const op = "midimsg.ReadSMF"
	var magic [4]byte
	if !r.read(magic[:]) {
		return Track{}, midierr.New(op, midierr.KindTruncated)
	}
	if magic != mTrk {
		return Track{}, midierr.New(op, midierr.KindBadMagic)
	}
	length, ok := r.readU32()
	if !ok {
		return Track{}, midierr.New(op, midierr.KindTruncated)
	}
	end := r.pos + int(length)
	if end > len(r.buf) {
		return Track{}, midierr.New(op, midierr.KindTruncated)
	}

	var tr Track
	var runningStatus byte
	var absTicks uint64
	for r.pos < end {
		delta, ok := r.readVLQ()
		if !ok {
			return Track{}, midierr.New(op, midierr.KindTruncated)
		}
		absTicks += uint64(delta)

		if r.pos >= end {
			return Track{}, midierr.New(op, midierr.KindTruncated)
		}
		peek := r.buf[r.pos]

		var msg Message
		var err error
		switch {
		case peek == statusMeta:
			r.pos++
			msg, err = readMetaEvent(r)
		case peek == statusSysEx || peek == statusSysExEnd:
			r.pos++
			msg, err = readSysExEvent(r, peek)
		default:
			msg, runningStatus, err = readChannelEvent(r, runningStatus)
		}
		if err != nil {
			return Track{}, err
		}
		tr.Events = append(tr.Events, Event{DeltaTicks: delta, Message: msg, AbsoluteTicks: absTicks})
	}
	if !tr.EndsWithEndOfTrack() {
		return Track{}, fmt.Errorf("%s: track missing End-of-Track", op)
	}
	return tr, nil
}

func readMetaEvent(r *reader) (Message, error) {
	const op = "midimsg.ReadSMF"
	if r.pos >= len(r.buf) {
		return Message{}, midierr.New(op, midierr.KindTruncated)
	}
	metaType := r.buf[r.pos]
	r.pos++
	length, ok := r.readVLQ()
	if !ok {
		return Message{}, midierr.New(op, midierr.KindTruncated)
	}
	if r.pos+int(length) > len(r.buf) {
		return Message{}, midierr.New(op, midierr.KindTruncated)
	}
	raw := append([]byte(nil), r.buf[r.pos:r.pos+int(length)]...)
	r.pos += int(length)
	// Unknown meta events are non-fatal: preserved as opaque bytes
	// per spec §4.1.
	return Message{Kind: KindMetaEvent, MetaType: metaType, Raw: raw}, nil
}

func readSysExEvent(r *reader, marker byte) (Message, error) {
	const op = "midimsg.ReadSMF"
	length, ok := r.readVLQ()
	if !ok {
		return Message{}, midierr.New(op, midierr.KindTruncated)
	}
	if r.pos+int(length) > len(r.buf) {
		return Message{}, midierr.New(op, midierr.KindTruncated)
	}
	raw := append([]byte(nil), r.buf[r.pos:r.pos+int(length)]...)
	r.pos += int(length)
	// Trim a trailing F7 terminator if the writer included one in the
	// length-prefixed payload (common for continuation packets); the
	// in-memory model never stores the terminator itself.
	if n := len(raw); n > 0 && raw[n-1] == statusSysExEnd {
		raw = raw[:n-1]
	}
	_ = marker
	return Message{Kind: KindSysEx, Raw: raw}, nil
}

func readChannelEvent(r *reader, runningStatus byte) (Message, byte, error) {
	const op = "midimsg.ReadSMF"
	if r.pos >= len(r.buf) {
		return Message{}, runningStatus, midierr.New(op, midierr.KindTruncated)
	}
	status := runningStatus
	if r.buf[r.pos] >= 0x80 {
		status = r.buf[r.pos]
		r.pos++
	}
	if status < 0x80 {
		return Message{}, runningStatus, midierr.New(op, midierr.KindTruncated)
	}
	kind, channel := classify(status)
	need := kind.dataLength()
	if r.pos+need > len(r.buf) {
		return Message{}, runningStatus, midierr.New(op, midierr.KindTruncated)
	}
	var d1, d2 uint8
	d1 = r.buf[r.pos]
	if need == 2 {
		d2 = r.buf[r.pos+1]
	}
	r.pos += need

	m := Message{Kind: kind, Channel: channel, Data1: d1, Data2: d2}
	if m.Kind == KindNoteOn && m.Data2 == 0 {
		m.Kind = KindNoteOff
	}
	return m, status, nil
}

// WriteSMF serializes f to canonical SMF bytes: no running status, and
// every SysEx written as F0, a VLQ length, the data and a trailing F7
// (counted in the length), per spec §4.1.
func WriteSMF(f *File) ([]byte, error) {
	var out []byte
	out = append(out, mThd[:]...)
	out = append(out, u32(6)...)
	out = append(out, u16(uint16(f.Header.Format))...)
	out = append(out, u16(uint16(len(f.Tracks)))...)

	var division uint16
	if f.Header.TicksPerQuarter != 0 || f.Header.SMPTEFormat == 0 {
		division = f.Header.TicksPerQuarter & 0x7FFF
	} else {
		division = uint16(uint8(f.Header.SMPTEFormat))<<8 | uint16(f.Header.SMPTETicks)
		division |= 0x8000
	}
	out = append(out, u16(division)...)

	for _, tr := range f.Tracks {
		body, err := writeTrackBody(tr)
		if err != nil {
			return nil, err
		}
		out = append(out, mTrk[:]...)
		out = append(out, u32(uint32(len(body)))...)
		out = append(out, body...)
	}
	return out, nil
}

func writeTrackBody(tr Track) ([]byte, error) {
	var body []byte
	for _, ev := range tr.Events {
		body = append(body, encodeVLQ(ev.DeltaTicks)...)
		switch ev.Message.Kind {
		case KindMetaEvent:
			body = append(body, statusMeta, ev.Message.MetaType)
			body = append(body, encodeVLQ(uint32(len(ev.Message.Raw)))...)
			body = append(body, ev.Message.Raw...)
		case KindSysEx:
			body = append(body, statusSysEx)
			body = append(body, encodeVLQ(uint32(len(ev.Message.Raw)+1))...)
			body = append(body, ev.Message.Raw...)
			body = append(body, statusSysExEnd)
		default:
			encoded, err := Encode(ev.Message)
			if err != nil {
				return nil, err
			}
			body = append(body, encoded...)
		}
	}
	return body, nil
}

// --- little reader helpers ---

type reader struct {
	buf []byte
	pos int
}

func (r *reader) read(dst []byte) bool {
	if r.pos+len(dst) > len(r.buf) {
		return false
	}
	copy(dst, r.buf[r.pos:])
	r.pos += len(dst)
	return true
}

func (r *reader) readU16() (uint16, bool) {
	if r.pos+2 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, true
}

func (r *reader) readU32() (uint32, bool) {
	if r.pos+4 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, true
}

// readVLQ decodes a variable-length quantity per the SMF spec: 7 bits
// per byte, MSB set on all but the last byte.
func (r *reader) readVLQ() (uint32, bool) {
	var v uint32
	for i := 0; i < 5; i++ {
		if r.pos >= len(r.buf) {
			return 0, false
		}
		b := r.buf[r.pos]
		r.pos++
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, true
		}
	}
	return 0, false
}

func encodeVLQ(v uint32) []byte {
	if v == 0 {
		return []byte{0}
	}
	var stack []byte
	for v > 0 {
		stack = append(stack, byte(v&0x7F))
		v >>= 7
	}
	out := make([]byte, len(stack))
	for i := range stack {
		b := stack[len(stack)-1-i]
		if i != len(stack)-1 {
			b |= 0x80
		}
		out[i] = b
	}
	return out
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
