// Package jsonmidi converts between midimsg.File and a flat, timeline-
// based JSON document — a text-editable stand-in for binary SMF
// grounded on the original implementation's JsonMidiConverter (its own
// source was never recovered, but its test suite survives and pins
// down the intended shape: a "jsonmidi-v1.0" format tag, a non-empty
// timeline, and a multi-track round trip).
package jsonmidi

import (
	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
)

// FormatTag is the document's format field, the same literal the
// original converter's tests checked for.
const FormatTag = "jsonmidi-v1.0"

// parseKind is the inverse of midimsg.Kind.String, letting a Document
// round-trip through JSON without midimsg exposing its own parser.
func parseKind(s string) (midimsg.Kind, error) {
	switch s {
	case "NoteOn":
		return midimsg.KindNoteOn, nil
	case "NoteOff":
		return midimsg.KindNoteOff, nil
	case "PolyAftertouch":
		return midimsg.KindPolyAftertouch, nil
	case "ControlChange":
		return midimsg.KindControlChange, nil
	case "ProgramChange":
		return midimsg.KindProgramChange, nil
	case "ChannelPressure":
		return midimsg.KindChannelPressure, nil
	case "PitchBend":
		return midimsg.KindPitchBend, nil
	case "SysEx":
		return midimsg.KindSysEx, nil
	case "MetaEvent":
		return midimsg.KindMetaEvent, nil
	case "Realtime":
		return midimsg.KindRealtime, nil
	default:
		return 0, midierr.New("jsonmidi.parseKind", midierr.KindUnsupportedFormat)
	}
}

// Entry is one timeline event: a track-relative absolute tick paired
// with the message it carries, flattened out of midimsg.Track's
// per-track event lists into one document-wide, track-tagged list.
type Entry struct {
	Track         int    `json:"track"`
	AbsoluteTicks uint64 `json:"absolute_ticks"`
	DeltaTicks    uint32 `json:"delta_ticks"`

	Kind     string `json:"kind"`
	Channel  uint8  `json:"channel,omitempty"`
	Data1    uint8  `json:"data1,omitempty"`
	Data2    uint8  `json:"data2,omitempty"`
	MetaType byte   `json:"meta_type,omitempty"`
	Raw      []byte `json:"raw,omitempty"`
}

// Document is the JSON form of a midimsg.File.
type Document struct {
	Format          string  `json:"format"`
	FormatNum       uint16  `json:"format_num"`
	TicksPerQuarter uint16  `json:"ticks_per_quarter,omitempty"`
	SMPTEFormat     int8    `json:"smpte_format,omitempty"`
	SMPTETicks      uint8   `json:"smpte_ticks,omitempty"`
	TrackCount      int     `json:"track_count"`
	Timeline        []Entry `json:"timeline"`
}

// FromMidiFile flattens f's tracks into one Document whose Timeline
// preserves each event's track index and both its delta and absolute
// tick, enough to reconstruct f exactly via ToMidiFile.
func FromMidiFile(f *midimsg.File) Document {
	doc := Document{
		Format:          FormatTag,
		FormatNum:       uint16(f.Header.Format),
		TicksPerQuarter: f.Header.TicksPerQuarter,
		SMPTEFormat:     f.Header.SMPTEFormat,
		SMPTETicks:      f.Header.SMPTETicks,
		TrackCount:      len(f.Tracks),
	}
	for ti, tr := range f.Tracks {
		for _, ev := range tr.Events {
			doc.Timeline = append(doc.Timeline, Entry{
				Track:         ti,
				AbsoluteTicks: ev.AbsoluteTicks,
				DeltaTicks:    ev.DeltaTicks,
				Kind:          ev.Message.Kind.String(),
				Channel:       ev.Message.Channel,
				Data1:         ev.Message.Data1,
				Data2:         ev.Message.Data2,
				MetaType:      ev.Message.MetaType,
				Raw:           ev.Message.Raw,
			})
		}
	}
	return doc
}

// ToMidiFile reconstructs a midimsg.File from d, re-deriving each
// track's event list from the timeline entries tagged with that track
// index, in the order they appear.
func (d Document) ToMidiFile() (*midimsg.File, error) {
	const op = "jsonmidi.Document.ToMidiFile"
	if d.Format != FormatTag {
		return nil, midierr.New(op, midierr.KindUnsupportedFormat)
	}

	f := &midimsg.File{
		Header: midimsg.Header{
			Format:          midimsg.Format(d.FormatNum),
			Tracks:          uint16(d.TrackCount),
			TicksPerQuarter: d.TicksPerQuarter,
			SMPTEFormat:     d.SMPTEFormat,
			SMPTETicks:      d.SMPTETicks,
		},
		Tracks: make([]midimsg.Track, d.TrackCount),
	}
	for _, e := range d.Timeline {
		if e.Track < 0 || e.Track >= d.TrackCount {
			return nil, midierr.New(op, midierr.KindMalformedPayload)
		}
		kind, err := parseKind(e.Kind)
		if err != nil {
			return nil, err
		}
		f.Tracks[e.Track].AppendEvent(e.DeltaTicks, midimsg.Message{
			Kind:     kind,
			Channel:  e.Channel,
			Data1:    e.Data1,
			Data2:    e.Data2,
			MetaType: e.MetaType,
			Raw:      e.Raw,
		})
	}
	return f, nil
}
