// Package sysex implements the custom SysEx parser/builder: universal
// and vendor-specific frame decode, 7-bit payload validation, and the
// chunked reassembly protocol for payloads larger than one frame
// (spec §4.2).
package sysex

import (
	"github.com/oddnote/midimind/midierr"
)

// Universal SysEx IDs (MMA-assigned), spec §4.2.
const (
	ManufacturerNonRealTime byte = 0x7E
	ManufacturerRealTime    byte = 0x7F
)

// Manufacturer identifies a SysEx frame's originator: either a single
// byte (1..0x7D) or an extended 3-byte ID with a 0x00 prefix.
type Manufacturer struct {
	ID       [3]byte
	Extended bool
}

// Bytes returns the manufacturer ID exactly as it appears on the wire.
func (m Manufacturer) Bytes() []byte {
	if m.Extended {
		return []byte{0x00, m.ID[1], m.ID[2]}
	}
	return []byte{m.ID[0]}
}

func (m Manufacturer) key() [3]byte { return m.ID }

// ManufacturerTable maps known manufacturer IDs to human names, used
// for diagnostics/logging only — unknown manufacturers still parse.
type ManufacturerTable struct {
	names map[[3]byte]string
}

// NewManufacturerTable returns an empty table.
func NewManufacturerTable() *ManufacturerTable {
	return &ManufacturerTable{names: make(map[[3]byte]string)}
}

// Register associates a human-readable name with a manufacturer ID.
func (t *ManufacturerTable) Register(m Manufacturer, name string) {
	t.names[m.key()] = name
}

// Lookup returns the registered name, or "" if unknown.
func (t *ManufacturerTable) Lookup(m Manufacturer) string {
	return t.names[m.key()]
}

// Frame is one fully decoded single-chunk SysEx message: F0
// <manufacturer> <payload> F7, with the framing bytes and the
// manufacturer ID stripped off.
type Frame struct {
	Manufacturer Manufacturer
	Payload      []byte
}

const (
	f0 byte = 0xF0
	f7 byte = 0xF7
)

// Parse decodes a single complete SysEx frame (including the leading
// F0 and trailing F7) into a Frame. It validates 7-bit cleanliness of
// the payload per spec §4.2 and §8's boundary case ("any 0x80..0xFE
// inside payload" is rejected).
func Parse(b []byte) (Frame, error) {
	const op = "sysex.Parse"
	if len(b) < 3 || b[0] != f0 || b[len(b)-1] != f7 {
		return Frame{}, midierr.New(op, midierr.KindMalformedPayload)
	}
	body := b[1 : len(b)-1]

	var mfr Manufacturer
	var rest []byte
	if len(body) >= 1 && body[0] == 0x00 {
		if len(body) < 3 {
			return Frame{}, midierr.New(op, midierr.KindMalformedPayload)
		}
		mfr = Manufacturer{ID: [3]byte{0x00, body[1], body[2]}, Extended: true}
		rest = body[3:]
	} else {
		if len(body) < 1 {
			return Frame{}, midierr.New(op, midierr.KindMalformedPayload)
		}
		mfr = Manufacturer{ID: [3]byte{body[0], 0, 0}}
		rest = body[1:]
	}

	for _, by := range rest {
		if by >= 0x80 {
			return Frame{}, midierr.New(op, midierr.KindMalformedPayload)
		}
	}

	payload := append([]byte(nil), rest...)
	return Frame{Manufacturer: mfr, Payload: payload}, nil
}

// Build serializes f back to canonical wire bytes: F0, manufacturer
// ID, payload, F7. Calling Build(Parse(b)) for a canonical
// single-chunk b reproduces b exactly, satisfying spec §8's round-trip
// invariant for single-chunk frames.
func Build(f Frame) ([]byte, error) {
	const op = "sysex.Build"
	for _, by := range f.Payload {
		if by >= 0x80 {
			return nil, midierr.New(op, midierr.KindMalformedPayload)
		}
	}
	out := make([]byte, 0, len(f.Payload)+5)
	out = append(out, f0)
	out = append(out, f.Manufacturer.Bytes()...)
	out = append(out, f.Payload...)
	out = append(out, f7)
	return out, nil
}

// IsUniversal reports whether m is one of the two Universal System
// Exclusive IDs (spec §4.2: "Decodes both Universal ... and
// vendor-specific frames").
func (m Manufacturer) IsUniversal() bool {
	return !m.Extended && (m.ID[0] == ManufacturerNonRealTime || m.ID[0] == ManufacturerRealTime)
}

// UniversalHeader decodes the device-ID and sub-ID(s) that follow the
// manufacturer byte in a Universal SysEx payload: device ID, sub-ID 1,
// sub-ID 2. Returns ok=false if the payload is too short.
type UniversalHeader struct {
	DeviceID byte
	SubID1   byte
	SubID2   byte
}

func ParseUniversalHeader(payload []byte) (UniversalHeader, bool) {
	if len(payload) < 3 {
		return UniversalHeader{}, false
	}
	return UniversalHeader{DeviceID: payload[0], SubID1: payload[1], SubID2: payload[2]}, true
}

// ReceivedEvent is published on eventbus.TopicSysExReceived once a
// (possibly chunked) frame from a device has fully reassembled (spec
// §6's "sysex.received(device_id, frame_bytes)").
type ReceivedEvent struct {
	DeviceID     string       `json:"device_id"`
	Manufacturer Manufacturer `json:"manufacturer"`
	FrameBytes   []byte       `json:"frame_bytes"`
}
