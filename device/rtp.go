package device

import (
	"encoding/binary"

	"github.com/oddnote/midimind/midierr"
)

// RTP-MIDI wire constants (RFC 6295), grounded on the pack's
// somesmallstudio-go-midi-rtp/rtp package header layout.
const (
	rtpVersion2      = 0x80
	rtpPayloadTypeCC = 0x61
	rtpHeaderLen     = 12
)

// rtpHeader is the fixed 12-byte RTP header preceding the MIDI command
// section (RFC 3550 plus the RTP-MIDI payload type).
type rtpHeader struct {
	Marker         bool
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

func encodeRTPHeader(h rtpHeader) []byte {
	buf := make([]byte, rtpHeaderLen)
	buf[0] = rtpVersion2
	buf[1] = rtpPayloadTypeCC
	if h.Marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return buf
}

func decodeRTPHeader(buf []byte) (rtpHeader, error) {
	if len(buf) < rtpHeaderLen {
		return rtpHeader{}, midierr.New("device.decodeRTPHeader", midierr.KindTruncated)
	}
	if buf[0]&0xC0 != rtpVersion2 {
		return rtpHeader{}, midierr.New("device.decodeRTPHeader", midierr.KindBadMagic)
	}
	if buf[1]&0x7F != rtpPayloadTypeCC {
		return rtpHeader{}, midierr.New("device.decodeRTPHeader", midierr.KindUnsupportedFormat)
	}
	return rtpHeader{
		Marker:         buf[1]&0x80 != 0,
		SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
		SSRC:           binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// encodeCommandSection writes the MIDI command list section (no
// recovery journal — journal replay is requested separately when the
// peer advertises support, spec §4.3) for a single message with no
// preceding delta time.
func encodeCommandSection(payload []byte) []byte {
	if len(payload) <= 0x0F {
		return append([]byte{byte(len(payload))}, payload...)
	}
	header := []byte{0x80 | byte(len(payload)>>8&0x0F), byte(len(payload))}
	return append(header, payload...)
}

func decodeCommandSection(buf []byte) ([]byte, error) {
	const op = "device.decodeCommandSection"
	if len(buf) < 1 {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	var length int
	var start int
	if buf[0]&0x80 != 0 {
		if len(buf) < 2 {
			return nil, midierr.New(op, midierr.KindTruncated)
		}
		length = int(buf[0]&0x0F)<<8 | int(buf[1])
		start = 2
	} else {
		length = int(buf[0] & 0x0F)
		start = 1
	}
	if start+length > len(buf) {
		return nil, midierr.New(op, midierr.KindTruncated)
	}
	return buf[start : start+length], nil
}
