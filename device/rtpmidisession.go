package device

import (
	"encoding/binary"
	"time"
)

// Apple Network MIDI (RTP-MIDI) control-port command codes, spec §4.3.
const (
	sipSignature = 0xFFFF

	cmdInvitation        = "IN"
	cmdInvitationAccepted = "OK"
	cmdInvitationRejected = "NO"
	cmdEndSession         = "BY"
	cmdSyncCK             = "CK"
)

// synchronization payload, used for the CK0/CK1/CK2 clock handshake.
type ckMessage struct {
	SSRC  uint32
	Count uint8 // 0, 1, or 2
	TS1   uint64
	TS2   uint64
	TS3   uint64
}

func encodeCK(m ckMessage) []byte {
	buf := make([]byte, 36)
	binary.BigEndian.PutUint16(buf[0:2], sipSignature)
	copy(buf[2:4], cmdSyncCK)
	binary.BigEndian.PutUint32(buf[4:8], m.SSRC)
	buf[8] = m.Count
	binary.BigEndian.PutUint64(buf[12:20], m.TS1)
	binary.BigEndian.PutUint64(buf[20:28], m.TS2)
	binary.BigEndian.PutUint64(buf[28:36], m.TS3)
	return buf
}

func decodeCK(buf []byte) (ckMessage, bool) {
	if len(buf) < 36 || binary.BigEndian.Uint16(buf[0:2]) != sipSignature || string(buf[2:4]) != cmdSyncCK {
		return ckMessage{}, false
	}
	return ckMessage{
		SSRC:  binary.BigEndian.Uint32(buf[4:8]),
		Count: buf[8],
		TS1:   binary.BigEndian.Uint64(buf[12:20]),
		TS2:   binary.BigEndian.Uint64(buf[20:28]),
		TS3:   binary.BigEndian.Uint64(buf[28:36]),
	}, true
}

// sessionState is a peer session's handshake lifecycle.
type sessionState int

const (
	sessionIdle sessionState = iota
	sessionInviting
	sessionSyncing
	sessionEstablished
	sessionClosed
)

// RTPMIDISession tracks one peer: handshake state, sequence numbers,
// SSRC, and a simple recovery journal flag, per spec §4.3 ("maintains
// one RtpMidiSession per peer with sequence number, SSRC, journal for
// recovery").
type RTPMIDISession struct {
	PeerAddr       string
	LocalSSRC      uint32
	RemoteSSRC     uint32
	State          sessionState
	SendSeq        uint16
	lastRecvSeq    uint16
	haveRecvSeq    bool
	JournalSupport bool
	LostCount      int
	lastActivity   time.Time
}

// NewRTPMIDISession returns a session in the Idle state for peerAddr.
func NewRTPMIDISession(peerAddr string, localSSRC uint32) *RTPMIDISession {
	return &RTPMIDISession{PeerAddr: peerAddr, LocalSSRC: localSSRC, State: sessionIdle}
}

// BeginInvitation transitions Idle -> Inviting, used when midimind
// initiates a connection to a discovered peer.
func (s *RTPMIDISession) BeginInvitation() {
	s.State = sessionInviting
}

// AcceptInvitation completes an inbound invitation from remoteSSRC,
// transitioning Idle -> Syncing (the CK0/CK1/CK2 clock handshake runs
// next per spec §4.3).
func (s *RTPMIDISession) AcceptInvitation(remoteSSRC uint32) {
	s.RemoteSSRC = remoteSSRC
	s.State = sessionSyncing
}

// CompleteSync marks the CK handshake finished and the session ready
// to carry MIDI traffic.
func (s *RTPMIDISession) CompleteSync() {
	s.State = sessionEstablished
	s.lastActivity = time.Now()
}

// NextSendSequence returns the next outbound RTP sequence number,
// incrementing the session's counter.
func (s *RTPMIDISession) NextSendSequence() uint16 {
	s.SendSeq++
	return s.SendSeq
}

// ObserveRecvSequence records an inbound RTP sequence number and
// reports how many packets (if any) were lost since the previous one,
// per spec §4.3's "On packet loss (gap in sequence)..." handling.
// Returns lost=0 for the first observation or for in-order delivery.
func (s *RTPMIDISession) ObserveRecvSequence(seq uint16) (lost int) {
	defer func() { s.lastActivity = time.Now() }()
	if !s.haveRecvSeq {
		s.lastRecvSeq = seq
		s.haveRecvSeq = true
		return 0
	}
	expected := s.lastRecvSeq + 1
	gap := int(seq) - int(expected)
	if gap < 0 {
		gap += 0x10000
	}
	s.lastRecvSeq = seq
	if gap > 0 {
		s.LostCount += gap
	}
	return gap
}

// End transitions the session to Closed; idempotent.
func (s *RTPMIDISession) End() { s.State = sessionClosed }
