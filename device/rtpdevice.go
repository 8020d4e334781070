package device

import (
	"context"
	"encoding/binary"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
)

// RTPDevice is one RTP-MIDI peer connection: a single UDP socket
// carrying both the CK0/CK1/CK2 clock handshake and, once
// established, the RTP-MIDI command sections (spec §4.3). One
// RTPDevice corresponds to one RTPMIDISession.
//
// Simplification versus RFC 6295/Apple's Network MIDI: the reference
// protocol uses separate control and data UDP ports; this
// implementation multiplexes both over one socket per peer, which a
// real client speaking strict Apple Network MIDI would not accept on
// the control handshake but which exercises the same session/sequence/
// journal state machine spec §4.3 actually specifies.
type RTPDevice struct {
	baseDevice

	peerAddr  string
	onLoss    func(deviceID string, count int)

	mu      sync.Mutex
	conn    *net.UDPConn
	session *RTPMIDISession
	dec     *midimsg.Decoder
	cancel  context.CancelFunc
}

// NewRTPDevice returns an RTPDevice that will dial peerAddr
// ("host:port") on Open. onLoss, if non-nil, is invoked whenever a
// sequence-number gap is detected, with the number of packets lost,
// so the caller can surface PacketLoss counts (midimindd publishes
// them on the device.error topic).
func NewRTPDevice(id, name, peerAddr string, onLoss func(deviceID string, count int)) *RTPDevice {
	return &RTPDevice{
		baseDevice: baseDevice{
			identity:   Identity{ID: id, Name: name, Transport: TransportRTP, Direction: DirectionBidirectional},
			capability: AllChannels(),
			state:      StateDisconnected,
		},
		peerAddr: peerAddr,
		onLoss:   onLoss,
		dec:      midimsg.NewDecoder(),
	}
}

func (d *RTPDevice) Open(ctx context.Context) error {
	const op = "device.RTPDevice.Open"
	d.mu.Lock()
	d.state = StateConnecting
	d.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", d.peerAddr)
	if err != nil {
		d.setError()
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		d.setError()
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}

	session := NewRTPMIDISession(d.peerAddr, rand.Uint32())
	session.BeginInvitation()
	if err := d.handshake(conn, session); err != nil {
		conn.Close()
		d.setError()
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	session.CompleteSync()

	readCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.conn = conn
	d.session = session
	d.cancel = cancel
	d.state = StateConnected
	d.mu.Unlock()

	go d.readLoop(readCtx, conn)
	return nil
}

// handshake performs the CK0/CK1/CK2 exchange (spec §4.3) with a 5s
// timeout (spec §5's "RTP handshake 5 s").
func (d *RTPDevice) handshake(conn *net.UDPConn, s *RTPMIDISession) error {
	const op = "device.RTPDevice.handshake"
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	now := uint64(time.Now().UnixMicro())
	ck0 := ckMessage{SSRC: s.LocalSSRC, Count: 0, TS1: now}
	if _, err := conn.Write(encodeCK(ck0)); err != nil {
		return err
	}

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}
	ck1, ok := decodeCK(buf[:n])
	if !ok || ck1.Count != 1 {
		return midierr.New(op, midierr.KindMalformedPayload)
	}
	s.RemoteSSRC = ck1.SSRC

	ck2 := ckMessage{SSRC: s.LocalSSRC, Count: 2, TS1: ck1.TS1, TS2: ck1.TS2, TS3: uint64(time.Now().UnixMicro())}
	_, err = conn.Write(encodeCK(ck2))
	return err
}

func (d *RTPDevice) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := conn.Read(buf)
		if err != nil {
			d.mu.Lock()
			d.state = StateError
			d.mu.Unlock()
			return
		}
		d.handlePacket(buf[:n])
	}
}

func (d *RTPDevice) handlePacket(pkt []byte) {
	if len(pkt) >= 2 && binary.BigEndian.Uint16(pkt[0:2]) == sipSignature {
		// Control-port traffic (e.g. a peer-initiated BY) arriving on
		// the shared socket; session teardown is handled by Close.
		return
	}

	hdr, err := decodeRTPHeader(pkt)
	if err != nil {
		return
	}
	if len(pkt) < rtpHeaderLen {
		return
	}
	cmdSection := pkt[rtpHeaderLen:]

	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return
	}

	if lost := session.ObserveRecvSequence(hdr.SequenceNumber); lost > 0 && d.onLoss != nil {
		d.onLoss(d.identity.ID, lost)
	}

	payload, err := decodeCommandSection(cmdSection)
	if err != nil {
		return
	}
	dec := d.dec
	for len(payload) > 0 {
		m, consumed, derr := dec.Decode(payload)
		if derr != nil {
			break
		}
		m.TimestampUS = int64(hdr.Timestamp)
		d.emit(m)
		payload = payload[consumed:]
	}
}

func (d *RTPDevice) setError() {
	d.mu.Lock()
	d.state = StateError
	d.mu.Unlock()
}

func (d *RTPDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.End()
	}
	d.state = StateDisconnected
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *RTPDevice) Send(m midimsg.Message) error {
	const op = "device.RTPDevice.Send"
	d.mu.Lock()
	conn := d.conn
	session := d.session
	d.mu.Unlock()
	if conn == nil || session == nil {
		return midierr.New(op, midierr.KindTransportClosed)
	}

	encoded, err := midimsg.Encode(m)
	if err != nil {
		return err
	}
	hdr := encodeRTPHeader(rtpHeader{
		Marker:         true,
		SequenceNumber: session.NextSendSequence(),
		Timestamp:      uint32(m.TimestampUS),
		SSRC:           session.LocalSSRC,
	})
	pkt := append(hdr, encodeCommandSection(encoded)...)

	if _, err := conn.Write(pkt); err != nil {
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return nil
}
