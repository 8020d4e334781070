package device

import (
	"context"
	"io"
	"sync"

	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
)

// BLELink is the narrow GATT-characteristic interface a BLE MIDI
// transport needs; the OS-level Bluetooth stack that implements it is
// out of core scope per spec §1 ("OS-level ... Bluetooth ... management"
// is an external collaborator). Read returns one BLE MIDI packet per
// call (a GATT notification payload); Write sends one packet.
type BLELink interface {
	io.ReadWriteCloser
}

// bleTimestampRolloverWindowMS is the window (spec §4.3) used to detect
// a 13-bit BLE MIDI timestamp wrapping around.
const bleTimestampRolloverWindowMS = 8192

// BLEDevice decodes the Apple BLE MIDI packet format: a header byte
// carrying the high 6 bits of a 13-bit millisecond timestamp, followed
// by one or more (timestampLow, MIDI bytes) groups, reconstructing
// absolute microsecond timestamps against the local clock with
// rollover detection (spec §4.3).
type BLEDevice struct {
	baseDevice

	mu       sync.Mutex
	link     BLELink
	cancel   context.CancelFunc
	dec      *midimsg.Decoder
	lastMS   uint16 // last reconstructed 13-bit timestamp seen
	baseUS   int64  // microsecond offset corresponding to lastMS's epoch
	haveBase bool

	nowUS func() int64 // injected clock, as passed to NewBLEDevice
}

// NewBLEDevice returns a BLEDevice that reads/writes packets over
// link. nowUS supplies the local monotonic clock in microseconds.
func NewBLEDevice(id, name string, link BLELink, nowUS func() int64) *BLEDevice {
	return &BLEDevice{
		baseDevice: baseDevice{
			identity:   Identity{ID: id, Name: name, Transport: TransportBLE, Direction: DirectionBidirectional},
			capability: AllChannels(),
			state:      StateDisconnected,
		},
		link:  link,
		dec:   midimsg.NewDecoder(),
		nowUS: nowUS,
	}
}

func (d *BLEDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	d.state = StateConnecting
	d.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.state = StateConnected
	d.mu.Unlock()

	go d.readLoop(readCtx)
	return nil
}

func (d *BLEDevice) readLoop(ctx context.Context) {
	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := d.link.Read(buf)
		if err != nil {
			d.mu.Lock()
			d.state = StateError
			d.mu.Unlock()
			return
		}
		d.handlePacket(buf[:n])
	}
}

// handlePacket decodes one BLE MIDI packet: header byte (bit7 set,
// bits5-0 = timestampHigh), then repeating groups of an optional
// timestampLow byte (bit7 set, bits6-0 = timestampLow) followed by
// MIDI status+data bytes (running status permitted across groups).
func (d *BLEDevice) handlePacket(pkt []byte) {
	if len(pkt) < 1 || pkt[0]&0x80 == 0 {
		return // malformed header: logged-and-dropped per spec §7
	}
	tsHigh := pkt[0] & 0x3F
	i := 1
	for i < len(pkt) {
		if pkt[i]&0x80 == 0 {
			// A running-status continuation packet with no new
			// timestampLow byte: reuse lastMS's low bits.
			m, consumed, err := d.dec.Decode(pkt[i:])
			if err != nil {
				i++
				continue
			}
			m.TimestampUS = d.reconstruct(d.lastMS)
			d.emit(m)
			i += consumed
			continue
		}
		tsLow := pkt[i] & 0x7F
		i++
		ts13 := uint16(tsHigh)<<7 | uint16(tsLow)
		tsUS := d.reconstruct(ts13)
		if i >= len(pkt) {
			return
		}
		m, consumed, err := d.dec.Decode(pkt[i:])
		if err != nil {
			i++
			continue
		}
		m.TimestampUS = tsUS
		d.emit(m)
		i += consumed
	}
}

// reconstruct maps a 13-bit (0..8191 ms) BLE timestamp onto the
// device's absolute microsecond timeline, detecting rollover when the
// new value is smaller than the last one by more than half the
// rollover window (spec §4.3's 8192ms window).
func (d *BLEDevice) reconstruct(ts13 uint16) int64 {
	const windowMS = bleTimestampRolloverWindowMS

	if !d.haveBase {
		d.baseUS = d.nowUS()
		d.lastMS = ts13
		d.haveBase = true
		return d.baseUS
	}

	delta := int(ts13) - int(d.lastMS)
	if delta < -windowMS/2 {
		// Rolled over: the device's 13-bit counter wrapped.
		delta += windowMS
	} else if delta > windowMS/2 {
		// Stale/out-of-order packet referencing a timestamp before
		// the last rollover; treat as same-epoch best effort.
		delta -= windowMS
	}

	d.lastMS = ts13
	d.baseUS += int64(delta) * 1000
	return d.baseUS
}

func (d *BLEDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.state = StateDisconnected
	if d.link == nil {
		return nil
	}
	return d.link.Close()
}

func (d *BLEDevice) Send(m midimsg.Message) error {
	const op = "device.BLEDevice.Send"
	buf, err := midimsg.Encode(m)
	if err != nil {
		return err
	}
	ts := uint16(m.TimestampUS/1000) & 0x1FFF
	header := byte(0x80 | (ts >> 7))
	low := byte(0x80 | (ts & 0x7F))
	pkt := append([]byte{header, low}, buf...)

	d.mu.Lock()
	link := d.link
	d.mu.Unlock()
	if link == nil {
		return midierr.New(op, midierr.KindTransportClosed)
	}
	if _, err := link.Write(pkt); err != nil {
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return nil
}
