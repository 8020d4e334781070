package device

import (
	"context"
	"sync"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"

	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
)

// USBDevice is a serial-port-backed MIDI class-compliant USB device
// (e.g. /dev/ttyACM0, the same kind of link the pack's
// morriswinkler-midibridge example bridges directly). Grounded on the
// teacher's serial_port.go raw-mode-open-plus-reader-goroutine shape.
type USBDevice struct {
	baseDevice
	path string
	baud int

	mu     sync.Mutex
	port   *term.Term
	dec    *midimsg.Decoder
	cancel context.CancelFunc
}

// NewUSBDevice returns a USB serial MIDI device reading/writing path
// at baud (commonly 31250 for classic DIN MIDI over serial, or a
// class-compliant USB-MIDI adapter's virtual serial rate).
func NewUSBDevice(id, name, path string, baud int) *USBDevice {
	return &USBDevice{
		baseDevice: baseDevice{
			identity:   Identity{ID: id, Name: name, Transport: TransportUSB, Direction: DirectionBidirectional},
			capability: AllChannels(),
			state:      StateDisconnected,
		},
		path: path,
		baud: baud,
		dec:  midimsg.NewDecoder(),
	}
}

func (d *USBDevice) Open(ctx context.Context) error {
	const op = "device.USBDevice.Open"
	d.mu.Lock()
	d.state = StateConnecting
	d.mu.Unlock()

	// 31250 baud (classic DIN MIDI) isn't one of termios' standard Bxxx
	// rates, so pkg/term's Speed() can't set it; open raw and set the
	// exact divisor ourselves via Linux's BOTHER custom-baud extension.
	t, err := term.Open(d.path, term.RawMode)
	if err != nil {
		d.mu.Lock()
		d.state = StateError
		d.mu.Unlock()
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	if err := setCustomBaud(int(t.Fd()), d.baud); err != nil {
		t.Close()
		d.mu.Lock()
		d.state = StateError
		d.mu.Unlock()
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.port = t
	d.cancel = cancel
	d.state = StateConnected
	d.mu.Unlock()

	go d.readLoop(readCtx, t)
	return nil
}

// setCustomBaud sets fd's input/output rate to baud via Linux's BOTHER
// termios extension, for rates (like 31250) the standard Bxxx constants
// don't cover.
func setCustomBaud(fd int, baud int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func (d *USBDevice) readLoop(ctx context.Context, t *term.Term) {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := t.Read(buf)
		if err != nil {
			d.mu.Lock()
			d.state = StateError
			d.mu.Unlock()
			return
		}
		chunk := buf[:n]
		for len(chunk) > 0 {
			m, consumed, derr := d.dec.Decode(chunk)
			if derr != nil {
				// Malformed byte stream: drop this byte and resync,
				// per spec §7's "parse errors on input are logged +
				// dropped" policy — a single bad byte never tears
				// down the device.
				chunk = chunk[1:]
				continue
			}
			d.emit(m)
			chunk = chunk[consumed:]
		}
	}
}

func (d *USBDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	if d.port == nil {
		d.state = StateDisconnected
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.state = StateDisconnected
	return err
}

func (d *USBDevice) Send(m midimsg.Message) error {
	const op = "device.USBDevice.Send"
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return midierr.New(op, midierr.KindTransportClosed)
	}
	buf, err := midimsg.Encode(m)
	if err != nil {
		return err
	}
	_, err = port.Write(buf)
	if err != nil {
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return nil
}
