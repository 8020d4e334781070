package device

import (
	"context"
	"os"
	"sync"

	"github.com/creack/pty"

	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
)

// VirtualDevice is a software MIDI port with no physical transport
// underneath: a pty pair, where midimind holds the master end and the
// slave end's path (SlavePath) is handed to local client processes,
// the same "synchronous send, push input via dedicated reader" shape
// spec §4.3 requires of USB/Virtual transports.
type VirtualDevice struct {
	baseDevice

	mu     sync.Mutex
	master *os.File
	slave  *os.File
	dec    *midimsg.Decoder
	cancel context.CancelFunc
}

// NewVirtualDevice returns a VirtualDevice identified by id/name.
func NewVirtualDevice(id, name string) *VirtualDevice {
	return &VirtualDevice{
		baseDevice: baseDevice{
			identity:   Identity{ID: id, Name: name, Transport: TransportVirtual, Direction: DirectionBidirectional},
			capability: AllChannels(),
			state:      StateDisconnected,
		},
		dec: midimsg.NewDecoder(),
	}
}

// SlavePath returns the pty slave's filesystem path once Open has
// succeeded, e.g. for a client to open directly.
func (d *VirtualDevice) SlavePath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slave == nil {
		return ""
	}
	return d.slave.Name()
}

func (d *VirtualDevice) Open(ctx context.Context) error {
	const op = "device.VirtualDevice.Open"
	d.mu.Lock()
	d.state = StateConnecting
	d.mu.Unlock()

	master, slave, err := pty.Open()
	if err != nil {
		d.mu.Lock()
		d.state = StateError
		d.mu.Unlock()
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.master = master
	d.slave = slave
	d.cancel = cancel
	d.state = StateConnected
	d.mu.Unlock()

	go d.readLoop(readCtx, master)
	return nil
}

func (d *VirtualDevice) readLoop(ctx context.Context, master *os.File) {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := master.Read(buf)
		if err != nil {
			return
		}
		chunk := buf[:n]
		for len(chunk) > 0 {
			m, consumed, derr := d.dec.Decode(chunk)
			if derr != nil {
				chunk = chunk[1:]
				continue
			}
			d.emit(m)
			chunk = chunk[consumed:]
		}
	}
}

func (d *VirtualDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	var err error
	if d.slave != nil {
		err = d.slave.Close()
		d.slave = nil
	}
	if d.master != nil {
		if merr := d.master.Close(); merr != nil && err == nil {
			err = merr
		}
		d.master = nil
	}
	d.state = StateDisconnected
	return err
}

func (d *VirtualDevice) Send(m midimsg.Message) error {
	const op = "device.VirtualDevice.Send"
	d.mu.Lock()
	master := d.master
	d.mu.Unlock()
	if master == nil {
		return midierr.New(op, midierr.KindTransportClosed)
	}
	buf, err := midimsg.Encode(m)
	if err != nil {
		return err
	}
	if _, err := master.Write(buf); err != nil {
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return nil
}
