// Package device is the uniform device abstraction and manager: a
// narrow open/close/send/poll interface over USB, Virtual, BLE, and
// RTP-MIDI endpoints, plus the registry that owns them (spec §3, §4.3).
package device

import (
	"context"

	"github.com/oddnote/midimind/midimsg"
)

// Transport identifies the physical/logical carrier of a Device.
type Transport int

const (
	TransportUSB Transport = iota
	TransportVirtual
	TransportBLE
	TransportRTP
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportVirtual:
		return "virtual"
	case TransportBLE:
		return "ble"
	case TransportRTP:
		return "rtp"
	default:
		return "unknown"
	}
}

// Direction describes which way a Device carries MIDI data.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
	DirectionBidirectional
)

// State is a Device's connection lifecycle state (spec §3).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Capability describes what a Device supports.
type Capability struct {
	Channels     [16]bool // index 0 == MIDI channel 1
	SupportsSysEx bool
}

// AllChannels returns a Capability that accepts every channel and
// SysEx, the default for transports with no stated restriction.
func AllChannels() Capability {
	c := Capability{SupportsSysEx: true}
	for i := range c.Channels {
		c.Channels[i] = true
	}
	return c
}

// Identity is a Device's stable, immutable identification.
type Identity struct {
	ID        string
	Name      string
	Transport Transport
	Direction Direction
}

// InputFunc is how a Device pushes received messages upstream; wired
// by the DeviceManager into the router's ingress on Add (spec §4.3).
type InputFunc func(deviceID string, m midimsg.Message)

// Device is the narrow interface every transport implements (spec
// §4.3's "open/close/send(MidiMessage)/poll()/state()").
type Device interface {
	Identity() Identity
	Capability() Capability
	State() State

	// Open establishes the underlying connection. For push-capable
	// transports (USB/Virtual/BLE/RTP), Open also starts the reader
	// goroutine that invokes the InputFunc registered via SetInput.
	Open(ctx context.Context) error

	// Close tears the device down; safe to call more than once.
	Close() error

	// Send transmits m. Transports that support only push input but
	// have no send path (none currently) would return
	// midierr.KindUnsupportedFormat; all transports here are
	// bidirectional-capable at the interface level.
	Send(m midimsg.Message) error

	// SetInput registers the callback invoked for every inbound
	// message. Must be called before Open for push transports to
	// avoid missing early events.
	SetInput(fn InputFunc)
}

// baseDevice holds the identity/capability/state bookkeeping common to
// every transport implementation, analogous to the teacher's
// multi_modem.go per-channel state struct generalized across
// transports.
type baseDevice struct {
	identity   Identity
	capability Capability
	state      State
	input      InputFunc
}

func (b *baseDevice) Identity() Identity     { return b.identity }
func (b *baseDevice) Capability() Capability { return b.capability }
func (b *baseDevice) State() State           { return b.state }
func (b *baseDevice) SetInput(fn InputFunc)  { b.input = fn }

func (b *baseDevice) emit(m midimsg.Message) {
	if b.input != nil {
		b.input(b.identity.ID, m)
	}
}
