package usbdiscovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddnote/midimind/device"
	"github.com/oddnote/midimind/midimsg"
)

type fakeUSBDevice struct {
	id     string
	state  device.State
	input  device.InputFunc
	closed bool
}

func (f *fakeUSBDevice) Identity() device.Identity {
	return device.Identity{ID: f.id, Name: f.id, Transport: device.TransportUSB, Direction: device.DirectionBidirectional}
}
func (f *fakeUSBDevice) Capability() device.Capability   { return device.AllChannels() }
func (f *fakeUSBDevice) State() device.State             { return f.state }
func (f *fakeUSBDevice) Open(ctx context.Context) error  { f.state = device.StateConnected; return nil }
func (f *fakeUSBDevice) Close() error                    { f.closed = true; f.state = device.StateDisconnected; return nil }
func (f *fakeUSBDevice) Send(m midimsg.Message) error    { return nil }
func (f *fakeUSBDevice) SetInput(fn device.InputFunc)    { f.input = fn }

type fakeUdevEvent struct {
	action, syspath, sysname string
	props                    map[string]string
}

func (e fakeUdevEvent) Action() string              { return e.action }
func (e fakeUdevEvent) Syspath() string             { return e.syspath }
func (e fakeUdevEvent) Sysname() string             { return e.sysname }
func (e fakeUdevEvent) PropertyValue(k string) string { return e.props[k] }

func TestHandleAddRegistersDeviceWithManager(t *testing.T) {
	mgr := device.NewManager(nil, nil, nil)
	var built []string
	w := New(mgr, func(id, name, devnode string) device.Device {
		built = append(built, devnode)
		return &fakeUSBDevice{id: id}
	}, nil)

	w.handle(context.Background(), fakeUdevEvent{
		action: "add", syspath: "/sys/devices/midi0", sysname: "midiC0D0",
		props: map[string]string{"DEVNAME": "/dev/snd/midiC0D0"},
	})

	assert.Equal(t, []string{"/dev/snd/midiC0D0"}, built)
	_, ok := mgr.Lookup("/sys/devices/midi0")
	assert.True(t, ok)
}

func TestHandleRemoveDeregistersDevice(t *testing.T) {
	mgr := device.NewManager(nil, nil, nil)
	w := New(mgr, func(id, name, devnode string) device.Device {
		return &fakeUSBDevice{id: id}
	}, nil)

	add := fakeUdevEvent{action: "add", syspath: "/sys/devices/midi0", sysname: "midiC0D0", props: map[string]string{"DEVNAME": "/dev/snd/midiC0D0"}}
	w.handle(context.Background(), add)

	w.handle(context.Background(), fakeUdevEvent{action: "remove", syspath: "/sys/devices/midi0"})

	_, ok := mgr.Lookup("/sys/devices/midi0")
	assert.False(t, ok)
}

func TestHandleIgnoresEventsWithoutDevname(t *testing.T) {
	mgr := device.NewManager(nil, nil, nil)
	w := New(mgr, func(id, name, devnode string) device.Device {
		t.Fatal("newUSB should not be called without a DEVNAME")
		return nil
	}, nil)

	w.handle(context.Background(), fakeUdevEvent{action: "add", syspath: "/sys/devices/midi0"})

	require.Empty(t, mgr.List())
}
