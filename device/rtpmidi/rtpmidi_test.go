package rtpmidi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddnote/midimind/device"
	"github.com/oddnote/midimind/midimsg"
)

type fakePeerDevice struct {
	id    string
	state device.State
}

func (f *fakePeerDevice) Identity() device.Identity {
	return device.Identity{ID: f.id, Name: f.id, Transport: device.TransportRTP, Direction: device.DirectionBidirectional}
}
func (f *fakePeerDevice) Capability() device.Capability  { return device.AllChannels() }
func (f *fakePeerDevice) State() device.State            { return f.state }
func (f *fakePeerDevice) Open(ctx context.Context) error { f.state = device.StateConnected; return nil }
func (f *fakePeerDevice) Close() error                   { f.state = device.StateDisconnected; return nil }
func (f *fakePeerDevice) Send(m midimsg.Message) error   { return nil }
func (f *fakePeerDevice) SetInput(fn device.InputFunc)   {}

func TestRegisterPeerAddsDeviceToManager(t *testing.T) {
	mgr := device.NewManager(nil, nil, nil)
	var got Peer
	d := New(mgr, func(peer Peer) device.Device {
		got = peer
		return &fakePeerDevice{id: peer.Name}
	}, "local-session", 5004, nil)

	d.registerPeer(context.Background(), Peer{Name: "studio-mac", Host: "10.0.0.5", Port: 5004})

	assert.Equal(t, "studio-mac", got.Name)
	_, ok := mgr.Lookup("studio-mac")
	require.True(t, ok)
}

func TestUnregisterPeerRemovesDeviceFromManager(t *testing.T) {
	mgr := device.NewManager(nil, nil, nil)
	d := New(mgr, func(peer Peer) device.Device {
		return &fakePeerDevice{id: peer.Name}
	}, "local-session", 5004, nil)

	d.registerPeer(context.Background(), Peer{Name: "studio-mac", Host: "10.0.0.5", Port: 5004})
	d.unregisterPeer("studio-mac")

	_, ok := mgr.Lookup("studio-mac")
	assert.False(t, ok)
}

func TestUnregisterPeerUnknownNameIsNoOp(t *testing.T) {
	mgr := device.NewManager(nil, nil, nil)
	d := New(mgr, func(peer Peer) device.Device { return &fakePeerDevice{id: peer.Name} }, "local-session", 5004, nil)

	d.unregisterPeer("nobody")
}
