// Package rtpmidi advertises this host's RTP-MIDI session over
// Bonjour/mDNS and discovers peers advertising the same
// "_apple-midi._udp" service (spec §5.6), feeding discovered peers
// into a device.Manager as disconnected RTP devices a client can then
// connect to via the control API's device session invitation.
// Grounded on the daemon's dns_sd_avahi.go advertise-plus-discover
// background goroutine, here using brutella/dnssd's pure-Go mDNS
// responder in place of cgo-bound Avahi.
package rtpmidi

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"

	charmlog "github.com/charmbracelet/log"

	"github.com/oddnote/midimind/device"
)

const serviceType = "_apple-midi._udp"

// Peer is one discovered RTP-MIDI session invitation target.
type Peer struct {
	Name string
	Host string
	Port int
}

// NewRTPDeviceFunc builds a device.Device for a discovered peer,
// wired to the session port chosen by the caller (rtpmidisession.go's
// invitation handshake).
type NewRTPDeviceFunc func(peer Peer) device.Device

// Discoverer advertises a local RTP-MIDI session and mirrors
// discovered peers into a device.Manager.
type Discoverer struct {
	manager  *device.Manager
	newPeer  NewRTPDeviceFunc
	log      *charmlog.Logger
	selfName string
	selfPort int
}

// New returns a Discoverer that advertises name/port as this host's
// RTP-MIDI session and registers discovered peers with manager via
// newPeer.
func New(manager *device.Manager, newPeer NewRTPDeviceFunc, name string, port int, log *charmlog.Logger) *Discoverer {
	return &Discoverer{manager: manager, newPeer: newPeer, log: log, selfName: name, selfPort: port}
}

// Advertise publishes this host's RTP-MIDI session over mDNS until ctx
// is cancelled.
func (d *Discoverer) Advertise(ctx context.Context) error {
	cfg := dnssd.Config{
		Name: d.selfName,
		Type: serviceType,
		Port: d.selfPort,
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("rtpmidi: build service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		if d.log != nil {
			d.log.Warn("mDNS responder unavailable, RTP-MIDI session not advertised", "err", err)
		}
		return nil
	}
	if _, err := responder.Add(service); err != nil {
		return fmt.Errorf("rtpmidi: advertise service: %w", err)
	}

	return responder.Respond(ctx)
}

// Discover browses for RTP-MIDI peers until ctx is cancelled,
// registering each as a disconnected device.Device in manager.
func (d *Discoverer) Discover(ctx context.Context) error {
	added := func(e dnssd.BrowseEntry) {
		if len(e.IPs) == 0 {
			return
		}
		d.registerPeer(ctx, Peer{Name: e.Name, Host: e.IPs[0].String(), Port: e.Port})
	}
	removed := func(e dnssd.BrowseEntry) {
		d.unregisterPeer(e.Name)
	}

	return dnssd.LookupType(ctx, serviceType+".local.", added, removed)
}

func (d *Discoverer) registerPeer(ctx context.Context, peer Peer) {
	dev := d.newPeer(peer)
	if err := d.manager.Register(dev); err != nil && d.log != nil {
		d.log.Warn("failed to register discovered RTP-MIDI peer", "name", peer.Name, "err", err)
	}
}

func (d *Discoverer) unregisterPeer(name string) {
	if err := d.manager.Remove(name); err != nil && d.log != nil {
		d.log.Warn("failed to remove departed RTP-MIDI peer", "name", name, "err", err)
	}
}
