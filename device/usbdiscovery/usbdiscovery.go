// Package usbdiscovery watches the kernel's sound subsystem for
// rawmidi USB device add/remove events via udev and mirrors them into
// a device.Manager (spec §5.5), so a class-compliant USB-MIDI adapter
// is registered the moment it is plugged in rather than requiring a
// static configured path. Grounded on the daemon's dns_sd_avahi.go
// background-watch-goroutine-plus-callback shape, here driven by
// go-udev's netlink monitor instead of Avahi's C event loop.
package usbdiscovery

import (
	"context"

	"github.com/jochenvg/go-udev"

	charmlog "github.com/charmbracelet/log"

	"github.com/oddnote/midimind/device"
)

// NewUSBDeviceFunc builds a device.Device for a rawmidi node at
// devnode, given the udev-reported ID and display name. Left to the
// caller so usbdiscovery stays agnostic of baud rate / serial framing
// choices (device.NewUSBDevice's extra parameters).
type NewUSBDeviceFunc func(id, name, devnode string) device.Device

// Watcher mirrors udev "sound" subsystem add/remove events into a
// device.Manager for as long as Run's context stays alive.
type Watcher struct {
	manager *device.Manager
	newUSB  NewUSBDeviceFunc
	log     *charmlog.Logger
}

// New returns a Watcher that registers newly seen rawmidi devices with
// manager via newUSB.
func New(manager *device.Manager, newUSB NewUSBDeviceFunc, log *charmlog.Logger) *Watcher {
	return &Watcher{manager: manager, newUSB: newUSB, log: log}
}

// Run blocks, processing udev events until ctx is cancelled. If the
// netlink monitor can't be created (non-Linux, or no udev running —
// e.g. inside a sandboxed build environment), Run logs a warning and
// returns nil rather than erroring the whole daemon: USB devices then
// fall back to the statically configured device list, the same
// graceful degradation the daemon applies when Avahi isn't present.
func (w *Watcher) Run(ctx context.Context) error {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		if w.log != nil {
			w.log.Warn("udev netlink monitor unavailable, USB hotplug discovery disabled")
		}
		return nil
	}
	if err := mon.FilterAddMatchSubsystem("sound"); err != nil {
		if w.log != nil {
			w.log.Warn("udev subsystem filter failed, USB hotplug discovery disabled", "err", err)
		}
		return nil
	}

	events, errs, err := mon.DeviceChan(ctx)
	if err != nil {
		if w.log != nil {
			w.log.Warn("udev monitor start failed, USB hotplug discovery disabled", "err", err)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if w.log != nil {
				w.log.Warn("udev monitor error", "err", err)
			}
		case ev := <-events:
			if ev == nil {
				continue
			}
			w.handle(ctx, ev)
		}
	}
}

// udevDevice is the subset of *udev.Device this package touches,
// named so handle can be unit-tested against a fake.
type udevDevice interface {
	Action() string
	Syspath() string
	Sysname() string
	PropertyValue(string) string
}

func (w *Watcher) handle(ctx context.Context, ev udevDevice) {
	id := ev.Syspath()

	switch ev.Action() {
	case "add":
		devnode := ev.PropertyValue("DEVNAME")
		if devnode == "" {
			return
		}
		d := w.newUSB(id, ev.Sysname(), devnode)
		if err := w.manager.Add(ctx, d); err != nil && w.log != nil {
			w.log.Warn("failed to add hotplugged USB device", "id", id, "err", err)
		}
	case "remove":
		if err := w.manager.Remove(id); err != nil && w.log != nil {
			w.log.Warn("failed to remove unplugged USB device", "id", id, "err", err)
		}
	}
}
