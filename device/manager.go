package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/oddnote/midimind/midierr"
)

// snapshot is the copy-on-write registry contents; readers obtain one
// atomically and never block on a concurrent writer (spec §4.3, §5).
type snapshot struct {
	byID map[string]Device
}

// DrainDeadline bounds how long Remove waits for a device's pending
// sends to finish before force-closing it (spec §4.3).
const DrainDeadline = 500 * time.Millisecond

// Manager owns every Device exclusively; routes and sinks only ever
// hold stable device IDs and look them up through the manager's CoW
// snapshot (spec §9 "Shared ownership of devices").
type Manager struct {
	mu       sync.Mutex // serializes writers only
	current  atomic.Pointer[snapshot]
	onInput  InputFunc
	log      *charmlog.Logger
	onChange func(deviceID string, connected bool)
}

// NewManager returns an empty Manager. onInput is wired as every
// device's InputFunc on Add, forwarding inbound messages into the
// router's ingress (spec §4.3). onChange, if non-nil, is invoked after
// each Add/Remove so callers (e.g. the event bus) can publish
// device.connected/disconnected.
func NewManager(log *charmlog.Logger, onInput InputFunc, onChange func(deviceID string, connected bool)) *Manager {
	m := &Manager{log: log, onInput: onInput, onChange: onChange}
	m.current.Store(&snapshot{byID: map[string]Device{}})
	return m
}

// Add registers d, opens it, and wires its input callback. Replacing
// an existing ID closes the old device first.
func (m *Manager) Add(ctx context.Context, d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := d.Identity().ID
	old := m.current.Load()
	if prev, ok := old.byID[id]; ok {
		_ = prev.Close()
	}

	d.SetInput(m.onInput)
	if err := d.Open(ctx); err != nil {
		return midierr.Wrap("device.Manager.Add", midierr.KindTransportClosed, err)
	}

	next := &snapshot{byID: make(map[string]Device, len(old.byID)+1)}
	for k, v := range old.byID {
		next.byID[k] = v
	}
	next.byID[id] = d
	m.current.Store(next)

	if m.log != nil {
		m.log.Info("device added", "id", id, "transport", d.Identity().Transport)
	}
	if m.onChange != nil {
		m.onChange(id, true)
	}
	return nil
}

// Register adds d to the registry without opening it, leaving it in
// whatever State it already reports — e.g. a discovered RTP-MIDI peer
// stays StateDisconnected until a client explicitly invites it via
// Connect (spec §6's device.connect), instead of Add's "register
// implies open" behavior appropriate for statically configured or
// hotplugged physical devices.
func (m *Manager) Register(d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := d.Identity().ID
	old := m.current.Load()
	if prev, ok := old.byID[id]; ok {
		_ = prev.Close()
	}

	d.SetInput(m.onInput)

	next := &snapshot{byID: make(map[string]Device, len(old.byID)+1)}
	for k, v := range old.byID {
		next.byID[k] = v
	}
	next.byID[id] = d
	m.current.Store(next)

	if m.log != nil {
		m.log.Info("device registered", "id", id, "transport", d.Identity().Transport)
	}
	return nil
}

// Connect opens the device already registered under id — completing a
// session invitation for a peer Register left disconnected — and
// publishes the same connected notification Add does.
func (m *Manager) Connect(ctx context.Context, id string) error {
	d, ok := m.Lookup(id)
	if !ok {
		return midierr.NotFound("device.Manager.Connect", "device", id)
	}
	if err := d.Open(ctx); err != nil {
		return midierr.Wrap("device.Manager.Connect", midierr.KindTransportClosed, err)
	}
	if m.log != nil {
		m.log.Info("device connected", "id", id)
	}
	if m.onChange != nil {
		m.onChange(id, true)
	}
	return nil
}

// Remove drains and closes the device with id, then removes it from
// the registry. Drain here means "allow DrainDeadline for any
// in-flight Send to return" — the narrow Device interface has no
// separate drain call, so Remove simply bounds how long it waits on
// Close itself.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current.Load()
	d, ok := old.byID[id]
	if !ok {
		return midierr.NotFound("device.Manager.Remove", "device", id)
	}

	done := make(chan error, 1)
	go func() { done <- d.Close() }()

	var closeErr error
	select {
	case closeErr = <-done:
	case <-time.After(DrainDeadline):
		closeErr = midierr.New("device.Manager.Remove", midierr.KindDrainTimeout)
	}

	next := &snapshot{byID: make(map[string]Device, len(old.byID))}
	for k, v := range old.byID {
		if k != id {
			next.byID[k] = v
		}
	}
	m.current.Store(next)

	if m.log != nil {
		m.log.Info("device removed", "id", id)
	}
	if m.onChange != nil {
		m.onChange(id, false)
	}
	return closeErr
}

// List returns every registered device as of a single consistent
// snapshot (spec §4.3: "list/lookup are read-only and lock-free-
// friendly").
func (m *Manager) List() []Device {
	snap := m.current.Load()
	out := make([]Device, 0, len(snap.byID))
	for _, d := range snap.byID {
		out = append(out, d)
	}
	return out
}

// Lookup returns the device registered under id, if any.
func (m *Manager) Lookup(id string) (Device, bool) {
	snap := m.current.Load()
	d, ok := snap.byID[id]
	return d, ok
}

// Send looks up id and forwards m to it, or returns NotFound.
func (m *Manager) Send(id string, send func(Device) error) error {
	d, ok := m.Lookup(id)
	if !ok {
		return midierr.NotFound("device.Manager.Send", "device", id)
	}
	return send(d)
}
