// Command midimindd is the MIDI orchestration daemon: it wires the
// device registry, route table, schedulers, latency compensator,
// player, event bus, preset store, and control server into one
// running process and serves until terminated (spec §5/§6).
// Grounded on cmd/direwolf/main.go's flag-parse -> wire-everything ->
// run-until-signal shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/oddnote/midimind/clock"
	"github.com/oddnote/midimind/config"
	"github.com/oddnote/midimind/control"
	"github.com/oddnote/midimind/device"
	"github.com/oddnote/midimind/device/rtpmidi"
	"github.com/oddnote/midimind/device/usbdiscovery"
	"github.com/oddnote/midimind/eventbus"
	"github.com/oddnote/midimind/latency"
	"github.com/oddnote/midimind/logging"
	"github.com/oddnote/midimind/midimsg"
	"github.com/oddnote/midimind/player"
	"github.com/oddnote/midimind/presetstore"
	"github.com/oddnote/midimind/router"
	"github.com/oddnote/midimind/scheduler"
	"github.com/oddnote/midimind/sysex"
)

// tickInterval drives router.Table.Tick, releasing due arpeggiator
// steps and delay echoes independently of message arrival.
const tickInterval = 5 * time.Millisecond

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "path to midimindd YAML config")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "midimindd:", err)
		os.Exit(1)
	}

	logRoot := logging.NewRoot(logging.ParseLevel(cfg.LogLevel), os.Stderr)
	log := logRoot.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logRoot)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	log.Info("midimindd started", "control_addr", cfg.Control.ListenAddr)

	<-ctx.Done()
	log.Info("shutting down")
	d.Shutdown()
}

// daemon owns every long-lived component so Shutdown can tear them
// down in the reverse order they were started.
type daemon struct {
	log          *charmlog.Logger
	clk          *clock.System
	bus          *eventbus.Bus
	devices      *device.Manager
	routes       *router.Table
	sched        scheduler.Scheduler
	compensator  *latency.Compensator
	play         *player.Player
	presets      presetstore.Store
	control      *control.Server
	sysexBuild   *sysex.Builder
	sysexReasm   *sysex.Reassembler
	cancelTicker context.CancelFunc
	wg           sync.WaitGroup
}

func newDaemon(ctx context.Context, cfg config.Config, logRoot *logging.Root) (*daemon, error) {
	clk := clock.NewSystem()
	bus := eventbus.New()

	d := &daemon{log: logRoot.For("daemon"), clk: clk, bus: bus}

	devLog := logRoot.For("device")
	d.devices = device.NewManager(devLog, d.handleDeviceInput, func(id string, connected bool) {
		topic := eventbus.TopicDeviceDisconnected
		if connected {
			topic = eventbus.TopicDeviceConnected
		}
		bus.Publish(topic, id)
	})

	d.compensator = latency.NewCompensator()
	d.routes = router.NewTable(d.sinkDispatch)
	d.sysexBuild = sysex.NewBuilder()
	d.sysexReasm = sysex.NewReassembler()

	switch cfg.SchedulerStrategy {
	case config.SchedulerRingBuffer:
		d.sched = scheduler.NewRingScheduler(cfg.RingSize, d.dispatchScheduled)
	default:
		d.sched = scheduler.NewPriorityScheduler(d.dispatchScheduled, clk.NowUS)
	}

	d.play = player.NewPlayer(clk, d.playerEmit, d.routes.ResetAll)

	presets, err := presetstore.NewFileStore(cfg.PresetStore.Dir)
	if err != nil {
		return nil, fmt.Errorf("preset store: %w", err)
	}
	d.presets = presets

	for _, dc := range cfg.Devices {
		dev, err := d.buildDevice(dc)
		if err != nil {
			d.log.Warn("skipping configured device", "id", dc.ID, "err", err)
			continue
		}
		if err := d.devices.Add(ctx, dev); err != nil {
			d.log.Warn("failed to open configured device", "id", dc.ID, "err", err)
		}
		if dc.LatencyDelayUS != 0 {
			d.compensator.SetProfile(dc.ID, latency.NewStaticProfile(dc.LatencyDelayUS))
		}
	}
	for _, rc := range cfg.Routes {
		d.routes.Add(routeFromConfig(rc))
	}

	tickCtx, cancel := context.WithCancel(ctx)
	d.cancelTicker = cancel
	d.wg.Add(1)
	go d.runTicker(tickCtx)

	d.control = control.NewServer(logRoot.For("control"))
	control.RegisterCore(d.control, control.Deps{
		Devices:    d.devices,
		Routes:     d.routes,
		Player:     d.play,
		Presets:    d.presets,
		Bus:        d.bus,
		SysExBuild: d.sysexBuild,
		Clock:      d.clk,
	})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.control.Serve(ctx, cfg.Control.ListenAddr); err != nil {
			d.log.Error("control server stopped", "err", err)
		}
	}()

	discoveryLog := logRoot.For("discovery")
	usbWatcher := usbdiscovery.New(d.devices, func(id, name, devnode string) device.Device {
		return device.NewUSBDevice(id, name, devnode, 31250)
	}, discoveryLog)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := usbWatcher.Run(ctx); err != nil {
			discoveryLog.Warn("usb discovery stopped", "err", err)
		}
	}()

	rtpDiscoverer := rtpmidi.New(d.devices, func(peer rtpmidi.Peer) device.Device {
		onLoss := func(deviceID string, count int) {
			d.bus.Publish(eventbus.TopicDeviceError, fmt.Sprintf("%s: %d packets lost", deviceID, count))
		}
		return device.NewRTPDevice(peer.Name, peer.Name, fmt.Sprintf("%s:%d", peer.Host, peer.Port), onLoss)
	}, "midimind", 5004, discoveryLog)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := rtpDiscoverer.Discover(ctx); err != nil {
			discoveryLog.Warn("rtp-midi discovery stopped", "err", err)
		}
	}()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := rtpDiscoverer.Advertise(ctx); err != nil {
			discoveryLog.Warn("rtp-midi advertisement stopped", "err", err)
		}
	}()

	return d, nil
}

// handleDeviceInput is every Device's wired InputFunc: it feeds
// inbound messages into the route table as ingress from that device.
// SysEx messages are additionally fed through reassembly so a complete
// frame can be published for sysex.on_received_subscribe subscribers.
func (d *daemon) handleDeviceInput(deviceID string, m midimsg.Message) {
	if m.Kind == midimsg.KindSysEx {
		d.handleSysExInput(deviceID, m)
	}
	d.routes.Dispatch(deviceID, m)
}

// handleSysExInput reconstructs the framed SysEx bytes Decode stripped
// (leading F0, trailing F7), parses them, and feeds the result through
// the per-device reassembler. A malformed or still-partial frame is
// logged and otherwise ignored; only a fully reassembled frame is
// published on eventbus.TopicSysExReceived.
func (d *daemon) handleSysExInput(deviceID string, m midimsg.Message) {
	raw := make([]byte, 0, len(m.Raw)+2)
	raw = append(raw, 0xF0)
	raw = append(raw, m.Raw...)
	raw = append(raw, 0xF7)

	f, err := sysex.Parse(raw)
	if err != nil {
		d.log.Warn("malformed sysex frame", "device", deviceID, "err", err)
		return
	}
	payload, complete, err := d.sysexReasm.Feed(deviceID, f)
	if err != nil {
		d.log.Warn("sysex reassembly failed", "device", deviceID, "err", err)
		return
	}
	if !complete {
		return
	}
	built, err := sysex.Build(sysex.Frame{Manufacturer: f.Manufacturer, Payload: payload})
	if err != nil {
		d.log.Warn("failed to rebuild reassembled sysex frame", "device", deviceID, "err", err)
		return
	}
	d.bus.Publish(eventbus.TopicSysExReceived, sysex.ReceivedEvent{
		DeviceID:     deviceID,
		Manufacturer: f.Manufacturer,
		FrameBytes:   built,
	})
}

// playerEmit is the Player's EmitFunc: player output re-enters the
// route table as ingress from a virtual "player" source, so routes
// configured with source_id "player" receive file playback.
func (d *daemon) playerEmit(m midimsg.Message) {
	d.routes.Dispatch("player", m)
}

// sinkDispatch is the router.Sink every matched, processed message
// reaches: apply latency compensation for the destination device,
// then submit it to the active scheduler for dispatch at its due time.
func (d *daemon) sinkDispatch(sinkDeviceID string, m midimsg.Message, _ router.Route) {
	adjustedUS, late := d.compensator.Adjust(sinkDeviceID, m, d.clk.NowUS())
	if late {
		d.bus.Publish(eventbus.TopicSchedulerLate, sinkDeviceID)
	}
	_ = d.sched.Submit(scheduler.ScheduledEvent{
		DueUS:   adjustedUS,
		SinkID:  sinkDeviceID,
		Message: m,
	})
}

// dispatchScheduled is every Scheduler's Dispatcher: it hands a due
// event to its destination device's Send.
func (d *daemon) dispatchScheduled(ev scheduler.ScheduledEvent) {
	if err := d.devices.Send(ev.SinkID, func(dev device.Device) error {
		return dev.Send(ev.Message)
	}); err != nil {
		d.log.Warn("dispatch to device failed", "sink", ev.SinkID, "err", err)
	}
}

// runTicker periodically releases processor-chain-internal events
// (arpeggiator steps, delay echoes) independent of message arrival.
func (d *daemon) runTicker(ctx context.Context) {
	defer d.wg.Done()
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.routes.Tick(d.clk.NowUS())
			for _, deviceID := range d.sysexReasm.ExpireOverdue() {
				d.log.Warn("sysex reassembly timed out", "device", deviceID)
			}
		}
	}
}

// Shutdown stops every background task and closes the scheduler,
// giving pending dispatch a bounded drain (spec §5's "drain 1 s").
func (d *daemon) Shutdown() {
	d.cancelTicker()
	if d.control != nil {
		_ = d.control.Close()
	}
	if d.sched != nil {
		_ = d.sched.Drain(scheduler.DrainDeadline)
		d.sched.Close()
	}
	d.play.Close()
	d.routes.ResetAll()
	d.wg.Wait()
}

func (d *daemon) buildDevice(dc config.DeviceConfig) (device.Device, error) {
	switch dc.Transport {
	case "usb":
		return device.NewUSBDevice(dc.ID, dc.Name, dc.Address, 31250), nil
	case "virtual":
		return device.NewVirtualDevice(dc.ID, dc.Name), nil
	case "rtp":
		onLoss := func(deviceID string, count int) {
			d.bus.Publish(eventbus.TopicDeviceError, fmt.Sprintf("%s: %d packets lost", deviceID, count))
		}
		return device.NewRTPDevice(dc.ID, dc.Name, dc.Address, onLoss), nil
	case "ble":
		// BLE requires an OS-level GATT link the daemon doesn't own
		// (spec §1's Bluetooth management boundary); such devices are
		// registered at runtime by whatever component holds the link,
		// not from static config.
		return nil, fmt.Errorf("ble devices cannot be statically configured, connect one via the control API")
	default:
		return nil, fmt.Errorf("unknown transport %q", dc.Transport)
	}
}

func routeFromConfig(rc config.RouteConfig) router.Route {
	r := router.Route{
		ID:       rc.ID,
		SourceID: rc.SourceID,
		SinkID:   rc.SinkID,
		Gain:     rc.Gain,
		OffsetUS: rc.OffsetUS,
		Mute:     rc.Mute,
		Solo:     rc.Solo,
	}
	if r.Gain == 0 {
		r.Gain = 1.0
	}
	for _, ch := range rc.Channels {
		if ch >= 1 && ch <= 16 {
			r.Channels[ch] = true
		}
	}
	return r
}
