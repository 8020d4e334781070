package control

import (
	"context"
	"encoding/json"
	"os"

	"github.com/oddnote/midimind/clock"
	"github.com/oddnote/midimind/device"
	"github.com/oddnote/midimind/eventbus"
	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/midimsg"
	"github.com/oddnote/midimind/player"
	"github.com/oddnote/midimind/presetstore"
	"github.com/oddnote/midimind/processor"
	"github.com/oddnote/midimind/router"
	"github.com/oddnote/midimind/sysex"
)

// Deps bundles the daemon components a command needs to act on, so
// RegisterCore can wire spec §6's command set without the control
// package importing a god-object.
type Deps struct {
	Devices    *device.Manager
	Routes     *router.Table
	Player     *player.Player
	Presets    presetstore.Store
	Bus        *eventbus.Bus
	SysExBuild *sysex.Builder
	Clock      clock.Source
}

// RegisterCore installs every command named in spec §6 against deps,
// grouped by module: device.*, route.*, player.*, processor.*,
// preset.*, sysex.*.
func RegisterCore(s *Server, deps Deps) {
	registerDeviceCommands(s, deps)
	registerRouteCommands(s, deps)
	registerPlayerCommands(s, deps)
	registerProcessorCommands(s, deps)
	registerPresetCommands(s, deps)
	registerSysExCommands(s, deps)
}

func decode[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, midierr.Wrap("control.decode", midierr.KindMalformedPayload, err)
	}
	return v, nil
}

func registerDeviceCommands(s *Server, deps Deps) {
	s.Register("device.list", func(params json.RawMessage) (any, error) {
		type entry struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Transport string `json:"transport"`
			State     string `json:"state"`
		}
		var out []entry
		for _, d := range deps.Devices.List() {
			id := d.Identity()
			out = append(out, entry{ID: id.ID, Name: id.Name, Transport: id.Transport.String(), State: d.State().String()})
		}
		return out, nil
	})

	s.Register("device.connect", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID string `json:"id"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Devices.Connect(context.Background(), req.ID)
	})

	s.Register("device.disconnect", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID string `json:"id"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Devices.Remove(req.ID)
	})
}

// manufacturerFromBytes decodes the wire-form manufacturer ID bytes a
// sysex.send request carries: one byte for a standard ID, three
// (leading 0x00) for an extended one.
func manufacturerFromBytes(b []byte) (sysex.Manufacturer, error) {
	switch len(b) {
	case 1:
		return sysex.Manufacturer{ID: [3]byte{b[0], 0, 0}}, nil
	case 3:
		return sysex.Manufacturer{ID: [3]byte{b[0], b[1], b[2]}, Extended: b[0] == 0x00}, nil
	default:
		return sysex.Manufacturer{}, midierr.New("control.manufacturerFromBytes", midierr.KindMalformedPayload)
	}
}

// registerSysExCommands installs sysex.send (chunking an oversized
// payload through deps.SysExBuild and writing each frame to the
// target device) and sysex.on_received_subscribe (spec §6), which
// streams every subsequent sysex.received event to the subscribing
// connection until it disconnects.
func registerSysExCommands(s *Server, deps Deps) {
	s.Register("sysex.send", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			DeviceID     string `json:"device_id"`
			Manufacturer []byte `json:"manufacturer"`
			Payload      []byte `json:"payload"`
		}](params)
		if err != nil {
			return nil, err
		}
		mfr, merr := manufacturerFromBytes(req.Manufacturer)
		if merr != nil {
			return nil, merr
		}
		for _, frame := range deps.SysExBuild.Split(mfr, req.Payload) {
			raw := append(append([]byte(nil), frame.Manufacturer.Bytes()...), frame.Payload...)
			m := midimsg.Message{Kind: midimsg.KindSysEx, Raw: raw, TimestampUS: deps.Clock.NowUS()}
			if serr := deps.Devices.Send(req.DeviceID, func(d device.Device) error { return d.Send(m) }); serr != nil {
				return nil, serr
			}
		}
		return nil, nil
	})

	s.RegisterStream("sysex.on_received_subscribe", func(params json.RawMessage, push func(string, any), done <-chan struct{}) (any, error) {
		ch, handle := deps.Bus.Subscribe(eventbus.TopicSysExReceived)
		go func() {
			defer deps.Bus.Unsubscribe(eventbus.TopicSysExReceived, handle)
			for {
				select {
				case <-done:
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					push("sysex.received", ev)
				}
			}
		}()
		return map[string]bool{"subscribed": true}, nil
	})
}

func routeFromParams(req routeParams) router.Route {
	r := router.Route{
		ID:       req.ID,
		SourceID: req.SourceID,
		SinkID:   req.SinkID,
		Gain:     req.Gain,
		OffsetUS: req.OffsetUS,
		Mute:     req.Mute,
		Solo:     req.Solo,
	}
	if r.Gain == 0 {
		r.Gain = 1.0
	}
	for _, ch := range req.Channels {
		if ch >= 1 && ch <= 16 {
			r.Channels[ch] = true
		}
	}
	return r
}

type routeParams struct {
	ID       string  `json:"id"`
	SourceID string  `json:"source_id"`
	SinkID   string  `json:"sink_id"`
	Channels []uint8 `json:"channels"`
	Gain     float64 `json:"gain"`
	OffsetUS int64   `json:"offset_us"`
	Mute     bool    `json:"mute"`
	Solo     bool    `json:"solo"`
}

func registerRouteCommands(s *Server, deps Deps) {
	s.Register("route.add", func(params json.RawMessage) (any, error) {
		req, err := decode[routeParams](params)
		if err != nil {
			return nil, err
		}
		deps.Routes.Add(routeFromParams(req))
		return nil, nil
	})

	s.Register("route.remove", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID string `json:"id"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Routes.Remove(req.ID)
	})

	s.Register("route.list", func(params json.RawMessage) (any, error) {
		return deps.Routes.List(), nil
	})

	s.Register("route.mute", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID   string `json:"id"`
			Mute bool   `json:"mute"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Routes.SetMute(req.ID, req.Mute)
	})

	s.Register("route.solo", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID   string `json:"id"`
			Solo bool   `json:"solo"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Routes.SetSolo(req.ID, req.Solo)
	})

	s.Register("route.volume", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID   string  `json:"id"`
			Gain float64 `json:"gain"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Routes.SetVolume(req.ID, req.Gain)
	})

	s.Register("route.offset", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID       string `json:"id"`
			OffsetUS int64  `json:"offset_us"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Routes.SetOffset(req.ID, req.OffsetUS)
	})
}

func registerPlayerCommands(s *Server, deps Deps) {
	s.Register("player.load", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			Path string `json:"path"`
		}](params)
		if err != nil {
			return nil, err
		}
		buf, rerr := os.ReadFile(req.Path)
		if rerr != nil {
			return nil, midierr.Wrap("control.player.load", midierr.KindTransportClosed, rerr)
		}
		file, perr := midimsg.ReadSMF(buf)
		if perr != nil {
			return nil, perr
		}
		return nil, deps.Player.Load(file)
	})

	s.Register("player.play", func(params json.RawMessage) (any, error) { return nil, deps.Player.Play() })
	s.Register("player.pause", func(params json.RawMessage) (any, error) { return nil, deps.Player.Pause() })
	s.Register("player.stop", func(params json.RawMessage) (any, error) { return nil, deps.Player.Stop() })

	s.Register("player.seek", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			Tick uint64 `json:"tick"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Player.Seek(req.Tick)
	})

	s.Register("player.tempo", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			Scale float64 `json:"scale"`
		}](params)
		if err != nil {
			return nil, err
		}
		deps.Player.SetTempoScale(req.Scale)
		return nil, nil
	})

	s.Register("player.transpose", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			Semitones int `json:"semitones"`
		}](params)
		if err != nil {
			return nil, err
		}
		deps.Player.SetTranspose(req.Semitones)
		return nil, nil
	})

	s.Register("player.status", func(params json.RawMessage) (any, error) {
		return deps.Player.Status(), nil
	})
}

// stageSpec describes one processor.Stage to build in a chain
// (processor.chain_set, spec §6): a type tag plus its own params.
type stageSpec struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

func buildStage(spec stageSpec) (processor.Stage, error) {
	switch spec.Type {
	case "channel_filter":
		p, err := decode[struct {
			Channels []uint8 `json:"channels"`
		}](spec.Params)
		if err != nil {
			return nil, err
		}
		return processor.NewChannelFilter(p.Channels...), nil
	case "transpose":
		p, err := decode[struct {
			Semitones int `json:"semitones"`
		}](spec.Params)
		if err != nil {
			return nil, err
		}
		return processor.NewTranspose(p.Semitones), nil
	case "velocity":
		p, err := decode[struct {
			Curve string  `json:"curve"`
			Gain  float64 `json:"gain"`
		}](spec.Params)
		if err != nil {
			return nil, err
		}
		curve := processor.CurveLinear
		switch p.Curve {
		case "log":
			curve = processor.CurveLog
		case "exp":
			curve = processor.CurveExp
		}
		return processor.NewVelocity(curve, p.Gain), nil
	case "arpeggiator":
		p, err := decode[struct {
			Pattern    string `json:"pattern"`
			IntervalUS int64  `json:"interval_us"`
		}](spec.Params)
		if err != nil {
			return nil, err
		}
		pattern := processor.PatternUp
		switch p.Pattern {
		case "down":
			pattern = processor.PatternDown
		case "up_down":
			pattern = processor.PatternUpDown
		case "random":
			pattern = processor.PatternRandom
		}
		return processor.NewArpeggiator(pattern, p.IntervalUS), nil
	case "delay":
		p, err := decode[struct {
			IntervalUS int64   `json:"interval_us"`
			Repeats    int     `json:"repeats"`
			Decay      float64 `json:"decay"`
		}](spec.Params)
		if err != nil {
			return nil, err
		}
		return processor.NewDelay(p.IntervalUS, p.Repeats, p.Decay), nil
	case "chord":
		p, err := decode[struct {
			Intervals []int `json:"intervals"`
		}](spec.Params)
		if err != nil {
			return nil, err
		}
		return processor.NewChord(p.Intervals...), nil
	default:
		return nil, midierr.New("control.buildStage", midierr.KindUnsupportedFormat)
	}
}

func registerProcessorCommands(s *Server, deps Deps) {
	s.Register("processor.chain_set", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			RouteID string      `json:"route_id"`
			Stages  []stageSpec `json:"stages"`
		}](params)
		if err != nil {
			return nil, err
		}
		stages := make([]processor.Stage, 0, len(req.Stages))
		for _, spec := range req.Stages {
			stage, serr := buildStage(spec)
			if serr != nil {
				return nil, serr
			}
			stages = append(stages, stage)
		}
		return nil, deps.Routes.SetChain(req.RouteID, processor.NewChain(stages...))
	})

	s.Register("processor.reset", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			RouteID string `json:"route_id"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Routes.ResetRoute(req.RouteID)
	})
}

func registerPresetCommands(s *Server, deps Deps) {
	s.Register("preset.save", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID   string `json:"id"`
			Data []byte `json:"data"`
		}](params)
		if err != nil {
			return nil, err
		}
		return nil, deps.Presets.Save(req.ID, req.Data)
	})

	s.Register("preset.load", func(params json.RawMessage) (any, error) {
		req, err := decode[struct {
			ID string `json:"id"`
		}](params)
		if err != nil {
			return nil, err
		}
		return deps.Presets.Load(req.ID)
	})
}
