// Package config loads midimindd's YAML configuration into typed
// structs for device transports, route defaults, scheduler strategy
// choice, and log level (spec §9's "ambient" configuration layer).
// Grounded on the daemon's layered default-then-override config
// loading shape; the daemon parses its own `.conf` format by hand,
// replaced here with a real YAML decoder.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchedulerStrategy selects the process-wide scheduler implementation
// (spec §9 Open Question, resolved process-wide).
type SchedulerStrategy string

const (
	SchedulerPriorityQueue SchedulerStrategy = "priority_queue"
	SchedulerRingBuffer    SchedulerStrategy = "ring_buffer"
)

// DeviceConfig describes one configured device endpoint.
type DeviceConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // "usb", "virtual", "ble", "rtp"
	Address   string `yaml:"address,omitempty"`

	// LatencyDelayUS, if nonzero, is the fixed compensation delay
	// (microseconds) applied to messages routed to this device as a
	// sink — wired to latency.Compensator.SetProfile at startup.
	LatencyDelayUS int64 `yaml:"latency_delay_us,omitempty"`
}

// RouteConfig describes one configured route (spec §4.5/§6).
type RouteConfig struct {
	ID       string  `yaml:"id"`
	SourceID string  `yaml:"source_id"`
	SinkID   string  `yaml:"sink_id"`
	Channels []int   `yaml:"channels,omitempty"`
	Gain     float64 `yaml:"gain"`
	OffsetUS int64   `yaml:"offset_us"`
	Mute     bool    `yaml:"mute"`
	Solo     bool    `yaml:"solo"`
}

// ControlConfig configures the line-delimited JSON control server.
type ControlConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PresetStoreConfig configures the filesystem-backed preset store.
type PresetStoreConfig struct {
	Dir string `yaml:"dir"`
}

// Config is the top-level midimindd configuration document.
type Config struct {
	LogLevel          string            `yaml:"log_level"`
	SchedulerStrategy SchedulerStrategy `yaml:"scheduler_strategy"`
	RingSize          int               `yaml:"ring_size"`
	Devices           []DeviceConfig    `yaml:"devices"`
	Routes            []RouteConfig     `yaml:"routes"`
	Control           ControlConfig     `yaml:"control"`
	PresetStore       PresetStoreConfig `yaml:"preset_store"`
}

// Default returns a Config with every field at its documented
// default, the base layer of the daemon's "layered default-then-
// override" loading shape.
func Default() Config {
	return Config{
		LogLevel:          "info",
		SchedulerStrategy: SchedulerPriorityQueue,
		RingSize:          4096,
		Control:           ControlConfig{ListenAddr: "127.0.0.1:9000"},
		PresetStore:       PresetStoreConfig{Dir: "./presets"},
	}
}

// Load reads a YAML document from path and overrides Default()'s
// fields with whatever it specifies; a missing path is not an error —
// Load returns the pure default configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}
