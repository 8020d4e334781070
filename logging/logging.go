// Package logging builds structured, leveled loggers for injection
// into every other package (spec §9's "Global state: none in the
// core: Logger/metrics are injected collaborators"). Grounded on the
// daemon's per-subsystem logging entry points in its log.go, replacing
// its global file handle and text_color_set/dw_printf banner calls
// with charmbracelet/log instances carrying a "component" field.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level mirrors charmbracelet/log's levels, exported so config can
// parse a YAML string without importing the logging backend directly.
type Level = log.Level

const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// ParseLevel parses a case-insensitive level name, defaulting to Info
// for an unrecognized value.
func ParseLevel(s string) Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

// Root is the process-wide logger factory: one *log.Logger per
// subsystem, all sharing an output writer and minimum level, injected
// into constructors rather than reached for as a package global.
type Root struct {
	level  Level
	writer io.Writer
}

// NewRoot returns a Root writing to w (os.Stderr if nil) at level.
func NewRoot(level Level, w io.Writer) *Root {
	if w == nil {
		w = os.Stderr
	}
	return &Root{level: level, writer: w}
}

// For returns a logger tagged with component, e.g. "router", "device",
// "player" — the idiomatic-Go analogue of the daemon's per-subsystem
// dw_printf banner prefix.
func (r *Root) For(component string) *log.Logger {
	l := log.NewWithOptions(r.writer, log.Options{
		ReportTimestamp: true,
		Level:           r.level,
	})
	return l.With("component", component)
}
