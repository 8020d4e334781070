// Command smfdump parses a Standard MIDI File and prints its header,
// tempo map, and every track's events to stdout — a small inspection
// tool mirroring the daemon's many single-purpose cmd/* utilities
// (ll2utm, gen_tone, tt2text, ...).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/oddnote/midimind/midimsg"
)

func main() {
	pflag.Parse()
	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: smfdump <file.mid>")
		os.Exit(2)
	}

	buf, err := os.ReadFile(pflag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "smfdump:", err)
		os.Exit(1)
	}

	file, err := midimsg.ReadSMF(buf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "smfdump:", err)
		os.Exit(1)
	}

	fmt.Printf("format=%d tracks=%d ticks_per_quarter=%d\n",
		file.Header.Format, file.Header.Tracks, file.Header.TicksPerQuarter)

	fmt.Println("tempo map:")
	for _, tp := range file.TempoMap() {
		bpm := 60000000.0 / float64(tp.MicrosPerQuarter)
		fmt.Printf("  tick=%d  %d us/quarter  (%.2f bpm)\n", tp.Tick, tp.MicrosPerQuarter, bpm)
	}

	for i, tr := range file.Tracks {
		fmt.Printf("track %d: %d events\n", i, len(tr.Events))
		for _, ev := range tr.Events {
			fmt.Printf("  tick=%-8d %s\n", ev.AbsoluteTicks, describe(ev.Message))
		}
	}
}

func describe(m midimsg.Message) string {
	switch m.Kind {
	case midimsg.KindNoteOn:
		return fmt.Sprintf("NoteOn  ch=%-2d note=%-3d vel=%d", m.Channel, m.Data1, m.Data2)
	case midimsg.KindNoteOff:
		return fmt.Sprintf("NoteOff ch=%-2d note=%-3d vel=%d", m.Channel, m.Data1, m.Data2)
	case midimsg.KindMetaEvent:
		return fmt.Sprintf("Meta    type=0x%02x bytes=%d", m.MetaType, len(m.Raw))
	case midimsg.KindSysEx:
		return fmt.Sprintf("SysEx   bytes=%d", len(m.Raw))
	default:
		return fmt.Sprintf("%v ch=%d data1=%d data2=%d", m.Kind, m.Channel, m.Data1, m.Data2)
	}
}
