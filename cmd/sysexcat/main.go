// Command sysexcat scans a raw MIDI byte stream (file or stdin) for
// SysEx frames (F0 ... F7) and prints each one's manufacturer ID and
// payload in hex — a small capture/inspection tool in the spirit of
// the daemon's single-purpose cmd/* utilities.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/oddnote/midimind/sysex"
)

func main() {
	pflag.Parse()

	var (
		buf []byte
		err error
	)
	if pflag.NArg() == 1 {
		buf, err = os.ReadFile(pflag.Arg(0))
	} else {
		buf, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sysexcat:", err)
		os.Exit(1)
	}

	n := 0
	for _, raw := range extractFrames(buf) {
		frame, err := sysex.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sysexcat: frame %d: %v\n", n, err)
			continue
		}
		fmt.Printf("frame %d: mfr=%s payload=%s\n", n,
			hex.EncodeToString(frame.Manufacturer.Bytes()), hex.EncodeToString(frame.Payload))
		n++
	}
}

// extractFrames returns every F0..F7-delimited byte span in buf,
// framing bytes included, ignoring anything outside a frame.
func extractFrames(buf []byte) [][]byte {
	const f0, f7 = 0xF0, 0xF7
	var frames [][]byte
	start := -1
	for i, b := range buf {
		switch {
		case b == f0 && start < 0:
			start = i
		case b == f7 && start >= 0:
			frames = append(frames, buf[start:i+1])
			start = -1
		}
	}
	return frames
}
