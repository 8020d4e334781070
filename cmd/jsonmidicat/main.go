// Command jsonmidicat converts between Standard MIDI File and the
// jsonmidi text document format in either direction, inferring
// direction from the input's first non-whitespace byte — a small
// conversion tool in the spirit of the daemon's single-purpose cmd/*
// utilities.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/oddnote/midimind/jsonmidi"
	"github.com/oddnote/midimind/midimsg"
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
		fmt.Fprintln(os.Stderr, "jsonmidicat:", err)
		os.Exit(1)
	}

	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := toSMF(trimmed); err != nil {
			fmt.Fprintln(os.Stderr, "jsonmidicat:", err)
			os.Exit(1)
		}
		return
	}
	if err := toJSON(buf); err != nil {
		fmt.Fprintln(os.Stderr, "jsonmidicat:", err)
		os.Exit(1)
	}
}

func toJSON(buf []byte) error {
	f, err := midimsg.ReadSMF(buf)
	if err != nil {
		return err
	}
	doc := jsonmidi.FromMidiFile(f)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func toSMF(buf []byte) error {
	var doc jsonmidi.Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		return err
	}
	f, err := doc.ToMidiFile()
	if err != nil {
		return err
	}
	out, err := midimsg.WriteSMF(f)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
