package sysex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuildSingleChunkRoundTrip(t *testing.T) {
	b := []byte{0xF0, 0x7D, 0x01, 0x02, 0x03, 0xF7}
	f, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, Manufacturer{ID: [3]byte{0x7D, 0, 0}}, f.Manufacturer)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, f.Payload)

	out, err := Build(f)
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestParseExtendedManufacturer(t *testing.T) {
	b := []byte{0xF0, 0x00, 0x20, 0x33, 0x01, 0xF7}
	f, err := Parse(b)
	require.NoError(t, err)
	assert.True(t, f.Manufacturer.Extended)
	assert.Equal(t, []byte{0x01}, f.Payload)
}

func TestParseRejectsNonSevenBitPayload(t *testing.T) {
	b := []byte{0xF0, 0x7D, 0x80, 0xF7}
	_, err := Parse(b)
	require.Error(t, err)
}

func TestParseRejectsBadFraming(t *testing.T) {
	_, err := Parse([]byte{0x90, 0x01, 0xF7})
	require.Error(t, err)
}

func TestBuilderSplitsOversizedPayload(t *testing.T) {
	b := &Builder{MaxChunkPayload: 256}
	payload := make([]byte, 400)
	for i := range payload {
		payload[i] = byte(i % 0x70)
	}
	mfr := Manufacturer{ID: [3]byte{0x7D, 0, 0}}
	frames := b.Split(mfr, payload)
	require.Len(t, frames, 2)
	assert.Equal(t, ChunkFirst, frames[0].Payload[0])
	assert.Len(t, frames[0].Payload[1:], 256)
	assert.Equal(t, ChunkLast, frames[1].Payload[0])
	assert.Len(t, frames[1].Payload[1:], 144)
}

func TestBuilderSingleChunkUnderLimit(t *testing.T) {
	b := NewBuilder()
	frames := b.Split(Manufacturer{ID: [3]byte{0x7D}}, []byte{1, 2, 3})
	require.Len(t, frames, 1)
	assert.Equal(t, ChunkSingle, frames[0].Payload[0])
}

// TestReassemblySplitPayload is spec §8 scenario 5: a 400-byte payload
// split into [first(256), last(144)] arriving 50ms apart reassembles
// into exactly one frame with the concatenated payload.
func TestReassemblySplitPayload(t *testing.T) {
	b := NewBuilder()
	payload := make([]byte, 400)
	for i := range payload {
		payload[i] = byte(i % 0x70)
	}
	mfr := Manufacturer{ID: [3]byte{0x7D, 0, 0}}
	frames := b.Split(mfr, payload)
	require.Len(t, frames, 2)

	r := NewReassembler()
	got, complete, err := r.Feed("dev1", frames[0])
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, got)

	got, complete, err = r.Feed("dev1", frames[1])
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, payload, got)
}

func TestReassemblyTimeoutDropsIncompleteFrame(t *testing.T) {
	b := NewBuilder()
	payload := make([]byte, 400)
	mfr := Manufacturer{ID: [3]byte{0x7D, 0, 0}}
	frames := b.Split(mfr, payload)
	require.Len(t, frames, 2)

	r := NewReassembler()
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }

	_, complete, err := r.Feed("dev1", frames[0])
	require.NoError(t, err)
	require.False(t, complete)

	fakeNow = fakeNow.Add(3 * time.Second)
	dropped := r.ExpireOverdue()
	require.Equal(t, []string{"dev1"}, dropped)

	// The final chunk now arrives after expiry: it finds no partial
	// and reports malformed (no frame emitted).
	_, complete, err = r.Feed("dev1", frames[1])
	require.Error(t, err)
	assert.False(t, complete)
}

func TestReassemblerKeysBySourceAndManufacturer(t *testing.T) {
	r := NewReassembler()
	mfrA := Manufacturer{ID: [3]byte{0x41, 0, 0}}
	mfrB := Manufacturer{ID: [3]byte{0x42, 0, 0}}

	frame := func(marker byte, payload []byte) Frame {
		return Frame{Manufacturer: mfrA, Payload: append([]byte{marker}, payload...)}
	}

	_, complete, err := r.Feed("dev1", frame(ChunkFirst, []byte{1, 2}))
	require.NoError(t, err)
	require.False(t, complete)

	// Different device, same manufacturer: independent partial state.
	_, complete, err = r.Feed("dev2", frame(ChunkFirst, []byte{9, 9}))
	require.NoError(t, err)
	require.False(t, complete)

	// Different manufacturer on dev1 is also independent; feeding its
	// "last" chunk must not disturb dev1/mfrA's partial.
	got, complete, err := r.Feed("dev1", Frame{Manufacturer: mfrB, Payload: []byte{ChunkSingle, 7}})
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, []byte{7}, got)

	got, complete, err = r.Feed("dev1", frame(ChunkLast, []byte{3, 4}))
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}
