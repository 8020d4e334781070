package midimsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteOnVelocityZeroCanonicalizesToNoteOff(t *testing.T) {
	m := NoteOn(1, 60, 0, 0)
	assert.Equal(t, KindNoteOff, m.Kind)
	assert.Equal(t, uint8(60), m.Data1)
}

func TestEncodeDecodeChannelVoiceRoundTrip(t *testing.T) {
	m := NoteOn(3, 64, 100, 0)
	buf, err := Encode(m)
	require.NoError(t, err)
	require.Len(t, buf, 3)
	assert.Equal(t, byte(0x92), buf[0]) // NoteOn | channel 2 (0-based)

	d := NewDecoder()
	got, n, err := d.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, m.Kind, got.Kind)
	assert.Equal(t, m.Channel, got.Channel)
	assert.Equal(t, m.Data1, got.Data1)
	assert.Equal(t, m.Data2, got.Data2)
}

func TestDecodeRunningStatus(t *testing.T) {
	d := NewDecoder()
	first := []byte{0x90, 60, 100}
	m1, n1, err := d.Decode(first)
	require.NoError(t, err)
	require.Equal(t, 3, n1)
	assert.Equal(t, KindNoteOn, m1.Kind)

	second := []byte{64, 90} // no status byte; reuses running status 0x90
	m2, n2, err := d.Decode(second)
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
	assert.Equal(t, KindNoteOn, m2.Kind)
	assert.Equal(t, uint8(64), m2.Data1)
}

func TestEncodeChannelOutOfRange(t *testing.T) {
	m := Message{Kind: KindNoteOn, Channel: 0, Data1: 60, Data2: 10}
	_, err := Encode(m)
	require.Error(t, err)
}

func TestDecodeSysEx(t *testing.T) {
	buf := []byte{0xF0, 0x7D, 0x01, 0x02, 0xF7}
	d := NewDecoder()
	m, n, err := d.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, KindSysEx, m.Kind)
	assert.Equal(t, []byte{0x7D, 0x01, 0x02}, m.Raw)
}

func TestDecodeTruncated(t *testing.T) {
	d := NewDecoder()
	_, _, err := d.Decode([]byte{0x90, 60})
	require.Error(t, err)
}
