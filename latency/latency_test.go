package latency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oddnote/midimind/midimsg"
)

func TestAdjustSubtractsProfileDelay(t *testing.T) {
	c := NewCompensator()
	c.SetProfile("sink1", NewStaticProfile(5000))

	adjusted, late := c.Adjust("sink1", midimsg.NoteOn(1, 60, 100, 10_000), 0)
	assert.Equal(t, int64(5000), adjusted)
	assert.False(t, late)
}

func TestAdjustMarksLateWithoutBlocking(t *testing.T) {
	c := NewCompensator()
	c.SetProfile("sink1", NewStaticProfile(5000))

	adjusted, late := c.Adjust("sink1", midimsg.NoteOn(1, 60, 100, 1000), 10_000)
	assert.Equal(t, int64(-4000), adjusted)
	assert.True(t, late)
	assert.Equal(t, int64(1), c.LateCount())
}

func TestUnknownSinkHasZeroDelay(t *testing.T) {
	c := NewCompensator()
	adjusted, late := c.Adjust("unknown", midimsg.NoteOn(1, 60, 100, 1000), 0)
	assert.Equal(t, int64(1000), adjusted)
	assert.False(t, late)
}

func TestStaticProfileKindOverride(t *testing.T) {
	p := NewStaticProfile(1000).WithKind(midimsg.KindNoteOff, 9000)
	assert.Equal(t, int64(1000), p.DelayUS(midimsg.KindNoteOn, 1))
	assert.Equal(t, int64(9000), p.DelayUS(midimsg.KindNoteOff, 1))
}
