package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddnote/midimind/midimsg"
)

func TestChannelFilterAndTranspose(t *testing.T) {
	chain := NewChain(NewChannelFilter(1), NewTranspose(12))

	out := chain.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	require.Len(t, out, 1)
	assert.Equal(t, uint8(72), out[0].Data1)

	out = chain.Process(midimsg.NoteOn(2, 60, 100, 0), 0)
	assert.Empty(t, out)
}

func TestTransposeDropsOutOfRangeRatherThanWrap(t *testing.T) {
	tr := NewTranspose(1)
	out := tr.Process(midimsg.NoteOn(1, 127, 100, 0), 0)
	assert.Empty(t, out)

	out = tr.Process(midimsg.NoteOn(1, 126, 100, 0), 0)
	require.Len(t, out, 1)
	assert.Equal(t, uint8(127), out[0].Data1)
}

func TestVelocityLinearClamps(t *testing.T) {
	v := NewVelocity(CurveLinear, 2.0)
	out := v.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	require.Len(t, out, 1)
	assert.Equal(t, uint8(127), out[0].Data2)
}

func TestArpeggiatorUpPatternTiming(t *testing.T) {
	arp := NewArpeggiator(PatternUp, 500_000)

	arp.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	arp.Process(midimsg.NoteOn(1, 64, 100, 10_000), 10_000)
	arp.Process(midimsg.NoteOn(1, 67, 100, 20_000), 20_000)

	var sounding []uint8
	for step := int64(1); step <= 4; step++ {
		now := step * 500_000
		for _, m := range arp.Tick(now) {
			if m.Kind == midimsg.KindNoteOn {
				sounding = append(sounding, m.Data1)
			}
		}
	}
	assert.Equal(t, []uint8{60, 64, 67, 60}, sounding)
}

func TestArpeggiatorResetReleasesCurrentNote(t *testing.T) {
	arp := NewArpeggiator(PatternUp, 100)
	arp.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	arp.Tick(100)

	out := arp.Reset()
	require.Len(t, out, 1)
	assert.Equal(t, midimsg.KindNoteOff, out[0].Kind)
	assert.Equal(t, uint8(60), out[0].Data1)
}

func TestDelaySchedulesDecayingEchoes(t *testing.T) {
	d := NewDelay(1000, 2, 0.5)
	immediate := d.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	require.Len(t, immediate, 1)

	first := d.Tick(999)
	assert.Empty(t, first)

	second := d.Tick(1000)
	require.Len(t, second, 1)
	assert.Equal(t, uint8(50), second[0].Data2)

	third := d.Tick(2000)
	require.Len(t, third, 1)
	assert.Equal(t, uint8(25), third[0].Data2)
}

func TestChordAddsIntervalsAndDropsOutOfRange(t *testing.T) {
	c := NewChord(4, 7, 100)
	out := c.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	require.Len(t, out, 3) // root + 2 in-range voices, the +100 voice dropped
	assert.Equal(t, uint8(60), out[0].Data1)
	assert.Equal(t, uint8(64), out[1].Data1)
	assert.Equal(t, uint8(67), out[2].Data1)
}

func TestChainResetAggregatesAllStageReleases(t *testing.T) {
	arp := NewArpeggiator(PatternUp, 100)
	chain := NewChain(NewChannelFilter(1), arp)
	chain.Process(midimsg.NoteOn(1, 60, 100, 0), 0)
	arp.Tick(100)

	out := chain.Reset()
	require.Len(t, out, 1)
	assert.Equal(t, midimsg.KindNoteOff, out[0].Kind)
}
