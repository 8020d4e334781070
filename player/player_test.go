package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddnote/midimind/clock"
	"github.com/oddnote/midimind/midimsg"
)

func buildFile(ticksPerQuarter uint16, events ...midimsg.Event) *midimsg.File {
	tr := midimsg.Track{}
	prev := uint64(0)
	for _, ev := range events {
		delta := uint32(ev.AbsoluteTicks - prev)
		tr.AppendEvent(delta, ev.Message)
		prev = ev.AbsoluteTicks
	}
	tr.AppendEvent(0, midimsg.Message{Kind: midimsg.KindMetaEvent, MetaType: 0x2F})
	return &midimsg.File{
		Header: midimsg.Header{Format: midimsg.Format0, Tracks: 1, TicksPerQuarter: ticksPerQuarter},
		Tracks: []midimsg.Track{tr},
	}
}

func TestLoadRejectsFromPlayingState(t *testing.T) {
	fk := clock.NewFake()
	p := NewPlayer(fk, func(m midimsg.Message) {}, nil)
	defer p.Close()

	file := buildFile(480, midimsg.Event{AbsoluteTicks: 480, Message: midimsg.NoteOn(1, 60, 100, 0)})
	require.NoError(t, p.Load(file))
	require.NoError(t, p.Play())

	err := p.Load(file)
	require.Error(t, err)
}

func TestPlayEmitsEventsRelativeToTempo(t *testing.T) {
	fk := clock.NewFake()
	got := make(chan midimsg.Message, 8)
	p := NewPlayer(fk, func(m midimsg.Message) { got <- m }, nil)
	defer p.Close()

	// 480 ticks/quarter at default 120 BPM (500000 us/quarter) => tick 480
	// is due 500ms after play() wall time.
	file := buildFile(480, midimsg.Event{AbsoluteTicks: 480, Message: midimsg.NoteOn(1, 60, 100, 0)})
	require.NoError(t, p.Load(file))
	require.NoError(t, p.Play())

	// Advance the fake clock past the due time; the player's internal
	// goroutine uses a real time.Timer keyed off wall time it read via
	// fk.NowUS(), so we must also let real wall time pass enough for the
	// timer to fire against the (already-elapsed, per the fake clock)
	// target.
	fk.Advance(500 * time.Millisecond)

	select {
	case m := <-got:
		assert.Equal(t, uint8(60), m.Data1)
	case <-time.After(2 * time.Second):
		t.Fatal("event not emitted")
	}
}

func TestSeekPreservesPlayingState(t *testing.T) {
	fk := clock.NewFake()
	got := make(chan midimsg.Message, 8)
	resetCalls := 0
	p := NewPlayer(fk, func(m midimsg.Message) { got <- m }, func() { resetCalls++ })
	defer p.Close()

	file := buildFile(480,
		midimsg.Event{AbsoluteTicks: 240, Message: midimsg.NoteOn(1, 60, 100, 0)},
		midimsg.Event{AbsoluteTicks: 480, Message: midimsg.NoteOn(1, 64, 100, 0)},
	)
	require.NoError(t, p.Load(file))
	require.NoError(t, p.Play())
	require.NoError(t, p.Seek(240))

	assert.Equal(t, StatePlaying, p.Status().State)
	assert.Equal(t, 1, resetCalls)
	assert.Equal(t, uint64(240), p.Status().PositionTick)
}

func TestPauseResumePreservesPosition(t *testing.T) {
	fk := clock.NewFake()
	p := NewPlayer(fk, func(m midimsg.Message) {}, nil)
	defer p.Close()

	file := buildFile(480, midimsg.Event{AbsoluteTicks: 480, Message: midimsg.NoteOn(1, 60, 100, 0)})
	require.NoError(t, p.Load(file))
	require.NoError(t, p.Play())
	require.NoError(t, p.Pause())
	assert.Equal(t, StatePaused, p.Status().State)
	pos := p.Status().PositionTick

	require.NoError(t, p.Play())
	assert.Equal(t, StatePlaying, p.Status().State)
	assert.Equal(t, pos, p.Status().PositionTick)
}

func TestStopEmitsResetAllAndZeroesPosition(t *testing.T) {
	fk := clock.NewFake()
	resetCalls := 0
	p := NewPlayer(fk, func(m midimsg.Message) {}, func() { resetCalls++ })
	defer p.Close()

	file := buildFile(480, midimsg.Event{AbsoluteTicks: 480, Message: midimsg.NoteOn(1, 60, 100, 0)})
	require.NoError(t, p.Load(file))
	require.NoError(t, p.Play())
	require.NoError(t, p.Stop())

	assert.Equal(t, 1, resetCalls)
	assert.Equal(t, uint64(0), p.Status().PositionTick)
	assert.Equal(t, StateStopped, p.Status().State)
}

func TestTransposeDropsOutOfRangeAtEmitTime(t *testing.T) {
	fk := clock.NewFake()
	p := NewPlayer(fk, func(m midimsg.Message) {}, nil)
	defer p.Close()
	p.SetTranspose(1)

	out := p.applyTranspose(midimsg.NoteOn(1, 127, 100, 0))
	assert.Nil(t, out)

	out = p.applyTranspose(midimsg.NoteOn(1, 60, 100, 0))
	require.NotNil(t, out)
	assert.Equal(t, uint8(61), out.Data1)
}

func TestInvalidTransitionsReturnInvalidState(t *testing.T) {
	fk := clock.NewFake()
	p := NewPlayer(fk, func(m midimsg.Message) {}, nil)
	defer p.Close()

	assert.Error(t, p.Play())  // Stopped -> Playing is not a valid transition
	assert.Error(t, p.Pause()) // Stopped -> Paused is not valid
	assert.Error(t, p.Stop())  // Stopped -> Stopped is not valid
}
