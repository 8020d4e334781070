package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTicksToMicrosAt120BPM(t *testing.T) {
	// 480 ticks per quarter, 500000 us/quarter (120 BPM): 240 ticks is
	// an eighth note, half of 500000us.
	got := TicksToMicros(240, 480, 500000)
	assert.Equal(t, int64(250000), got)
}

func TestMicrosToTicksInverse(t *testing.T) {
	us := TicksToMicros(960, 480, 500000)
	ticks := MicrosToTicks(us, 480, 500000)
	assert.Equal(t, uint64(960), ticks)
}

func TestFakeClockAdvance(t *testing.T) {
	f := NewFake()
	f.Set(1000)
	f.Advance(2 * time.Millisecond)
	assert.Equal(t, int64(3000), f.NowUS())
}

func TestSystemClockMonotonic(t *testing.T) {
	s := NewSystem()
	a := s.NowUS()
	time.Sleep(time.Millisecond)
	b := s.NowUS()
	assert.Greater(t, b, a)
}
