package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityDispatchesInDueThenSeqOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)
	s := NewPriorityScheduler(func(ev ScheduledEvent) {
		mu.Lock()
		order = append(order, ev.SinkID)
		mu.Unlock()
		done <- struct{}{}
	}, func() int64 { return time.Now().UnixMicro() })
	defer s.Close()

	now := time.Now().UnixMicro()
	require.NoError(t, s.Submit(ScheduledEvent{DueUS: now, SinkID: "b"}))
	require.NoError(t, s.Submit(ScheduledEvent{DueUS: now, SinkID: "a"}))
	require.NoError(t, s.Submit(ScheduledEvent{DueUS: now + 50_000, SinkID: "c"}))

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestPriorityDrainTimesOutWhenNothingDispatches(t *testing.T) {
	s := NewPriorityScheduler(func(ev ScheduledEvent) {
		// never actually called: block forever to keep the event pending
		select {}
	}, func() int64 { return 0 })
	defer s.Close()

	require.NoError(t, s.Submit(ScheduledEvent{DueUS: 1 << 40}))
	err := s.Drain(20 * time.Millisecond)
	require.Error(t, err)
}

func TestPrioritySubmitAfterCloseFails(t *testing.T) {
	s := NewPriorityScheduler(func(ev ScheduledEvent) {}, func() int64 { return 0 })
	s.Close()
	err := s.Submit(ScheduledEvent{})
	require.Error(t, err)
}
