package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingDispatchesInOrderAndAdvances(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)
	s := NewRingScheduler(64, func(ev ScheduledEvent) {
		mu.Lock()
		order = append(order, ev.SinkID)
		mu.Unlock()
		done <- struct{}{}
	})
	defer s.Close()

	nowUS := time.Now().UnixMicro()
	require.NoError(t, s.Submit(ScheduledEvent{DueUS: nowUS, SinkID: "a"}))
	require.NoError(t, s.Submit(ScheduledEvent{DueUS: nowUS, SinkID: "b"}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRingOverflowReportsBackpressureDroppedAndKeepsOldest(t *testing.T) {
	s := NewRingScheduler(16, func(ev ScheduledEvent) {})
	defer s.Close()

	due := int64(1<<62) / 1000 * 1000 // far future, same bucket-relevant ms
	for i := 0; i < BucketCapacity; i++ {
		require.NoError(t, s.Submit(ScheduledEvent{DueUS: due}))
	}
	err := s.Submit(ScheduledEvent{DueUS: due})
	require.Error(t, err)
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, nextPowerOfTwo(0))
	assert.Equal(t, 1, nextPowerOfTwo(1))
	assert.Equal(t, 4, nextPowerOfTwo(3))
	assert.Equal(t, 4096, nextPowerOfTwo(4096))
	assert.Equal(t, 8192, nextPowerOfTwo(4097))
}
