package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(TopicDeviceConnected)
	b.Publish(TopicDeviceConnected, "dev1")

	select {
	case ev := <-ch:
		assert.Equal(t, "dev1", ev)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, h := b.Subscribe(TopicRouteChanged)
	b.Unsubscribe(TopicRouteChanged, h)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCoalescedTopicKeepsOnlyLatest(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(TopicPlayerPosition)

	b.Publish(TopicPlayerPosition, 1)
	b.Publish(TopicPlayerPosition, 2)
	b.Publish(TopicPlayerPosition, 3)

	select {
	case ev := <-ch:
		assert.Equal(t, 3, ev)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case <-ch:
		t.Fatal("expected only one coalesced event")
	default:
	}
}

func TestPublishNeverBlocksOnOrdinaryFullChannel(t *testing.T) {
	b := New()
	_, _ = b.Subscribe(TopicDeviceError)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(TopicDeviceError, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	require.True(t, true)
}
