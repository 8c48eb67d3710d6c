// ABOUTME: Tests for broadcast fan-out, slow-subscriber drops, and lifecycle.
// ABOUTME: Mirrors the pub/sub semantics the SSE transport relies on.

package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestEmitReachesAllSubscribers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())

	b.Emit(TopicAgentUpdate, []string{"a1"})

	ev1 := recv(t, ch1)
	ev2 := recv(t, ch2)
	assert.Equal(t, TopicAgentUpdate, ev1.Topic)
	assert.Equal(t, TopicAgentUpdate, ev2.Topic)
}

func TestEmitWithNoSubscribersIsCheap(t *testing.T) {
	b := New(nil)
	defer b.Close()
	// Must not panic or block.
	b.Emit(TopicTaskUpdate, map[string]int{"pending": 0})
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background())
	// Overfill the buffer; Emit must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Emit(TopicLog, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}

	// The buffer holds at most subscriberBufferSize events.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.Equal(t, subscriberBufferSize, count)
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background())
	b.Unsubscribe(subID)

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is a no-op.
	b.Unsubscribe(subID)
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseTearsDownAllSubscribers(t *testing.T) {
	b := New(nil)
	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())

	b.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)

	// Subscribing after close yields a closed channel.
	ch3, _ := b.Subscribe(context.Background())
	_, open = <-ch3
	assert.False(t, open)
}
