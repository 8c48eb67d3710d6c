// ABOUTME: In-memory fan-out broadcast channel for dashboard push.
// ABOUTME: Fire-and-forget emit; events are dropped for slow subscribers, never blocked on.

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Topics emitted by the core.
const (
	TopicAgentUpdate = "agent_update"
	TopicTaskUpdate  = "task_update"
	TopicLog         = "log"
	TopicMetrics     = "metrics"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event is one broadcast message: a topic name and an arbitrary payload the
// transport serializes for the dashboard.
type Event struct {
	Topic   string
	Payload any
}

// Broadcaster fans emitted events out to every subscriber. Delivery is
// best-effort with no ordering guarantee across subscribers; a full
// subscriber channel drops the event for that subscriber only.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "broadcast"),
	}
}

// Subscribe registers a subscriber for all emitted events. Returns the
// receive channel and a subscription id. The subscription is cleaned up
// automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Emit sends an event to every subscriber. Fire-and-forget: no delivery
// guarantee, and never blocks the caller.
func (b *Broadcaster) Emit(topic string, payload any) {
	b.mu.RLock()
	if len(b.subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "topic", topic)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close tears down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true
	b.logger.Debug("broadcaster closed")
}
