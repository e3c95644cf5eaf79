package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// Publisher receives every freshly appended event.
type Publisher interface {
	Publish(event domain.Event)
}

// Subscription is one observer's live feed. Events arrive in publish order;
// when the buffer is full the event is dropped for this subscriber only and
// Dropped is incremented, so the observer knows to reconcile from history.
type Subscription struct {
	id      uint64
	ch      chan domain.Event
	dropped atomic.Int64
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Events returns the receive side of the feed. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Dropped reports how many events were skipped because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// BroadcasterConfig sizes per-subscriber buffers.
type BroadcasterConfig struct {
	SubscriberBuffer int
	// OnDrop is called whenever a subscriber misses an event.
	OnDrop func()
}

// Broadcaster fans live events out to subscribers. It keeps no history.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	nextID uint64
	buffer int
	onDrop func()
	logger *zap.Logger
}

// NewBroadcaster builds an empty registry.
func NewBroadcaster(cfg BroadcasterConfig, logger *zap.Logger) *Broadcaster {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: cfg.SubscriberBuffer,
		onDrop: cfg.OnDrop,
		logger: logger,
	}
}

// Subscribe registers a new observer. Callers must Unsubscribe when the
// observer goes away.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan domain.Event, b.buffer)}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe deregisters sub and closes its channel. Repeated calls are safe.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers event to every subscriber without blocking. Publishes
// are serialized so all subscribers observe the same order.
func (b *Broadcaster) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Warn("subscriber lagging; event dropped",
				zap.Uint64("subscription_id", sub.id),
				zap.String("event_id", event.ID),
				zap.Int64("seq", event.Seq))
		}
	}
}

// SubscriberCount returns the number of registered observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everyone, ending every live feed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
