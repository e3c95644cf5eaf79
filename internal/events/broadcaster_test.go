package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
)

func testEvent(seq int64) domain.Event {
	return domain.Event{
		ID:             fmt.Sprintf("evt-%d", seq),
		Seq:            seq,
		IdempotencyKey: fmt.Sprintf("key-%d", seq),
		Type:           domain.EventSlotHeld,
		Provenance:     domain.ProvenanceSystem,
		CreatedAt:      time.Unix(seq, 0).UTC(),
	}
}

func TestBroadcasterDeliversInPublishOrder(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{SubscriberBuffer: 16}, zap.NewNop())
	first := b.Subscribe()
	second := b.Subscribe()
	defer b.Unsubscribe(first)
	defer b.Unsubscribe(second)

	for seq := int64(1); seq <= 5; seq++ {
		b.Publish(testEvent(seq))
	}

	for _, sub := range []*Subscription{first, second} {
		for want := int64(1); want <= 5; want++ {
			got := <-sub.Events()
			if got.Seq != want {
				t.Fatalf("subscription %d: expected seq %d, got %d", sub.ID(), want, got.Seq)
			}
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	var drops int
	var mu sync.Mutex
	b := NewBroadcaster(BroadcasterConfig{
		SubscriberBuffer: 2,
		OnDrop: func() {
			mu.Lock()
			drops++
			mu.Unlock()
		},
	}, zap.NewNop())

	slow := b.Subscribe()
	fast := b.Subscribe()
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	received := make(chan int64, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range fast.Events() {
			received <- event.Seq
			if event.Seq == 5 {
				return
			}
		}
	}()

	finished := make(chan struct{})
	go func() {
		for seq := int64(1); seq <= 5; seq++ {
			b.Publish(testEvent(seq))
			// let the fast reader keep up
			time.Sleep(5 * time.Millisecond)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	<-done

	if slow.Dropped() != 3 {
		t.Fatalf("expected slow subscriber to drop 3 events, got %d", slow.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if drops != 3 {
		t.Fatalf("expected drop hook 3 times, got %d", drops)
	}
	if len(received) != 5 {
		t.Fatalf("fast subscriber expected 5 events, got %d", len(received))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{}, nil)
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.SubscriberCount())
	}
	b.Publish(testEvent(1))
}

func TestRelayIgnoresOwnOrigin(t *testing.T) {
	relay := NewRedisRelay(nil, "events", "instance-a", nil)
	other := NewRedisRelay(nil, "events", "instance-b", nil)

	if _, remote, err := relay.decode(`{"origin":"instance-a","seq":4}`); err != nil || remote {
		t.Fatalf("own notice must not count as remote: remote=%v err=%v", remote, err)
	}
	seq, remote, err := other.decode(`{"origin":"instance-a","seq":4}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !remote || seq != 4 {
		t.Fatalf("expected remote head 4, got %d remote=%v", seq, remote)
	}

	if _, _, err := relay.decode("not-json"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, _, err := relay.decode(`{"seq":1}`); err == nil {
		t.Fatalf("expected error for a notice without origin")
	}
}

func TestRelayAnnounceNeverBlocks(t *testing.T) {
	relay := NewRedisRelay(nil, "events", "instance-a", nil)
	for seq := int64(1); seq <= 200; seq++ {
		relay.Announce(seq)
	}
	if got := len(relay.outbound); got != cap(relay.outbound) {
		t.Fatalf("expected a full queue of %d, got %d", cap(relay.outbound), got)
	}
	if first := <-relay.outbound; first != 1 {
		t.Fatalf("expected the oldest queued notice first, got %d", first)
	}
}
