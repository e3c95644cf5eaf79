package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository/memory"
)

func TestConcurrentAppendsArePublishedInSeqOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.broadcaster.Subscribe()
	defer env.broadcaster.Unsubscribe(sub)

	const writers = 200
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.log.Append(ctx, followUpInput(fmt.Sprintf("concurrent:%d", i))); err != nil {
				t.Errorf("Append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var last int64
	for received := 0; received < writers; received++ {
		select {
		case event := <-sub.Events():
			if event.Seq != last+1 {
				t.Fatalf("expected seq %d after %d, got %d", last+1, last, event.Seq)
			}
			last = event.Seq
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d events published", received, writers)
		}
	}
	if sub.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", sub.Dropped())
	}
}

func TestFeedStartSkipsExistingHistory(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	quiet := NewEventLog(EventLogDependencies{Store: store, Logger: zap.NewNop()})
	for _, key := range []string{"old:1", "old:2"} {
		if _, err := quiet.Append(ctx, followUpInput(key)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	broadcaster := events.NewBroadcaster(events.BroadcasterConfig{SubscriberBuffer: 8}, zap.NewNop())
	defer broadcaster.Close()
	var announced []int64
	feed := NewEventFeed(EventFeedDependencies{
		Store:     store,
		Publisher: broadcaster,
		Announce:  func(seq int64) { announced = append(announced, seq) },
	})
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if feed.Cursor() != 2 {
		t.Fatalf("expected cursor at head 2, got %d", feed.Cursor())
	}

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)
	log := NewEventLog(EventLogDependencies{Store: store, Feed: feed, Logger: zap.NewNop()})
	if _, err := log.Append(ctx, followUpInput("new:1")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case event := <-sub.Events():
		if event.Seq != 3 || event.IdempotencyKey != "new:1" {
			t.Fatalf("expected only the new event, got seq %d key %s", event.Seq, event.IdempotencyKey)
		}
	case <-time.After(time.Second):
		t.Fatalf("new event was not published")
	}
	select {
	case event := <-sub.Events():
		t.Fatalf("history must not be re-broadcast, got seq %d", event.Seq)
	default:
	}
	if len(announced) != 1 || announced[0] != 3 {
		t.Fatalf("expected head 3 announced once, got %v", announced)
	}

	// A flush with nothing new publishes and announces nothing.
	if err := feed.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(announced) != 1 {
		t.Fatalf("empty flush announced %v", announced)
	}
}

func TestFeedRunPicksUpEventsWrittenElsewhere(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := events.NewBroadcaster(events.BroadcasterConfig{SubscriberBuffer: 8}, zap.NewNop())
	defer broadcaster.Close()
	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)
	feed := NewEventFeed(EventFeedDependencies{Store: store, Publisher: broadcaster})
	done := make(chan struct{})
	go func() {
		feed.Run(ctx, time.Hour)
		close(done)
	}()

	// Another instance's log shares the store but not this feed.
	elsewhere := NewEventLog(EventLogDependencies{Store: store, Logger: zap.NewNop()})
	if _, err := elsewhere.Append(ctx, followUpInput("remote:1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	feed.Wake()

	select {
	case event := <-sub.Events():
		if event.Type != domain.EventFollowUpRequested || event.Seq != 1 {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("wake-up did not publish the remote event")
	}
	cancel()
	<-done
}
