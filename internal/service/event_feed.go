package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
)

// EventFeed is the only path from the log to live observers. It reads
// committed events back from the store after a cursor and publishes them
// one at a time, so observers see seq order no matter which transaction
// committed first.
type EventFeed struct {
	store     repository.Store
	publisher events.Publisher
	announce  func(seq int64)
	pageSize  int
	logger    *zap.Logger

	mu     sync.Mutex
	cursor int64
	wake   chan struct{}
}

// EventFeedDependencies bundles collaborators for the feed.
type EventFeedDependencies struct {
	Store     repository.Store
	Publisher events.Publisher
	// Announce receives the new head after every publishing flush. The
	// Redis relay uses it to wake the feeds of other instances.
	Announce func(seq int64)
	PageSize int
	Logger   *zap.Logger
}

// NewEventFeed builds a feed positioned at seq 0. Call Start to skip
// history already in the log.
func NewEventFeed(deps EventFeedDependencies) *EventFeed {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &EventFeed{
		store:     deps.Store,
		publisher: deps.Publisher,
		announce:  deps.Announce,
		pageSize:  pageSize,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Start moves the cursor to the current head of the log.
func (f *EventFeed) Start(ctx context.Context) error {
	if _, err := f.store.SequenceEvents(ctx, f.pageSize); err != nil {
		return fmt.Errorf("sequence events: %w", err)
	}
	head, err := f.store.Events().LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if head > f.cursor {
		f.cursor = head
	}
	return nil
}

// Flush numbers pending events and publishes everything after the cursor.
// It returns once every event committed before the call is published.
func (f *EventFeed) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.cursor
	for {
		if _, err := f.store.SequenceEvents(ctx, f.pageSize); err != nil {
			return fmt.Errorf("sequence events: %w", err)
		}
		page, err := f.store.Events().List(ctx, repository.EventFilter{AfterSeq: f.cursor, Limit: f.pageSize})
		if err != nil {
			return fmt.Errorf("list events after %d: %w", f.cursor, err)
		}
		for _, event := range page {
			f.publisher.Publish(event)
			f.cursor = event.Seq
		}
		if len(page) < f.pageSize {
			break
		}
	}

	if f.cursor > start && f.announce != nil {
		f.announce(f.cursor)
	}
	return nil
}

// Wake asks Run to flush soon. It never blocks.
func (f *EventFeed) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Cursor returns the last published seq.
func (f *EventFeed) Cursor() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Run flushes on every wake-up and at least once per interval until ctx is
// cancelled. It picks up events committed by other instances and retries
// flushes that failed after a local commit.
func (f *EventFeed) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
		case <-ticker.C:
		}
		if err := f.Flush(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("event feed flush failed", zap.Int64("cursor", f.Cursor()), zap.Error(err))
		}
	}
}
