package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
)

// EventHandler processes one logged event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event domain.Event) error
}

// FailureRecorder keeps a record of events the worker stopped retrying.
type FailureRecorder interface {
	RecordDeliveryFailure(ctx context.Context, event domain.Event, attempts int, cause error) error
}

// NotificationWorkerConfig names the persisted cursor and bounds retries.
type NotificationWorkerConfig struct {
	// Name keys the persisted cursor.
	Name string
	// Owner identifies this instance in the cursor lease.
	Owner        string
	PollInterval time.Duration
	MaxAttempts  int
	LeaseTTL     time.Duration
	PageSize     int
}

// NotificationWorkerDependencies bundles collaborators for the worker.
type NotificationWorkerDependencies struct {
	History     events.HistorySource
	Cursors     repository.CursorRepository
	Handler     EventHandler
	Failures    FailureRecorder
	Broadcaster *events.Broadcaster
	Config      NotificationWorkerConfig
	Logger      *zap.Logger
}

// NotificationWorker tails the event log and hands every event to the
// handler in sequence order. Live broadcasts only wake it up; the log is the
// source, so events dropped by a lagging subscription are still processed.
// The cursor is persisted under a lease, so a restart resumes where the
// last run stopped and only one instance delivers at a time.
type NotificationWorker struct {
	history     events.HistorySource
	cursors     repository.CursorRepository
	handler     EventHandler
	failures    FailureRecorder
	broadcaster *events.Broadcaster
	name        string
	owner       string
	interval    time.Duration
	maxAttempts int
	leaseTTL    time.Duration
	pageSize    int
	logger      *zap.Logger

	cursor   int64
	attempts map[string]int
}

// NewNotificationWorker creates the worker.
func NewNotificationWorker(deps NotificationWorkerDependencies) *NotificationWorker {
	cfg := deps.Config
	if cfg.Name == "" {
		cfg.Name = "followups"
	}
	if cfg.Owner == "" {
		cfg.Owner = "local"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		history:     deps.History,
		cursors:     deps.Cursors,
		handler:     deps.Handler,
		failures:    deps.Failures,
		broadcaster: deps.Broadcaster,
		name:        cfg.Name,
		owner:       cfg.Owner,
		interval:    cfg.PollInterval,
		maxAttempts: cfg.MaxAttempts,
		leaseTTL:    cfg.LeaseTTL,
		pageSize:    cfg.PageSize,
		logger:      logger.With(zap.String("worker", cfg.Name)),
		attempts:    make(map[string]int),
	}
}

// Run processes events until ctx is cancelled, then hands the lease back.
func (w *NotificationWorker) Run(ctx context.Context) {
	var wake <-chan domain.Event
	if w.broadcaster != nil {
		sub := w.broadcaster.Subscribe()
		defer w.broadcaster.Unsubscribe(sub)
		wake = sub.Events()
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.release()

	for {
		w.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		case <-ticker.C:
		}
	}
}

// Drain claims the cursor and processes every event after it. While
// another instance holds the lease it does nothing. A handler error stops
// the drain on the failed event so it is retried on the next wake-up; after
// MaxAttempts the failure is recorded and the worker moves on.
func (w *NotificationWorker) Drain(ctx context.Context) {
	position, ok, err := w.cursors.Claim(ctx, w.name, w.owner, w.leaseTTL)
	if err != nil {
		w.logger.Warn("notification worker: claim cursor", zap.Error(err))
		return
	}
	if !ok {
		w.logger.Debug("notification worker: cursor leased by another instance")
		return
	}
	w.cursor = position

	for ctx.Err() == nil {
		page, err := w.history.List(ctx, w.cursor, w.pageSize)
		if err != nil {
			w.logger.Warn("notification worker: list events", zap.Error(err))
			return
		}
		for _, event := range page {
			if !w.process(ctx, event) {
				return
			}
			if err := w.cursors.Advance(ctx, w.name, w.owner, event.Seq); err != nil {
				if errors.Is(err, repository.ErrLeaseLost) {
					w.logger.Info("notification worker: cursor taken over", zap.Int64("seq", event.Seq))
				} else {
					w.logger.Warn("notification worker: save cursor", zap.Int64("seq", event.Seq), zap.Error(err))
				}
				return
			}
			w.cursor = event.Seq
		}
		if len(page) < w.pageSize {
			return
		}
	}
}

// process reports whether the cursor may move past event.
func (w *NotificationWorker) process(ctx context.Context, event domain.Event) bool {
	err := w.handler.HandleEvent(ctx, event)
	if err == nil {
		delete(w.attempts, event.ID)
		return true
	}

	w.attempts[event.ID]++
	attempts := w.attempts[event.ID]
	if attempts < w.maxAttempts || w.failures == nil {
		w.logger.Warn("notification worker: handler failed; will retry",
			zap.String("event_id", event.ID),
			zap.Int64("seq", event.Seq),
			zap.Int("attempt", attempts),
			zap.Error(err))
		return false
	}

	if recordErr := w.failures.RecordDeliveryFailure(ctx, event, attempts, err); recordErr != nil {
		w.logger.Warn("notification worker: record delivery failure",
			zap.String("event_id", event.ID),
			zap.Error(recordErr))
		return false
	}
	w.logger.Error("notification worker: giving up on event",
		zap.String("event_id", event.ID),
		zap.Int64("seq", event.Seq),
		zap.Int("attempts", attempts),
		zap.Error(err))
	delete(w.attempts, event.ID)
	return true
}

func (w *NotificationWorker) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.cursors.Release(ctx, w.name, w.owner); err != nil {
		w.logger.Warn("notification worker: release cursor", zap.Error(err))
	}
}

// Cursor returns the last processed sequence number.
func (w *NotificationWorker) Cursor() int64 {
	return w.cursor
}
