package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// EventLog is the single write path for domain events.
type EventLog struct {
	store  repository.Store
	feed   *EventFeed
	now    Clock
	logger *zap.Logger
}

// EventLogDependencies bundles collaborators for the event log. Feed wins
// over Publisher; a bare Publisher gets a feed of its own.
type EventLogDependencies struct {
	Store     repository.Store
	Feed      *EventFeed
	Publisher events.Publisher
	Now       Clock
	Logger    *zap.Logger
}

// AppendInput describes one event. Payload is marshalled to JSON unless it
// is already a json.RawMessage.
type AppendInput struct {
	Type           domain.EventType
	Payload        any
	IdempotencyKey string
	Provenance     domain.Provenance
	Links          domain.EventLinks
}

// NewEventLog constructs the log.
func NewEventLog(deps EventLogDependencies) *EventLog {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	feed := deps.Feed
	if feed == nil && deps.Publisher != nil {
		feed = NewEventFeed(EventFeedDependencies{Store: deps.Store, Publisher: deps.Publisher, Logger: logger})
	}
	return &EventLog{
		store:  deps.Store,
		feed:   feed,
		now:    deps.Now.orDefault(),
		logger: logger,
	}
}

// Append records a standalone event in its own transaction. A repeated
// idempotency key returns the original event and publishes nothing.
func (l *EventLog) Append(ctx context.Context, input AppendInput) (*domain.Event, error) {
	var event *domain.Event
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		event, err = l.AppendTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return event, nil
}

// AppendTx records an event inside the caller's transaction, so the event
// and the state change it describes commit or roll back together. Fresh
// events reach the feed once the transaction commits; the feed, not this
// call, decides publish order.
func (l *EventLog) AppendTx(ctx context.Context, tx repository.Tx, input AppendInput) (*domain.Event, error) {
	if err := validateAppend(input); err != nil {
		return nil, err
	}
	payload, err := encodePayload(input.Payload)
	if err != nil {
		return nil, apperrors.NewValidationError("payload is not serializable", map[string]any{"event_type": input.Type})
	}

	event := &domain.Event{
		ID:             uuid.NewString(),
		IdempotencyKey: input.IdempotencyKey,
		Type:           input.Type,
		Payload:        payload,
		Provenance:     input.Provenance,
		Links:          input.Links,
		CreatedAt:      l.now().UTC(),
	}

	created, err := tx.Events().Append(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("append %s event: %w", input.Type, err)
	}
	if !created {
		l.logger.Debug("duplicate event append ignored",
			zap.String("idempotency_key", input.IdempotencyKey),
			zap.String("event_id", event.ID))
		return event, nil
	}

	if l.feed != nil {
		flushCtx := context.WithoutCancel(ctx)
		tx.AfterCommit(func() {
			if err := l.feed.Flush(flushCtx); err != nil {
				l.logger.Warn("event feed flush after commit failed; the feed loop will retry",
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		})
	}
	return event, nil
}

// List pages the log in sequence order after afterSeq.
func (l *EventLog) List(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	return l.ListFiltered(ctx, repository.EventFilter{AfterSeq: afterSeq, Limit: limit})
}

// ListFiltered pages the log with optional reservation or ticket filters.
func (l *EventLog) ListFiltered(ctx context.Context, filter repository.EventFilter) ([]domain.Event, error) {
	if filter.AfterSeq < 0 {
		return nil, apperrors.NewValidationError("after must not be negative", nil)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	list, err := l.store.Events().List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// GetByIdempotencyKey returns the event recorded for key.
func (l *EventLog) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	event, err := l.store.Events().GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, notFound(err, "event", "idempotency_key", key)
	}
	return event, nil
}

func validateAppend(input AppendInput) error {
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return apperrors.NewValidationError("idempotency key is required", nil)
	}
	if !input.Type.IsValid() {
		return apperrors.NewValidationError("unknown event type", map[string]any{"event_type": input.Type})
	}
	if !input.Provenance.IsValid() {
		return apperrors.NewValidationError("unknown provenance", map[string]any{"provenance": input.Provenance})
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid raw payload")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
