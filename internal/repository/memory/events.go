package memory

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
)

type eventRepo struct {
	store *Store
	tx    *memTx
}

func (r *eventRepo) Append(ctx context.Context, event *domain.Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var (
		created bool
		err     error
	)
	r.store.guard(r.tx, func() {
		if injected := r.store.failNextEventAppend; injected != nil {
			r.store.failNextEventAppend = nil
			err = injected
			return
		}
		if idx, exists := r.store.eventKeys[event.IdempotencyKey]; exists {
			*event = r.store.events[idx]
			return
		}
		r.store.seq++
		event.Seq = r.store.seq
		if len(event.Payload) == 0 {
			event.Payload = []byte(`{}`)
		}
		prevLen := len(r.store.events)
		r.store.events = append(r.store.events, *event)
		r.store.eventKeys[event.IdempotencyKey] = prevLen
		created = true

		key := event.IdempotencyKey
		recordUndo(r.tx, func() {
			r.store.events = r.store.events[:prevLen]
			delete(r.store.eventKeys, key)
			r.store.seq--
		})
	})
	return created, err
}

func (r *eventRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		event domain.Event
		ok    bool
	)
	r.store.guard(r.tx, func() {
		var idx int
		idx, ok = r.store.eventKeys[key]
		if ok {
			event = r.store.events[idx]
		}
	})
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &event, nil
}

func (r *eventRepo) List(ctx context.Context, filter repository.EventFilter) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var result []domain.Event
	r.store.guard(r.tx, func() {
		for _, event := range r.store.events {
			if event.Seq <= filter.AfterSeq {
				continue
			}
			if filter.ReservationID != nil && !equalRef(event.Links.ReservationID, *filter.ReservationID) {
				continue
			}
			if filter.TicketID != nil && !equalRef(event.Links.TicketID, *filter.TicketID) {
				continue
			}
			result = append(result, event)
			if len(result) == limit {
				return
			}
		}
	})
	return result, nil
}

func (r *eventRepo) LastSeq(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq int64
	r.store.guard(r.tx, func() {
		if n := len(r.store.events); n > 0 {
			seq = r.store.events[n-1].Seq
		}
	})
	return seq, nil
}

func equalRef(ref *string, want string) bool {
	return ref != nil && *ref == want
}
