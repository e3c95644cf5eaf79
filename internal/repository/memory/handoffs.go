package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
)

type handoffRepo struct {
	store *Store
	tx    *memTx
}

func (r *handoffRepo) Create(ctx context.Context, ticket *domain.HandoffTicket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	r.store.guard(r.tx, func() {
		if _, exists := r.store.tickets[ticket.ID]; exists {
			err = repository.ErrConflict
			return
		}
		if ticket.SourceKey != nil {
			if _, exists := r.store.ticketKeys[*ticket.SourceKey]; exists {
				err = &repository.ConflictError{Constraint: repository.ConstraintHandoffSourceKey}
				return
			}
			r.store.ticketKeys[*ticket.SourceKey] = ticket.ID
		}
		r.store.tickets[ticket.ID] = *ticket
		id, key := ticket.ID, ticket.SourceKey
		recordUndo(r.tx, func() {
			delete(r.store.tickets, id)
			if key != nil {
				delete(r.store.ticketKeys, *key)
			}
		})
	})
	return err
}

func (r *handoffRepo) Update(ctx context.Context, ticket *domain.HandoffTicket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	r.store.guard(r.tx, func() {
		prev, ok := r.store.tickets[ticket.ID]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		next := prev
		next.Status = ticket.Status
		next.AssigneeID = ticket.AssigneeID
		next.Resolution = ticket.Resolution
		next.ResolvedBy = ticket.ResolvedBy
		next.UpdatedAt = ticket.UpdatedAt
		next.ResolvedAt = ticket.ResolvedAt
		r.store.tickets[ticket.ID] = next
		recordUndo(r.tx, func() { r.store.tickets[prev.ID] = prev })
	})
	return err
}

func (r *handoffRepo) GetByID(ctx context.Context, id string) (*domain.HandoffTicket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		ticket domain.HandoffTicket
		ok     bool
	)
	r.store.guard(r.tx, func() {
		ticket, ok = r.store.tickets[id]
	})
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ticket, nil
}

func (r *handoffRepo) GetForUpdate(ctx context.Context, id string) (*domain.HandoffTicket, error) {
	return r.GetByID(ctx, id)
}

func (r *handoffRepo) GetBySourceKey(ctx context.Context, key string) (*domain.HandoffTicket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		ticket domain.HandoffTicket
		ok     bool
	)
	r.store.guard(r.tx, func() {
		var id string
		if id, ok = r.store.ticketKeys[key]; ok {
			ticket, ok = r.store.tickets[id]
		}
	})
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ticket, nil
}

func (r *handoffRepo) List(ctx context.Context, filter repository.HandoffFilter) ([]domain.HandoffTicket, error) {
	result, err := r.filter(ctx, func(t domain.HandoffTicket) bool {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			return false
		}
		if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, t.Severity) {
			return false
		}
		if filter.AssigneeID != nil && !equalRef(t.AssigneeID, *filter.AssigneeID) {
			return false
		}
		if filter.ParticipantID != nil && t.ParticipantID != *filter.ParticipantID {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *handoffRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.HandoffTicket, error) {
	result, err := r.filter(ctx, func(t domain.HandoffTicket) bool {
		return t.OverdueAt(now)
	})
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *handoffRepo) HasStopContact(ctx context.Context, participantID string) (bool, error) {
	result, err := r.filter(ctx, func(t domain.HandoffTicket) bool {
		return t.ParticipantID == participantID && t.Severity == domain.SeverityStopContact
	})
	if err != nil {
		return false, err
	}
	return len(result) > 0, nil
}

func (r *handoffRepo) filter(ctx context.Context, keep func(domain.HandoffTicket) bool) ([]domain.HandoffTicket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []domain.HandoffTicket
	r.store.guard(r.tx, func() {
		for _, ticket := range r.store.tickets {
			if keep(ticket) {
				result = append(result, ticket)
			}
		}
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueAt.Equal(result[j].DueAt) {
			return result[i].DueAt.Before(result[j].DueAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func containsStatus(list []domain.HandoffStatus, status domain.HandoffStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

func containsSeverity(list []domain.Severity, severity domain.Severity) bool {
	for _, candidate := range list {
		if candidate == severity {
			return true
		}
	}
	return false
}
