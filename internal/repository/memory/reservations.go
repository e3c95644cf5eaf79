package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
)

type reservationRepo struct {
	store *Store
	tx    *memTx
}

func (r *reservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	r.store.guard(r.tx, func() {
		if _, exists := r.store.reservations[res.ID]; exists {
			err = repository.ErrConflict
			return
		}
		if res.State.IsLive() {
			for _, other := range r.store.reservations {
				if !other.State.IsLive() {
					continue
				}
				if other.TrialID == res.TrialID && other.Slot.Start.Equal(res.Slot.Start) {
					err = &repository.ConflictError{Constraint: repository.ConstraintLiveSlot}
					return
				}
				if other.ParticipantID == res.ParticipantID && other.TrialID == res.TrialID {
					err = &repository.ConflictError{Constraint: repository.ConstraintLiveParticipant}
					return
				}
			}
		}
		r.store.reservations[res.ID] = *res
		id := res.ID
		recordUndo(r.tx, func() { delete(r.store.reservations, id) })
	})
	return err
}

func (r *reservationRepo) Update(ctx context.Context, res *domain.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	r.store.guard(r.tx, func() {
		prev, ok := r.store.reservations[res.ID]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		next := prev
		next.State = res.State
		next.HeldUntil = res.HeldUntil
		next.ConfirmationDueAt = res.ConfirmationDueAt
		next.UpdatedAt = res.UpdatedAt
		r.store.reservations[res.ID] = next
		recordUndo(r.tx, func() { r.store.reservations[prev.ID] = prev })
	})
	return err
}

func (r *reservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		res domain.Reservation
		ok  bool
	)
	r.store.guard(r.tx, func() {
		res, ok = r.store.reservations[id]
	})
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &res, nil
}

// GetForUpdate needs no row lock: the tx already holds the store lock.
func (r *reservationRepo) GetForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.GetByID(ctx, id)
}

func (r *reservationRepo) LockLive(ctx context.Context, scope repository.LiveScope) ([]domain.Reservation, error) {
	return r.filter(ctx, func(res domain.Reservation) bool {
		if !res.State.IsLive() {
			return false
		}
		sameSlot := res.TrialID == scope.TrialID && res.Slot.Start.Equal(scope.SlotStart)
		samePair := res.ParticipantID == scope.ParticipantID && res.TrialID == scope.TrialID
		return sameSlot || samePair
	}, byID)
}

func (r *reservationRepo) ListLiveBySlots(ctx context.Context, trialID string, starts []time.Time) ([]domain.Reservation, error) {
	if len(starts) == 0 {
		return nil, nil
	}
	return r.filter(ctx, func(res domain.Reservation) bool {
		if !res.State.IsLive() || res.TrialID != trialID {
			return false
		}
		for _, start := range starts {
			if res.Slot.Start.Equal(start) {
				return true
			}
		}
		return false
	}, bySlotStart)
}

func (r *reservationRepo) ListLiveByParticipant(ctx context.Context, participantID, trialID string) ([]domain.Reservation, error) {
	return r.filter(ctx, func(res domain.Reservation) bool {
		return res.State.IsLive() && res.ParticipantID == participantID && res.TrialID == trialID
	}, byCreatedAt)
}

func (r *reservationRepo) ListLapsed(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	result, err := r.filter(ctx, func(res domain.Reservation) bool {
		return res.LapsedAt(now)
	}, byUpdatedAt)
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

func (r *reservationRepo) filter(ctx context.Context, keep func(domain.Reservation) bool, less func(a, b domain.Reservation) bool) ([]domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []domain.Reservation
	r.store.guard(r.tx, func() {
		for _, res := range r.store.reservations {
			if keep(res) {
				result = append(result, res)
			}
		}
	})
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result, nil
}

func byID(a, b domain.Reservation) bool { return a.ID < b.ID }

func bySlotStart(a, b domain.Reservation) bool { return a.Slot.Start.Before(b.Slot.Start) }

func byCreatedAt(a, b domain.Reservation) bool { return a.CreatedAt.Before(b.CreatedAt) }

func byUpdatedAt(a, b domain.Reservation) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
