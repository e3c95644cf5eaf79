package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/visit-engine/internal/domain"
)

const reservationColumns = `id, participant_id, trial_id, slot_start, slot_duration_seconds, state,
               held_until, confirmation_due_at, created_at, updated_at`

const liveStates = `('held','booked','confirmed')`

type reservationRepository struct {
	db querier
}

// NewReservationRepository instantiates repository.
func NewReservationRepository(pool *pgxpool.Pool) ReservationRepository {
	return &reservationRepository{db: pool}
}

func (r *reservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	const query = `
        INSERT INTO reservations (id, participant_id, trial_id, slot_start, slot_duration_seconds, state,
            held_until, confirmation_due_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.Exec(ctx, query,
		res.ID,
		res.ParticipantID,
		res.TrialID,
		res.Slot.Start,
		int64(res.Slot.Duration/time.Second),
		res.State,
		res.HeldUntil,
		res.ConfirmationDueAt,
		res.CreatedAt,
		res.UpdatedAt,
	)
	return mapWriteError(err)
}

func (r *reservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	const query = `
        UPDATE reservations SET state=$1, held_until=$2, confirmation_due_at=$3, updated_at=$4
        WHERE id=$5`
	cmd, err := r.db.Exec(ctx, query,
		res.State,
		res.HeldUntil,
		res.ConfirmationDueAt,
		res.UpdatedAt,
		res.ID,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *reservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *reservationRepository) GetForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id=$1 FOR UPDATE`
	return r.fetchSingle(ctx, query, id)
}

func (r *reservationRepository) LockLive(ctx context.Context, scope LiveScope) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
        WHERE state IN ` + liveStates + `
          AND ((trial_id=$1 AND slot_start=$2) OR (participant_id=$3 AND trial_id=$1))
        ORDER BY id
        FOR UPDATE`
	rows, err := r.db.Query(ctx, query, scope.TrialID, scope.SlotStart, scope.ParticipantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (r *reservationRepository) ListLiveBySlots(ctx context.Context, trialID string, starts []time.Time) ([]domain.Reservation, error) {
	if len(starts) == 0 {
		return nil, nil
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations
        WHERE state IN ` + liveStates + ` AND trial_id=$1 AND slot_start = ANY($2)
        ORDER BY slot_start`
	rows, err := r.db.Query(ctx, query, trialID, starts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (r *reservationRepository) ListLiveByParticipant(ctx context.Context, participantID, trialID string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
        WHERE state IN ` + liveStates + ` AND participant_id=$1 AND trial_id=$2
        ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, participantID, trialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (r *reservationRepository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
        WHERE (state='held' AND held_until <= $1)
           OR (state='booked' AND confirmation_due_at <= $1)
        ORDER BY updated_at
        LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, defaultLimit(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func (r *reservationRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res             domain.Reservation
		durationSeconds int64
	)
	if err := row.Scan(
		&res.ID,
		&res.ParticipantID,
		&res.TrialID,
		&res.Slot.Start,
		&durationSeconds,
		&res.State,
		&res.HeldUntil,
		&res.ConfirmationDueAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	res.Slot.Duration = time.Duration(durationSeconds) * time.Second
	return &res, nil
}

func scanReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	var result []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
	}
	return result, rows.Err()
}
