package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/visit-engine/internal/domain"
)

type coordinatorRepository struct {
	db querier
}

// NewCoordinatorRepository instantiates the repository.
func NewCoordinatorRepository(pool *pgxpool.Pool) CoordinatorRepository {
	return &coordinatorRepository{db: pool}
}

func (r *coordinatorRepository) Create(ctx context.Context, coordinator *domain.Coordinator) error {
	const query = `
        INSERT INTO coordinators (name, email, password_hash, role, active_flag)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		coordinator.Name,
		coordinator.Email,
		coordinator.PasswordHash,
		coordinator.Role,
		coordinator.Active,
	).Scan(&coordinator.ID, &coordinator.CreatedAt, &coordinator.UpdatedAt)
	return mapWriteError(err)
}

func (r *coordinatorRepository) Update(ctx context.Context, coordinator *domain.Coordinator) error {
	const query = `
        UPDATE coordinators
        SET name=$1, email=$2, password_hash=$3, role=$4, active_flag=$5, updated_at=NOW()
        WHERE id=$6`

	cmd, err := r.db.Exec(ctx, query,
		coordinator.Name,
		coordinator.Email,
		coordinator.PasswordHash,
		coordinator.Role,
		coordinator.Active,
		coordinator.ID,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *coordinatorRepository) GetByID(ctx context.Context, id string) (*domain.Coordinator, error) {
	const query = `
        SELECT id, name, email, password_hash, role, active_flag, created_at, updated_at
        FROM coordinators WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *coordinatorRepository) GetByEmail(ctx context.Context, email string) (*domain.Coordinator, error) {
	const query = `
        SELECT id, name, email, password_hash, role, active_flag, created_at, updated_at
        FROM coordinators WHERE LOWER(email)=LOWER($1)`
	return r.fetchSingle(ctx, query, email)
}

func (r *coordinatorRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Coordinator, error) {
	var coordinator domain.Coordinator
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&coordinator.ID,
		&coordinator.Name,
		&coordinator.Email,
		&coordinator.PasswordHash,
		&coordinator.Role,
		&coordinator.Active,
		&coordinator.CreatedAt,
		&coordinator.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &coordinator, nil
}
