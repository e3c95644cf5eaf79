package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type cursorRepository struct {
	db querier
}

// NewCursorRepository builds repository.
func NewCursorRepository(pool *pgxpool.Pool) CursorRepository {
	return &cursorRepository{db: pool}
}

// Claim takes the lease when it is free, expired or already ours. The
// conditional upsert makes the check and the takeover one statement.
func (r *cursorRepository) Claim(ctx context.Context, name, owner string, ttl time.Duration) (int64, bool, error) {
	const query = `
        INSERT INTO worker_cursors (name, position, leased_by, lease_until, updated_at)
        VALUES ($1, 0, $2, NOW() + ($3::bigint * INTERVAL '1 millisecond'), NOW())
        ON CONFLICT (name) DO UPDATE
        SET leased_by = EXCLUDED.leased_by,
            lease_until = EXCLUDED.lease_until,
            updated_at = NOW()
        WHERE worker_cursors.leased_by IS NULL
           OR worker_cursors.leased_by = EXCLUDED.leased_by
           OR worker_cursors.lease_until < NOW()
        RETURNING position`
	var position int64
	err := r.db.QueryRow(ctx, query, name, owner, ttl.Milliseconds()).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return position, true, nil
}

func (r *cursorRepository) Advance(ctx context.Context, name, owner string, position int64) error {
	const query = `
        UPDATE worker_cursors SET position=$3, updated_at=NOW()
        WHERE name=$1 AND leased_by=$2`
	cmd, err := r.db.Exec(ctx, query, name, owner, position)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *cursorRepository) Release(ctx context.Context, name, owner string) error {
	const query = `
        UPDATE worker_cursors SET leased_by=NULL, lease_until=NULL, updated_at=NOW()
        WHERE name=$1 AND leased_by=$2`
	_, err := r.db.Exec(ctx, query, name, owner)
	return err
}
