package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds a Store over a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Reservations() ReservationRepository {
	return &reservationRepository{db: s.pool}
}

func (s *postgresStore) Events() EventRepository {
	return &eventRepository{db: s.pool}
}

func (s *postgresStore) Handoffs() HandoffRepository {
	return &handoffRepository{db: s.pool}
}

func (s *postgresStore) Coordinators() CoordinatorRepository {
	return &coordinatorRepository{db: s.pool}
}

func (s *postgresStore) Cursors() CursorRepository {
	return &cursorRepository{db: s.pool}
}

func (s *postgresStore) SequenceEvents(ctx context.Context, limit int) (int, error) {
	var numbered int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		numbered, err = sequenceEvents(ctx, tx, limit)
		return err
	})
	return numbered, err
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the tx repositories (GetForUpdate, LockLive) scope contention to the rows
// involved; the partial unique indexes catch racing inserts.
func (s *postgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck

	tx := &postgresTx{tx: pgTx}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapWriteError(err))
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

type postgresTx struct {
	tx    pgx.Tx
	hooks []func()
}

func (t *postgresTx) Reservations() ReservationRepository {
	return &reservationRepository{db: t.tx}
}

func (t *postgresTx) Events() EventRepository {
	return &eventRepository{db: t.tx}
}

func (t *postgresTx) Handoffs() HandoffRepository {
	return &handoffRepository{db: t.tx}
}

func (t *postgresTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}
