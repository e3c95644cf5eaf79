package memory

import (
	"context"
	"time"

	"github.com/spec-kit/visit-engine/internal/repository"
)

type cursorRepo struct {
	store *Store
}

func (r *cursorRepo) Claim(ctx context.Context, name, owner string, ttl time.Duration) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	cursor, exists := r.store.cursors[name]
	if exists && cursor.LeasedBy != owner && cursor.LeaseUntil.After(now) {
		return 0, false, nil
	}
	cursor.Name = name
	cursor.LeasedBy = owner
	cursor.LeaseUntil = now.Add(ttl)
	r.store.cursors[name] = cursor
	return cursor.Position, true, nil
}

func (r *cursorRepo) Advance(ctx context.Context, name, owner string, position int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cursor, exists := r.store.cursors[name]
	if !exists || cursor.LeasedBy != owner {
		return repository.ErrLeaseLost
	}
	cursor.Position = position
	r.store.cursors[name] = cursor
	return nil
}

func (r *cursorRepo) Release(ctx context.Context, name, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cursor, exists := r.store.cursors[name]
	if !exists || cursor.LeasedBy != owner {
		return nil
	}
	cursor.LeasedBy = ""
	cursor.LeaseUntil = time.Time{}
	r.store.cursors[name] = cursor
	return nil
}
