package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
)

type coordinatorRepo struct {
	store *Store
}

func (r *coordinatorRepo) Create(ctx context.Context, coordinator *domain.Coordinator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.coordinators {
		if strings.EqualFold(existing.Email, coordinator.Email) {
			return repository.ErrConflict
		}
	}
	if coordinator.ID == "" {
		coordinator.ID = uuid.NewString()
	}
	now := time.Now()
	coordinator.CreatedAt = now
	coordinator.UpdatedAt = now
	r.store.coordinators[coordinator.ID] = *coordinator
	return nil
}

func (r *coordinatorRepo) Update(ctx context.Context, coordinator *domain.Coordinator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.coordinators[coordinator.ID]; !ok {
		return pgx.ErrNoRows
	}
	coordinator.UpdatedAt = time.Now()
	r.store.coordinators[coordinator.ID] = *coordinator
	return nil
}

func (r *coordinatorRepo) GetByID(ctx context.Context, id string) (*domain.Coordinator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	coordinator, ok := r.store.coordinators[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &coordinator, nil
}

func (r *coordinatorRepo) GetByEmail(ctx context.Context, email string) (*domain.Coordinator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, coordinator := range r.store.coordinators {
		if strings.EqualFold(coordinator.Email, email) {
			found := coordinator
			return &found, nil
		}
	}
	return nil, pgx.ErrNoRows
}
