// Package memory provides an in-process Store used when no Postgres DSN is
// configured and by the service tests. Transactions are serialized behind a
// single mutex and rolled back through an undo journal, which makes the
// uniqueness checks below equivalent to the Postgres partial unique indexes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
)

// Store keeps every table in maps guarded by mu.
type Store struct {
	mu sync.Mutex

	reservations map[string]domain.Reservation
	events       []domain.Event
	eventKeys    map[string]int
	tickets      map[string]domain.HandoffTicket
	ticketKeys   map[string]string
	coordinators map[string]domain.Coordinator
	cursors      map[string]repository.WorkerCursor
	seq          int64
	now          func() time.Time

	// failNextEventAppend makes the next Events().Append fail; tests use it
	// to prove that state changes roll back with their event.
	failNextEventAppend error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		reservations: make(map[string]domain.Reservation),
		eventKeys:    make(map[string]int),
		tickets:      make(map[string]domain.HandoffTicket),
		ticketKeys:   make(map[string]string),
		coordinators: make(map[string]domain.Coordinator),
		cursors:      make(map[string]repository.WorkerCursor),
		now:          time.Now,
	}
}

// SetClock replaces the clock used for cursor leases.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Reservations() repository.ReservationRepository {
	return &reservationRepo{store: s}
}

func (s *Store) Events() repository.EventRepository {
	return &eventRepo{store: s}
}

func (s *Store) Handoffs() repository.HandoffRepository {
	return &handoffRepo{store: s}
}

func (s *Store) Coordinators() repository.CoordinatorRepository {
	return &coordinatorRepo{store: s}
}

func (s *Store) Cursors() repository.CursorRepository {
	return &cursorRepo{store: s}
}

// SequenceEvents has nothing to do here: seq is assigned under the store
// lock, so commit order already matches seq order.
func (s *Store) SequenceEvents(ctx context.Context, _ int) (int, error) {
	return 0, ctx.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// FailNextEventAppend injects a storage failure into the next event append.
func (s *Store) FailNextEventAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextEventAppend = err
}

// EventCount returns the number of stored events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// WithinTx runs fn while holding the store lock. Any error reverts every
// write made through tx; after-commit hooks run once the lock is released.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s}

	s.mu.Lock()
	err := fn(ctx, tx)
	if err != nil {
		tx.rollback()
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

type memTx struct {
	store *Store
	undo  []func()
	hooks []func()
}

func (t *memTx) Reservations() repository.ReservationRepository {
	return &reservationRepo{store: t.store, tx: t}
}

func (t *memTx) Events() repository.EventRepository {
	return &eventRepo{store: t.store, tx: t}
}

func (t *memTx) Handoffs() repository.HandoffRepository {
	return &handoffRepo{store: t.store, tx: t}
}

func (t *memTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.hooks = nil
}

// guard runs fn under the store lock unless the caller is inside a tx that
// already holds it.
func (s *Store) guard(tx *memTx, fn func()) {
	if tx != nil {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// recordUndo registers fn on tx; outside a tx writes are final.
func recordUndo(tx *memTx, fn func()) {
	if tx != nil {
		tx.record(fn)
	}
}
