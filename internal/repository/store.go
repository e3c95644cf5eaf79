package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// ErrConflict is returned when a write violates a uniqueness constraint: a
// second live reservation for a slot or participant-trial pair, or a reused
// handoff source key.
var ErrConflict = errors.New("unique constraint violated")

// Unique constraints callers tell apart when a write conflicts.
const (
	ConstraintLiveSlot         = "reservations_live_slot_uidx"
	ConstraintLiveParticipant  = "reservations_live_participant_uidx"
	ConstraintHandoffSourceKey = "handoff_tickets_source_key_uidx"
)

// ConflictError names the constraint behind an ErrConflict.
type ConflictError struct {
	Constraint string
}

func (e *ConflictError) Error() string {
	if e.Constraint == "" {
		return ErrConflict.Error()
	}
	return ErrConflict.Error() + ": " + e.Constraint
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConflictConstraint returns the constraint named by err, or "" when err is
// not a conflict or does not say.
func ConflictConstraint(err error) string {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Constraint
	}
	return ""
}

// Store is the persistence boundary handed to every service. Reads outside a
// transaction go through the accessor methods; multi-step writes go through
// WithinTx so state changes and their events commit or roll back together.
type Store interface {
	Reservations() ReservationRepository
	Events() EventRepository
	Handoffs() HandoffRepository
	Coordinators() CoordinatorRepository
	Cursors() CursorRepository
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// SequenceEvents numbers committed events that have no seq yet, in
	// insertion order, and reports how many it numbered. Readers only see
	// numbered events, so a cursor never skips a slow transaction's event.
	SequenceEvents(ctx context.Context, limit int) (int, error)
	Ping(ctx context.Context) error
}

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Reservations() ReservationRepository
	Events() EventRepository
	Handoffs() HandoffRepository
	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks are dropped on rollback.
	AfterCommit(fn func())
}

// LiveScope selects the live reservations that would collide with a new
// reservation: same trial and slot start, or same participant and trial.
type LiveScope struct {
	TrialID       string
	SlotStart     time.Time
	ParticipantID string
}

// ReservationRepository persists slot reservations.
type ReservationRepository interface {
	Create(ctx context.Context, reservation *domain.Reservation) error
	Update(ctx context.Context, reservation *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	// GetForUpdate loads and row-locks a reservation for the rest of the tx.
	GetForUpdate(ctx context.Context, id string) (*domain.Reservation, error)
	// LockLive row-locks every stored-live reservation in scope, in id order.
	LockLive(ctx context.Context, scope LiveScope) ([]domain.Reservation, error)
	ListLiveBySlots(ctx context.Context, trialID string, starts []time.Time) ([]domain.Reservation, error)
	ListLiveByParticipant(ctx context.Context, participantID, trialID string) ([]domain.Reservation, error)
	// ListLapsed returns stored-live reservations whose hold or confirmation
	// deadline is at or before now.
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}

// EventFilter pages through the log in sequence order.
type EventFilter struct {
	AfterSeq      int64
	ReservationID *string
	TicketID      *string
	Limit         int
}

// EventRepository is the append-only event store.
type EventRepository interface {
	// Append inserts event unless its idempotency key already exists. When
	// the key exists, event is overwritten with the stored row and created
	// is false. A fresh event may carry Seq 0 until it is sequenced.
	Append(ctx context.Context, event *domain.Event) (created bool, err error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error)
	// List returns sequenced events only, in seq order.
	List(ctx context.Context, filter EventFilter) ([]domain.Event, error)
	// LastSeq returns the highest assigned seq, or 0 for an empty log.
	LastSeq(ctx context.Context) (int64, error)
}

// WorkerCursor is a log consumer's persisted position plus the lease that
// makes one instance its only reader.
type WorkerCursor struct {
	Name       string
	Position   int64
	LeasedBy   string
	LeaseUntil time.Time
}

// CursorRepository persists log consumer positions.
type CursorRepository interface {
	// Claim leases the named cursor to owner until now+ttl and returns its
	// position. ok is false while another owner holds an unexpired lease.
	Claim(ctx context.Context, name, owner string, ttl time.Duration) (position int64, ok bool, err error)
	// Advance stores position if owner still holds the lease.
	Advance(ctx context.Context, name, owner string, position int64) error
	// Release ends owner's lease early so another instance can take over.
	Release(ctx context.Context, name, owner string) error
}

// ErrLeaseLost is returned by Advance when another owner took the cursor.
var ErrLeaseLost = errors.New("cursor lease lost")

// HandoffFilter captures coordinator queue queries.
type HandoffFilter struct {
	Statuses      []domain.HandoffStatus
	Severities    []domain.Severity
	AssigneeID    *string
	ParticipantID *string
	Limit         int
	Offset        int
}

// HandoffRepository persists escalation tickets.
type HandoffRepository interface {
	Create(ctx context.Context, ticket *domain.HandoffTicket) error
	Update(ctx context.Context, ticket *domain.HandoffTicket) error
	GetByID(ctx context.Context, id string) (*domain.HandoffTicket, error)
	GetForUpdate(ctx context.Context, id string) (*domain.HandoffTicket, error)
	GetBySourceKey(ctx context.Context, key string) (*domain.HandoffTicket, error)
	List(ctx context.Context, filter HandoffFilter) ([]domain.HandoffTicket, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.HandoffTicket, error)
	HasStopContact(ctx context.Context, participantID string) (bool, error)
}

// CoordinatorRepository handles persistence for coordinators.
type CoordinatorRepository interface {
	Create(ctx context.Context, coordinator *domain.Coordinator) error
	Update(ctx context.Context, coordinator *domain.Coordinator) error
	GetByID(ctx context.Context, id string) (*domain.Coordinator, error)
	GetByEmail(ctx context.Context, email string) (*domain.Coordinator, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &ConflictError{Constraint: pgErr.ConstraintName}
	}
	return err
}

func defaultLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
