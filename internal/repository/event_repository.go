package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// seq stays NULL until the sequencer numbers the row; unsequenced rows
// scan as Seq 0 and are invisible to List.
const eventColumns = `COALESCE(seq, 0), id, idempotency_key, event_type, payload, provenance,
               reservation_id, participant_id, trial_id, conversation_id, ticket_id, created_at`

// eventSequencerLock serializes sequencer runs across instances. Only the
// short numbering transaction takes it; appends never do.
const eventSequencerLock int64 = 0x76697369745f7371

const sequenceEventsSQL = `
        WITH head AS (
            SELECT COALESCE(MAX(seq), 0) AS top FROM events
        ), pending AS (
            SELECT id, row_number() OVER (ORDER BY append_id) AS n
            FROM events
            WHERE seq IS NULL
            ORDER BY append_id
            LIMIT $1
        )
        UPDATE events e
        SET seq = head.top + pending.n
        FROM pending, head
        WHERE e.id = pending.id`

type eventRepository struct {
	db querier
}

// NewEventRepository builds repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepository{db: pool}
}

// Append relies on the unique index over idempotency_key. A concurrent
// writer holding the same key makes ON CONFLICT wait for its outcome, so the
// follow-up lookup always sees the winning row.
func (r *eventRepository) Append(ctx context.Context, event *domain.Event) (bool, error) {
	const query = `
        INSERT INTO events (id, idempotency_key, event_type, payload, provenance,
            reservation_id, participant_id, trial_id, conversation_id, ticket_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING append_id`
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	var appendID int64
	err := r.db.QueryRow(ctx, query,
		event.ID,
		event.IdempotencyKey,
		event.Type,
		payload,
		event.Provenance,
		event.Links.ReservationID,
		event.Links.ParticipantID,
		event.Links.TrialID,
		event.Links.ConversationID,
		event.Links.TicketID,
		event.CreatedAt,
	).Scan(&appendID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	existing, err := r.GetByIdempotencyKey(ctx, event.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("load existing event %q: %w", event.IdempotencyKey, err)
	}
	*event = *existing
	return false, nil
}

func (r *eventRepository) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	return seq, err
}

// sequenceEvents numbers up to limit committed, unsequenced events after
// the current head. Callers run it in its own transaction.
func sequenceEvents(ctx context.Context, tx pgx.Tx, limit int) (int, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, eventSequencerLock); err != nil {
		return 0, fmt.Errorf("lock event sequencer: %w", err)
	}
	cmd, err := tx.Exec(ctx, sequenceEventsSQL, defaultLimit(limit, 500))
	if err != nil {
		return 0, fmt.Errorf("sequence events: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *eventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE idempotency_key=$1`
	return scanEvent(r.db.QueryRow(ctx, query, key))
}

func (r *eventRepository) List(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	clauses := []string{"seq > $1"}
	args := []any{filter.AfterSeq}
	if filter.ReservationID != nil {
		args = append(args, *filter.ReservationID)
		clauses = append(clauses, fmt.Sprintf("reservation_id=$%d", len(args)))
	}
	if filter.TicketID != nil {
		args = append(args, *filter.TicketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id=$%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY seq ASC LIMIT %d`,
		eventColumns, strings.Join(clauses, " AND "), defaultLimit(filter.Limit, 100))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		event   domain.Event
		payload []byte
	)
	if err := row.Scan(
		&event.Seq,
		&event.ID,
		&event.IdempotencyKey,
		&event.Type,
		&payload,
		&event.Provenance,
		&event.Links.ReservationID,
		&event.Links.ParticipantID,
		&event.Links.TrialID,
		&event.Links.ConversationID,
		&event.Links.TicketID,
		&event.CreatedAt,
	); err != nil {
		return nil, err
	}
	event.Payload = payload
	return &event, nil
}
