package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/visit-engine/internal/domain"
)

const handoffColumns = `id, participant_id, trial_id, conversation_id, reason, severity, summary, status,
               assignee_id, resolution, resolved_by, source_key, due_at, created_at, updated_at, resolved_at`

type handoffRepository struct {
	db querier
}

// NewHandoffRepository instantiates repository.
func NewHandoffRepository(pool *pgxpool.Pool) HandoffRepository {
	return &handoffRepository{db: pool}
}

func (r *handoffRepository) Create(ctx context.Context, ticket *domain.HandoffTicket) error {
	const query = `
        INSERT INTO handoff_tickets (id, participant_id, trial_id, conversation_id, reason, severity, summary,
            status, assignee_id, resolution, resolved_by, source_key, due_at, created_at, updated_at, resolved_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.ParticipantID,
		ticket.TrialID,
		ticket.ConversationID,
		ticket.Reason,
		ticket.Severity,
		ticket.Summary,
		ticket.Status,
		ticket.AssigneeID,
		ticket.Resolution,
		ticket.ResolvedBy,
		ticket.SourceKey,
		ticket.DueAt,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ResolvedAt,
	)
	return mapWriteError(err)
}

func (r *handoffRepository) Update(ctx context.Context, ticket *domain.HandoffTicket) error {
	const query = `
        UPDATE handoff_tickets SET status=$1, assignee_id=$2, resolution=$3, resolved_by=$4,
            updated_at=$5, resolved_at=$6
        WHERE id=$7`
	cmd, err := r.db.Exec(ctx, query,
		ticket.Status,
		ticket.AssigneeID,
		ticket.Resolution,
		ticket.ResolvedBy,
		ticket.UpdatedAt,
		ticket.ResolvedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *handoffRepository) GetByID(ctx context.Context, id string) (*domain.HandoffTicket, error) {
	query := `SELECT ` + handoffColumns + ` FROM handoff_tickets WHERE id=$1`
	return scanHandoff(r.db.QueryRow(ctx, query, id))
}

func (r *handoffRepository) GetForUpdate(ctx context.Context, id string) (*domain.HandoffTicket, error) {
	query := `SELECT ` + handoffColumns + ` FROM handoff_tickets WHERE id=$1 FOR UPDATE`
	return scanHandoff(r.db.QueryRow(ctx, query, id))
}

func (r *handoffRepository) GetBySourceKey(ctx context.Context, key string) (*domain.HandoffTicket, error) {
	query := `SELECT ` + handoffColumns + ` FROM handoff_tickets WHERE source_key=$1`
	return scanHandoff(r.db.QueryRow(ctx, query, key))
}

func (r *handoffRepository) List(ctx context.Context, filter HandoffFilter) ([]domain.HandoffTicket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Severities) > 0 {
		placeholders := make([]string, len(filter.Severities))
		for i, severity := range filter.Severities {
			args = append(args, severity)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("severity IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.ParticipantID != nil {
		args = append(args, *filter.ParticipantID)
		clauses = append(clauses, fmt.Sprintf("participant_id=$%d", len(args)))
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM handoff_tickets WHERE %s ORDER BY due_at ASC, created_at ASC LIMIT %d OFFSET %d`,
		handoffColumns, strings.Join(clauses, " AND "), defaultLimit(filter.Limit, 20), offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHandoffs(rows)
}

func (r *handoffRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.HandoffTicket, error) {
	query := `SELECT ` + handoffColumns + ` FROM handoff_tickets
        WHERE status='open' AND due_at < $1
        ORDER BY due_at ASC
        LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, defaultLimit(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHandoffs(rows)
}

func (r *handoffRepository) HasStopContact(ctx context.Context, participantID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM handoff_tickets WHERE participant_id=$1 AND severity='stop_contact')`
	var exists bool
	if err := r.db.QueryRow(ctx, query, participantID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func scanHandoff(row pgx.Row) (*domain.HandoffTicket, error) {
	var ticket domain.HandoffTicket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ParticipantID,
		&ticket.TrialID,
		&ticket.ConversationID,
		&ticket.Reason,
		&ticket.Severity,
		&ticket.Summary,
		&ticket.Status,
		&ticket.AssigneeID,
		&ticket.Resolution,
		&ticket.ResolvedBy,
		&ticket.SourceKey,
		&ticket.DueAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanHandoffs(rows pgx.Rows) ([]domain.HandoffTicket, error) {
	var result []domain.HandoffTicket
	for rows.Next() {
		ticket, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
