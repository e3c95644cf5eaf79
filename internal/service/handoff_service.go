package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/config"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// HandoffService owns escalation tickets.
type HandoffService struct {
	store      repository.Store
	log        *EventLog
	sla        config.HandoffConfig
	sweepBatch int
	now        Clock
	logger     *zap.Logger
}

// HandoffDependencies bundles collaborators for the handoff service.
type HandoffDependencies struct {
	Store      repository.Store
	EventLog   *EventLog
	Config     config.HandoffConfig
	SweepBatch int
	Now        Clock
	Logger     *zap.Logger
}

// CreateHandoffInput describes a new escalation.
type CreateHandoffInput struct {
	ParticipantID  string
	TrialID        *string
	ConversationID *string
	Reason         string
	Severity       domain.Severity
	Summary        string
	// SourceKey makes creation idempotent: a second create with the same key
	// returns the first ticket.
	SourceKey  *string
	Provenance domain.Provenance
}

// HandoffListFilter narrows the coordinator feed.
type HandoffListFilter struct {
	Statuses   []domain.HandoffStatus
	Severities []domain.Severity
	AssigneeID *string
	Limit      int
	Offset     int
}

// NewHandoffService constructs the service.
func NewHandoffService(deps HandoffDependencies) *HandoffService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	return &HandoffService{
		store:      deps.Store,
		log:        deps.EventLog,
		sla:        deps.Config,
		sweepBatch: batch,
		now:        deps.Now.orDefault(),
		logger:     logger,
	}
}

// SLA returns the response window for severity. handoff_now is due at
// creation.
func (s *HandoffService) SLA(severity domain.Severity) time.Duration {
	switch severity {
	case domain.SeverityCallbackTicket:
		return s.sla.CallbackSLA
	case domain.SeverityStopContact:
		return s.sla.StopContactSLA
	default:
		return 0
	}
}

// Create opens a ticket with due_at derived from severity.
func (s *HandoffService) Create(ctx context.Context, input CreateHandoffInput) (*domain.HandoffTicket, error) {
	var ticket *domain.HandoffTicket
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ticket, err = s.CreateTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// CreateTx opens a ticket inside the caller's transaction.
func (s *HandoffService) CreateTx(ctx context.Context, tx repository.Tx, input CreateHandoffInput) (*domain.HandoffTicket, error) {
	if err := validateHandoff(input); err != nil {
		return nil, err
	}
	if input.Provenance == "" {
		input.Provenance = domain.ProvenanceSystem
	}

	if input.SourceKey != nil {
		existing, err := tx.Handoffs().GetBySourceKey(ctx, *input.SourceKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup handoff source key: %w", err)
		}
	}

	now := s.now()
	ticket := &domain.HandoffTicket{
		ID:             uuid.NewString(),
		ParticipantID:  input.ParticipantID,
		TrialID:        input.TrialID,
		ConversationID: input.ConversationID,
		Reason:         input.Reason,
		Severity:       input.Severity,
		Summary:        strings.TrimSpace(input.Summary),
		Status:         domain.HandoffStatusOpen,
		SourceKey:      input.SourceKey,
		DueAt:          now.Add(s.SLA(input.Severity)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.Handoffs().Create(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("handoff already recorded for source key", map[string]any{"source_key": input.SourceKey})
		}
		return nil, fmt.Errorf("create handoff: %w", err)
	}

	if err := s.record(ctx, tx, ticket, "", domain.EventHandoffCreated, "created", input.Provenance); err != nil {
		return nil, err
	}
	s.logger.Info("handoff created",
		zap.String("ticket_id", ticket.ID),
		zap.String("reason", ticket.Reason),
		zap.String("severity", string(ticket.Severity)),
		zap.Time("due_at", ticket.DueAt))
	return ticket, nil
}

// Assign hands the ticket to a coordinator. Reassigning to the current
// assignee is a no-op.
func (s *HandoffService) Assign(ctx context.Context, id, assigneeID string) (*domain.HandoffTicket, error) {
	if strings.TrimSpace(assigneeID) == "" {
		return nil, apperrors.NewValidationError("assignee is required", nil)
	}
	assignee, err := s.store.Coordinators().GetByID(ctx, assigneeID)
	if err != nil {
		return nil, notFound(err, "coordinator", "coordinator_id", assigneeID)
	}
	if !assignee.Active {
		return nil, apperrors.NewConflict("assignee inactive", map[string]any{"coordinator_id": assigneeID})
	}

	var assigned *domain.HandoffTicket
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ticket, err := tx.Handoffs().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "handoff", "ticket_id", id)
		}
		if ticket.Status == domain.HandoffStatusResolved {
			return apperrors.NewInvalidTransition("handoff already resolved", map[string]any{"ticket_id": id})
		}
		if ticket.Status == domain.HandoffStatusAssigned && ticket.AssigneeID != nil && *ticket.AssigneeID == assignee.ID {
			assigned = ticket
			return nil
		}

		previous := ticket.Status
		ticket.Status = domain.HandoffStatusAssigned
		ticket.AssigneeID = ptrString(assignee.ID)
		ticket.UpdatedAt = s.now()
		if err := s.update(ctx, tx, ticket); err != nil {
			return err
		}
		// reassignment is a new transition each time
		suffix := "assigned:" + uuid.NewString()
		if err := s.record(ctx, tx, ticket, previous, domain.EventHandoffAssigned, suffix, domain.ProvenanceCoordinator); err != nil {
			return err
		}
		assigned = ticket
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return assigned, nil
}

// Resolve closes the ticket. Resolving twice is a no-op.
func (s *HandoffService) Resolve(ctx context.Context, id, resolution, resolvedBy string) (*domain.HandoffTicket, error) {
	if strings.TrimSpace(resolution) == "" {
		return nil, apperrors.NewValidationError("resolution is required", nil)
	}

	var resolved *domain.HandoffTicket
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ticket, err := tx.Handoffs().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "handoff", "ticket_id", id)
		}
		if ticket.Status == domain.HandoffStatusResolved {
			resolved = ticket
			return nil
		}

		now := s.now()
		previous := ticket.Status
		ticket.Status = domain.HandoffStatusResolved
		ticket.Resolution = ptrString(strings.TrimSpace(resolution))
		ticket.ResolvedBy = domain.Ref(resolvedBy)
		ticket.ResolvedAt = ptrTime(now)
		ticket.UpdatedAt = now
		if err := s.update(ctx, tx, ticket); err != nil {
			return err
		}
		if err := s.record(ctx, tx, ticket, previous, domain.EventHandoffResolved, "resolved", domain.ProvenanceCoordinator); err != nil {
			return err
		}
		resolved = ticket
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return resolved, nil
}

// EscalateOverdue moves open tickets past due_at to escalated and returns
// how many it moved.
func (s *HandoffService) EscalateOverdue(ctx context.Context) (int, error) {
	overdue, err := s.store.Handoffs().ListOverdue(ctx, s.now(), s.sweepBatch)
	if err != nil {
		return 0, apperrors.MapError(err)
	}

	escalated := 0
	for i := range overdue {
		id := overdue[i].ID
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			ticket, err := tx.Handoffs().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			now := s.now()
			if !ticket.OverdueAt(now) {
				return nil
			}
			previous := ticket.Status
			ticket.Status = domain.HandoffStatusEscalated
			ticket.UpdatedAt = now
			if err := s.update(ctx, tx, ticket); err != nil {
				return err
			}
			escalated++
			return s.record(ctx, tx, ticket, previous, domain.EventHandoffEscalated, "escalated", domain.ProvenanceSystem)
		})
		if err != nil {
			if ctx.Err() != nil {
				return escalated, ctx.Err()
			}
			s.logger.Warn("escalate handoff failed", zap.String("ticket_id", id), zap.Error(err))
			continue
		}
	}
	if escalated > 0 {
		s.logger.Warn("handoffs escalated past SLA", zap.Int("count", escalated))
	}
	return escalated, nil
}

// ListOpen returns unresolved tickets ordered by due_at.
func (s *HandoffService) ListOpen(ctx context.Context, filter HandoffListFilter) ([]domain.HandoffTicket, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []domain.HandoffStatus{domain.HandoffStatusOpen, domain.HandoffStatusAssigned, domain.HandoffStatusEscalated}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	tickets, err := s.store.Handoffs().List(ctx, repository.HandoffFilter{
		Statuses:   statuses,
		Severities: filter.Severities,
		AssigneeID: filter.AssigneeID,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// Get loads one ticket.
func (s *HandoffService) Get(ctx context.Context, id string) (*domain.HandoffTicket, error) {
	ticket, err := s.store.Handoffs().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "handoff", "ticket_id", id)
	}
	return ticket, nil
}

// ContactAllowed reports whether automated contact with the participant is
// still permitted. Any stop_contact ticket forbids it permanently.
func (s *HandoffService) ContactAllowed(ctx context.Context, participantID string) (bool, error) {
	stopped, err := s.store.Handoffs().HasStopContact(ctx, participantID)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	return !stopped, nil
}

func (s *HandoffService) update(ctx context.Context, tx repository.Tx, ticket *domain.HandoffTicket) error {
	if err := tx.Handoffs().Update(ctx, ticket); err != nil {
		return fmt.Errorf("update handoff %s: %w", ticket.ID, err)
	}
	return nil
}

func (s *HandoffService) record(ctx context.Context, tx repository.Tx, ticket *domain.HandoffTicket, previous domain.HandoffStatus,
	eventType domain.EventType, keySuffix string, provenance domain.Provenance) error {
	_, err := s.log.AppendTx(ctx, tx, AppendInput{
		Type:           eventType,
		Payload:        events.NewHandoffPayload(ticket, previous),
		IdempotencyKey: "handoff:" + ticket.ID + ":" + keySuffix,
		Provenance:     provenance,
		Links: domain.EventLinks{
			ParticipantID:  domain.Ref(ticket.ParticipantID),
			TrialID:        ticket.TrialID,
			ConversationID: ticket.ConversationID,
			TicketID:       domain.Ref(ticket.ID),
		},
	})
	return err
}

func validateHandoff(input CreateHandoffInput) error {
	details := map[string]any{}
	if strings.TrimSpace(input.ParticipantID) == "" {
		details["participant_id"] = "required"
	}
	if strings.TrimSpace(input.Reason) == "" {
		details["reason"] = "required"
	}
	if !input.Severity.IsValid() {
		details["severity"] = "must be handoff_now, callback_ticket or stop_contact"
	}
	if input.Provenance != "" && !input.Provenance.IsValid() {
		details["provenance"] = "unknown"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid handoff", details)
	}
	return nil
}
