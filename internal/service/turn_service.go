package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
	"github.com/spec-kit/visit-engine/internal/safety"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// TurnService runs each conversational turn through the safety gate and
// escalates non-clear results.
type TurnService struct {
	gate     *safety.Gate
	store    repository.Store
	log      *EventLog
	handoffs *HandoffService
	logger   *zap.Logger
}

// TurnDependencies bundles collaborators for the turn service.
type TurnDependencies struct {
	Gate     *safety.Gate
	Store    repository.Store
	EventLog *EventLog
	Handoffs *HandoffService
	Logger   *zap.Logger
}

// TurnInput is one turn already transcribed by the voice layer.
type TurnInput struct {
	Text          string
	CallID        string
	ParticipantID string
	TrialID       string
	Context       safety.CallContext
}

// TurnOutcome reports the gate result and, when triggered, the ticket.
type TurnOutcome struct {
	Result safety.Result
	Ticket *domain.HandoffTicket
}

// NewTurnService constructs the service.
func NewTurnService(deps TurnDependencies) *TurnService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnService{
		gate:     deps.Gate,
		store:    deps.Store,
		log:      deps.EventLog,
		handoffs: deps.Handoffs,
		logger:   logger,
	}
}

// HandleTurn evaluates the turn. On a trigger it records
// safety_trigger_fired and opens the handoff in one transaction. Retried
// deliveries of the same trigger within a call return the same ticket.
func (s *TurnService) HandleTurn(ctx context.Context, input TurnInput) (*TurnOutcome, error) {
	if strings.TrimSpace(input.CallID) == "" || strings.TrimSpace(input.ParticipantID) == "" {
		return nil, apperrors.NewValidationError("call_id and participant_id are required", nil)
	}

	result := s.gate.Evaluate(input.Text, input.Context)
	outcome := &TurnOutcome{Result: result}
	if !result.Triggered {
		return outcome, nil
	}

	sourceKey := "call:" + input.CallID + ":safety:" + result.Reason
	links := domain.EventLinks{
		ParticipantID:  domain.Ref(input.ParticipantID),
		TrialID:        domain.Ref(input.TrialID),
		ConversationID: domain.Ref(input.CallID),
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := s.log.AppendTx(ctx, tx, AppendInput{
			Type: domain.EventSafetyTriggerFired,
			Payload: events.SafetyTriggerPayload{
				CallID:        input.CallID,
				ParticipantID: input.ParticipantID,
				Reason:        result.Reason,
				Severity:      result.Severity,
				Matched:       result.Matched,
			},
			IdempotencyKey: sourceKey,
			Provenance:     domain.ProvenanceParticipantStated,
			Links:          links,
		}); err != nil {
			return err
		}

		ticket, err := s.handoffs.CreateTx(ctx, tx, CreateHandoffInput{
			ParticipantID:  input.ParticipantID,
			TrialID:        links.TrialID,
			ConversationID: links.ConversationID,
			Reason:         result.Reason,
			Severity:       result.Severity,
			Summary:        summarizeTurn(input.Text),
			SourceKey:      ptrString(sourceKey),
			Provenance:     domain.ProvenanceSystem,
		})
		if err != nil {
			return err
		}
		outcome.Ticket = ticket
		return nil
	})
	if err != nil {
		s.logger.Error("safety escalation failed",
			zap.String("call_id", input.CallID),
			zap.String("reason", result.Reason),
			zap.Error(err))
		return nil, apperrors.MapError(err)
	}

	s.logger.Warn("safety trigger fired",
		zap.String("call_id", input.CallID),
		zap.String("participant_id", input.ParticipantID),
		zap.String("reason", result.Reason),
		zap.String("severity", string(result.Severity)),
		zap.String("ticket_id", outcome.Ticket.ID))
	return outcome, nil
}

const maxSummaryRunes = 280

func summarizeTurn(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxSummaryRunes {
		return text
	}
	return string(runes[:maxSummaryRunes-3]) + "..."
}
