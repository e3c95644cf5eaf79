package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/visit-engine/internal/api/dto"
	"github.com/spec-kit/visit-engine/internal/service"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// TurnsHandler receives transcribed turns from the voice layer.
type TurnsHandler struct {
	turns *service.TurnService
	now   service.Clock
}

// NewTurnsHandler constructs handler.
func NewTurnsHandler(turns *service.TurnService, now service.Clock) *TurnsHandler {
	return &TurnsHandler{turns: turns, now: now}
}

// Evaluate handles POST /v1/voice/turns. The voice layer hands off to a
// human whenever result.triggered is true.
func (h *TurnsHandler) Evaluate(c *fiber.Ctx) error {
	var req dto.TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	outcome, err := h.turns.HandleTurn(c.UserContext(), service.TurnInput{
		Text:          req.Text,
		CallID:        req.CallID,
		ParticipantID: req.ParticipantID,
		TrialID:       req.TrialID,
		Context:       req.StructuredContext,
	})
	if err != nil {
		return err
	}

	resp := dto.TurnResponse{Result: outcome.Result}
	if outcome.Ticket != nil {
		ticket := dto.HandoffFromDomain(outcome.Ticket, clockNow(h.now))
		resp.Ticket = &ticket
	}
	return c.JSON(fiber.Map{"data": resp})
}
