package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/visit-engine/internal/api/dto"
	"github.com/spec-kit/visit-engine/internal/auth"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/service"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// HandoffsHandler exposes the coordinator handoff queue.
type HandoffsHandler struct {
	service *service.HandoffService
	now     service.Clock
}

// NewHandoffsHandler constructs handler.
func NewHandoffsHandler(svc *service.HandoffService, now service.Clock) *HandoffsHandler {
	return &HandoffsHandler{service: svc, now: now}
}

// List handles GET /v1/console/handoffs.
func (h *HandoffsHandler) List(c *fiber.Ctx) error {
	filter := service.HandoffListFilter{
		Limit:  parseInt(c.Query("limit"), 50),
		Offset: parseInt(c.Query("offset"), 0),
	}
	for _, status := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.HandoffStatus(status))
	}
	for _, severity := range splitList(c.Query("severity")) {
		filter.Severities = append(filter.Severities, domain.Severity(severity))
	}
	if assignee := c.Query("assignee_id"); assignee != "" {
		filter.AssigneeID = &assignee
	}

	tickets, err := h.service.ListOpen(c.UserContext(), filter)
	if err != nil {
		return err
	}
	now := clockNow(h.now)
	data := make([]dto.HandoffResponse, 0, len(tickets))
	for i := range tickets {
		data = append(data, dto.HandoffFromDomain(&tickets[i], now))
	}
	return c.JSON(fiber.Map{"data": data})
}

// Get handles GET /v1/console/handoffs/:id.
func (h *HandoffsHandler) Get(c *fiber.Ctx) error {
	ticket, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.HandoffFromDomain(ticket, clockNow(h.now))})
}

// Create handles POST /handoffs for explicit escalations outside the
// safety gate.
func (h *HandoffsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateHandoffRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Create(c.UserContext(), service.CreateHandoffInput{
		ParticipantID:  req.ParticipantID,
		TrialID:        req.TrialID,
		ConversationID: req.ConversationID,
		Reason:         req.Reason,
		Severity:       req.Severity,
		Summary:        req.Summary,
		SourceKey:      req.SourceKey,
		Provenance:     callerProvenance(c),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.HandoffFromDomain(ticket, clockNow(h.now))})
}

// Assign handles POST /v1/console/handoffs/:id/assign.
func (h *HandoffsHandler) Assign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Coordinator == nil {
		return apperrors.NewUnauthorized("not authenticated")
	}
	var req dto.AssignHandoffRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	assignee := req.AssigneeID
	if assignee == "" {
		assignee = principal.Coordinator.ID
	}

	ticket, err := h.service.Assign(c.UserContext(), c.Params("id"), assignee)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.HandoffFromDomain(ticket, clockNow(h.now))})
}

// Resolve handles POST /v1/console/handoffs/:id/resolve.
func (h *HandoffsHandler) Resolve(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Coordinator == nil {
		return apperrors.NewUnauthorized("not authenticated")
	}
	var req dto.ResolveHandoffRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Resolve(c.UserContext(), c.Params("id"), req.Resolution, principal.Coordinator.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.HandoffFromDomain(ticket, clockNow(h.now))})
}

// ContactPolicy handles GET /v1/voice/participants/:id/contact-policy. The
// voice layer checks it before any outbound call.
func (h *HandoffsHandler) ContactPolicy(c *fiber.Ctx) error {
	participantID := c.Params("id")
	allowed, err := h.service.ContactAllowed(c.UserContext(), participantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"participant_id":  participantID,
		"contact_allowed": allowed,
	}})
}
