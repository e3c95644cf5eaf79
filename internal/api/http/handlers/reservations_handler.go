package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/visit-engine/internal/api/dto"
	"github.com/spec-kit/visit-engine/internal/auth"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/service"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// IdempotencyKeyHeader lets the voice layer retry a hold safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReservationsHandler exposes slot offers, holds and the reservation
// lifecycle.
type ReservationsHandler struct {
	service *service.ReservationService
}

// NewReservationsHandler constructs handler.
func NewReservationsHandler(svc *service.ReservationService) *ReservationsHandler {
	return &ReservationsHandler{service: svc}
}

// Offers handles POST /v1/voice/scheduling/offers.
func (h *ReservationsHandler) Offers(c *fiber.Ctx) error {
	req, err := parseSchedulingRequest(c)
	if err != nil {
		return err
	}
	offers, err := h.service.Offer(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": offerResponses(offers)})
}

// Hold handles POST /v1/voice/scheduling/holds. Candidates are tried in
// order; the first one won is held.
func (h *ReservationsHandler) Hold(c *fiber.Ctx) error {
	req, err := parseSchedulingRequest(c)
	if err != nil {
		return err
	}
	req.IdempotencyKey = c.Get(IdempotencyKeyHeader)

	outcome, err := h.service.HoldFirstAvailable(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.HoldResponse{
			Reservation: dto.ReservationFromDomain(outcome.Reservation),
			Skipped:     offerResponses(outcome.Skipped),
		},
	})
}

// Get handles GET /reservations/:id.
func (h *ReservationsHandler) Get(c *fiber.Ctx) error {
	res, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReservationFromDomain(res)})
}

// Calendar handles GET /reservations/:id/calendar.ics.
func (h *ReservationsHandler) Calendar(c *fiber.Ctx) error {
	invite, err := h.service.CalendarInvite(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	return c.SendString(invite)
}

// Book handles POST /reservations/:id/book.
func (h *ReservationsHandler) Book(c *fiber.Ctx) error {
	res, err := h.service.Book(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReservationFromDomain(res)})
}

// Confirmation handles POST /reservations/:id/confirmation.
func (h *ReservationsHandler) Confirmation(c *fiber.Ctx) error {
	var req dto.ConfirmationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Confirmed == nil {
		return apperrors.NewValidationError("confirmed is required", map[string]any{"confirmed": "required"})
	}
	res, err := h.service.RecordConfirmation(c.UserContext(), c.Params("id"), *req.Confirmed)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReservationFromDomain(res)})
}

// Expire handles POST /reservations/:id/expire.
func (h *ReservationsHandler) Expire(c *fiber.Ctx) error {
	res, err := h.service.ExpireUnconfirmed(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReservationFromDomain(res)})
}

// Cancel handles POST /reservations/:id/cancel.
func (h *ReservationsHandler) Cancel(c *fiber.Ctx) error {
	return h.finish(c, h.service.Cancel)
}

// NoShow handles POST /reservations/:id/no-show.
func (h *ReservationsHandler) NoShow(c *fiber.Ctx) error {
	return h.finish(c, h.service.MarkNoShow)
}

// Complete handles POST /reservations/:id/complete.
func (h *ReservationsHandler) Complete(c *fiber.Ctx) error {
	return h.finish(c, h.service.MarkCompleted)
}

func (h *ReservationsHandler) finish(c *fiber.Ctx, fn func(ctx context.Context, id string, provenance domain.Provenance) (*domain.Reservation, error)) error {
	var req dto.TransitionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if req.Provenance != "" && !req.Provenance.IsValid() {
		return apperrors.NewValidationError("unknown provenance", map[string]any{"provenance": req.Provenance})
	}
	provenance := req.Provenance
	if provenance == "" {
		provenance = callerProvenance(c)
	}
	res, err := fn(c.UserContext(), c.Params("id"), provenance)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ReservationFromDomain(res)})
}

func parseSchedulingRequest(c *fiber.Ctx) (service.SchedulingRequest, error) {
	var req dto.SchedulingRequest
	if err := c.BodyParser(&req); err != nil {
		return service.SchedulingRequest{}, apperrors.NewValidationError("invalid payload", nil)
	}
	candidates := make([]domain.Timeslot, 0, len(req.CandidateTimeslots))
	for _, slot := range req.CandidateTimeslots {
		candidates = append(candidates, slot.ToDomain())
	}
	provenance := req.Provenance
	if provenance == "" {
		provenance = domain.ProvenanceParticipantStated
	}
	return service.SchedulingRequest{
		ParticipantID: req.ParticipantID,
		TrialID:       req.TrialID,
		Candidates:    candidates,
		Provenance:    provenance,
	}, nil
}

func offerResponses(offers []service.SlotOffer) []dto.SlotOfferResponse {
	out := make([]dto.SlotOfferResponse, 0, len(offers))
	for _, offer := range offers {
		out = append(out, dto.SlotOfferResponse{
			Timeslot:  dto.TimeslotFromDomain(offer.Slot),
			Available: offer.Available,
			Reason:    offer.Reason,
		})
	}
	return out
}

// callerProvenance tags writes by who made the request: the voice layer
// relays what the participant said, coordinators speak for themselves.
func callerProvenance(c *fiber.Ctx) domain.Provenance {
	if principal, ok := auth.PrincipalFromContext(c); ok && principal.SubjectType == domain.SubjectTypeCoordinator {
		return domain.ProvenanceCoordinator
	}
	return domain.ProvenanceParticipantStated
}
