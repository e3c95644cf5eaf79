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

// Conflict reasons reported in error details and slot offers.
const (
	ReasonSlotTaken           = "slot_taken"
	ReasonParticipantHasLive  = "participant_has_live_reservation"
	ReasonSlotInPast          = "slot_in_past"
	ReasonDuplicateCandidate  = "duplicate_candidate"
	followUpReasonUnconfirmed = "confirmation_window_elapsed"
	followUpReasonTeachBack   = "teach_back_failed"
)

// ReservationService owns the reservation state machine.
type ReservationService struct {
	store         repository.Store
	log           *EventLog
	holdTTL       time.Duration
	confirmWindow time.Duration
	sweepBatch    int
	now           Clock
	logger        *zap.Logger
}

// ReservationDependencies bundles collaborators for the reservation service.
type ReservationDependencies struct {
	Store    repository.Store
	EventLog *EventLog
	Config   config.SchedulingConfig
	Now      Clock
	Logger   *zap.Logger
}

// HoldInput requests a hold on one slot.
type HoldInput struct {
	TrialID       string
	ParticipantID string
	Slot          domain.Timeslot
	// IdempotencyKey makes a retried hold request return the original
	// reservation instead of conflicting with it.
	IdempotencyKey string
	Provenance     domain.Provenance
}

// SchedulingRequest carries candidate slots in preference order.
type SchedulingRequest struct {
	ParticipantID  string
	TrialID        string
	Candidates     []domain.Timeslot
	IdempotencyKey string
	Provenance     domain.Provenance
}

// SlotOffer annotates one candidate with its availability.
type SlotOffer struct {
	Slot      domain.Timeslot
	Available bool
	Reason    string
}

// HoldOutcome is the result of holding the first available candidate.
type HoldOutcome struct {
	Reservation *domain.Reservation
	Skipped     []SlotOffer
}

// NewReservationService constructs the service.
func NewReservationService(deps ReservationDependencies) *ReservationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.Config.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &ReservationService{
		store:         deps.Store,
		log:           deps.EventLog,
		holdTTL:       deps.Config.HoldTTL,
		confirmWindow: deps.Config.ConfirmationWindow,
		sweepBatch:    batch,
		now:           deps.Now.orDefault(),
		logger:        logger,
	}
}

// Hold creates a held reservation when neither the slot nor the participant
// has a live reservation in the trial. The check and the insert run in one
// transaction over row-locked candidates; racing inserts lose on the unique
// indexes, so the first committed hold wins.
func (s *ReservationService) Hold(ctx context.Context, input HoldInput) (*domain.Reservation, error) {
	if err := validateHold(input); err != nil {
		return nil, err
	}
	if input.Provenance == "" {
		input.Provenance = domain.ProvenanceSystem
	}

	var held *domain.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if input.IdempotencyKey != "" {
			existing, err := s.replayedHold(ctx, tx, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				existing.State = existing.EffectiveState(s.now())
				if existing.State == domain.ReservationExpiredUnconfirmed {
					return expiredError(existing, "hold expired; retry with a new idempotency key")
				}
				held = existing
				return nil
			}
		}

		now := s.now()
		live, err := tx.Reservations().LockLive(ctx, repository.LiveScope{
			TrialID:       input.TrialID,
			SlotStart:     input.Slot.Start,
			ParticipantID: input.ParticipantID,
		})
		if err != nil {
			return fmt.Errorf("lock live reservations: %w", err)
		}
		for i := range live {
			other := &live[i]
			if other.IsLiveAt(now) {
				return holdConflict(other, input)
			}
			if err := s.retire(ctx, tx, other, now); err != nil {
				return err
			}
		}

		res := &domain.Reservation{
			ID:            uuid.NewString(),
			ParticipantID: input.ParticipantID,
			TrialID:       input.TrialID,
			Slot:          input.Slot,
			State:         domain.ReservationHeld,
			HeldUntil:     now.Add(s.holdTTL),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Reservations().Create(ctx, res); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return insertConflict(err, input)
			}
			return fmt.Errorf("create reservation: %w", err)
		}

		key := transitionKey(res.ID, domain.EventSlotHeld)
		if input.IdempotencyKey != "" {
			key = holdRequestKey(input.IdempotencyKey)
		}
		if _, err := s.log.AppendTx(ctx, tx, AppendInput{
			Type:           domain.EventSlotHeld,
			Payload:        events.NewReservationPayload(res, ""),
			IdempotencyKey: key,
			Provenance:     input.Provenance,
			Links:          reservationLinks(res),
		}); err != nil {
			return err
		}
		held = res
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("slot held",
		zap.String("reservation_id", held.ID),
		zap.String("trial_id", held.TrialID),
		zap.Time("slot_start", held.Slot.Start),
		zap.Time("held_until", held.HeldUntil))
	return held, nil
}

// Book moves a held reservation to booked and opens the confirmation
// window. Booking an already booked or confirmed reservation is a no-op.
func (s *ReservationService) Book(ctx context.Context, id string) (*domain.Reservation, error) {
	var booked *domain.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.Reservations().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "reservation", "reservation_id", id)
		}
		now := s.now()

		switch res.State {
		case domain.ReservationBooked, domain.ReservationConfirmed:
			if !res.IsLiveAt(now) {
				return expiredError(res, "confirmation window elapsed; hold the slot again")
			}
			booked = res
			return nil
		case domain.ReservationHeld:
			if !res.IsLiveAt(now) {
				return expiredError(res, "hold expired; hold the slot again")
			}
		case domain.ReservationExpiredUnconfirmed:
			return expiredError(res, "reservation expired; hold the slot again")
		default:
			return invalidTransition(res, domain.ReservationBooked)
		}

		// A slot can be raced by another path between hold and book, so the
		// live-uniqueness guard is checked again here.
		others, err := tx.Reservations().LockLive(ctx, repository.LiveScope{
			TrialID:       res.TrialID,
			SlotStart:     res.Slot.Start,
			ParticipantID: res.ParticipantID,
		})
		if err != nil {
			return fmt.Errorf("lock live reservations: %w", err)
		}
		for i := range others {
			other := &others[i]
			if other.ID != res.ID && other.IsLiveAt(now) {
				return holdConflict(other, HoldInput{
					TrialID:       res.TrialID,
					ParticipantID: res.ParticipantID,
					Slot:          res.Slot,
				})
			}
		}

		previous := res.State
		res.State = domain.ReservationBooked
		res.ConfirmationDueAt = ptrTime(now.Add(s.confirmWindow))
		res.UpdatedAt = now
		if err := s.transition(ctx, tx, res, previous, domain.EventAppointmentBooked, domain.ProvenanceParticipantStated); err != nil {
			return err
		}
		booked = res
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return booked, nil
}

// Confirm records a successful teach-back. Confirming twice is a no-op.
func (s *ReservationService) Confirm(ctx context.Context, id string) (*domain.Reservation, error) {
	var confirmed *domain.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.Reservations().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "reservation", "reservation_id", id)
		}
		now := s.now()

		switch res.State {
		case domain.ReservationConfirmed:
			confirmed = res
			return nil
		case domain.ReservationBooked:
			if !res.IsLiveAt(now) {
				return expiredError(res, "confirmation window elapsed")
			}
		case domain.ReservationHeld:
			if !res.IsLiveAt(now) {
				return expiredError(res, "hold expired")
			}
			return invalidTransition(res, domain.ReservationConfirmed)
		case domain.ReservationExpiredUnconfirmed:
			return expiredError(res, "reservation already expired")
		default:
			return invalidTransition(res, domain.ReservationConfirmed)
		}

		previous := res.State
		res.State = domain.ReservationConfirmed
		res.UpdatedAt = now
		if err := s.transition(ctx, tx, res, previous, domain.EventAppointmentConfirmed, domain.ProvenanceParticipantStated); err != nil {
			return err
		}
		confirmed = res
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return confirmed, nil
}

// RecordConfirmation applies a teach-back result. A negative result leaves
// the booking in place and asks the communications collaborator to follow
// up before the window closes.
func (s *ReservationService) RecordConfirmation(ctx context.Context, id string, confirmed bool) (*domain.Reservation, error) {
	if confirmed {
		return s.Confirm(ctx, id)
	}

	var current *domain.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.Reservations().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "reservation", "reservation_id", id)
		}
		now := s.now()
		if res.State != domain.ReservationBooked {
			return invalidTransition(res, domain.ReservationConfirmed)
		}
		if !res.IsLiveAt(now) {
			return expiredError(res, "confirmation window elapsed")
		}
		if err := s.requestFollowUp(ctx, tx, res, followUpReasonTeachBack); err != nil {
			return err
		}
		current = res
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return current, nil
}

// ExpireUnconfirmed retires a booking whose confirmation window has passed
// (or a hold past its TTL), releasing the slot. Expiring an already expired
// reservation is a no-op.
func (s *ReservationService) ExpireUnconfirmed(ctx context.Context, id string) (*domain.Reservation, error) {
	var expired *domain.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.Reservations().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "reservation", "reservation_id", id)
		}
		now := s.now()
		switch {
		case res.State == domain.ReservationExpiredUnconfirmed:
		case res.LapsedAt(now):
			if err := s.retire(ctx, tx, res, now); err != nil {
				return err
			}
		case res.State.IsLive():
			return apperrors.NewInvalidTransition("reservation is not past its deadline", map[string]any{
				"reservation_id": res.ID,
				"state":          res.State,
			})
		default:
			return invalidTransition(res, domain.ReservationExpiredUnconfirmed)
		}
		expired = res
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return expired, nil
}

// Cancel ends a live reservation.
func (s *ReservationService) Cancel(ctx context.Context, id string, provenance domain.Provenance) (*domain.Reservation, error) {
	return s.finish(ctx, id, domain.ReservationCancelled, domain.EventAppointmentCancelled, provenance,
		domain.ReservationHeld, domain.ReservationBooked, domain.ReservationConfirmed)
}

// MarkNoShow records that the participant missed the visit.
func (s *ReservationService) MarkNoShow(ctx context.Context, id string, provenance domain.Provenance) (*domain.Reservation, error) {
	return s.finish(ctx, id, domain.ReservationNoShow, domain.EventAppointmentNoShow, provenance,
		domain.ReservationBooked, domain.ReservationConfirmed)
}

// MarkCompleted records that the visit took place.
func (s *ReservationService) MarkCompleted(ctx context.Context, id string, provenance domain.Provenance) (*domain.Reservation, error) {
	return s.finish(ctx, id, domain.ReservationCompleted, domain.EventAppointmentCompleted, provenance,
		domain.ReservationBooked, domain.ReservationConfirmed)
}

func (s *ReservationService) finish(ctx context.Context, id string, target domain.ReservationState, eventType domain.EventType,
	provenance domain.Provenance, from ...domain.ReservationState) (*domain.Reservation, error) {
	if provenance == "" {
		provenance = domain.ProvenanceCoordinator
	}

	var finished *domain.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.Reservations().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, "reservation", "reservation_id", id)
		}
		if res.State == target {
			finished = res
			return nil
		}
		now := s.now()
		if res.State == domain.ReservationExpiredUnconfirmed || res.LapsedAt(now) {
			return expiredError(res, "reservation expired before "+string(target))
		}
		if !stateIn(res.State, from) {
			return invalidTransition(res, target)
		}

		previous := res.State
		res.State = target
		res.UpdatedAt = now
		if err := s.transition(ctx, tx, res, previous, eventType, provenance); err != nil {
			return err
		}
		finished = res
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return finished, nil
}

// Get returns the reservation with read-time expiry applied: State is the
// effective state, which may be expired_unconfirmed before any sweep ran.
func (s *ReservationService) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := s.store.Reservations().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "reservation", "reservation_id", id)
	}
	res.State = res.EffectiveState(s.now())
	return res, nil
}

// Offer annotates candidates, in request order, with their availability.
// It performs no writes; a later Hold may still lose a race.
func (s *ReservationService) Offer(ctx context.Context, req SchedulingRequest) ([]SlotOffer, error) {
	if err := validateSchedulingRequest(req); err != nil {
		return nil, err
	}
	now := s.now()

	own, err := s.store.Reservations().ListLiveByParticipant(ctx, req.ParticipantID, req.TrialID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	participantBusy := false
	for i := range own {
		if own[i].IsLiveAt(now) {
			participantBusy = true
			break
		}
	}

	starts := make([]time.Time, 0, len(req.Candidates))
	for _, slot := range req.Candidates {
		starts = append(starts, slot.Start)
	}
	taken, err := s.store.Reservations().ListLiveBySlots(ctx, req.TrialID, starts)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	takenAt := make(map[int64]bool, len(taken))
	for i := range taken {
		if taken[i].IsLiveAt(now) {
			takenAt[taken[i].Slot.Start.UnixNano()] = true
		}
	}

	offers := make([]SlotOffer, 0, len(req.Candidates))
	seen := make(map[int64]bool, len(req.Candidates))
	for _, slot := range req.Candidates {
		offer := SlotOffer{Slot: slot, Available: true}
		key := slot.Start.UnixNano()
		switch {
		case seen[key]:
			offer.Available, offer.Reason = false, ReasonDuplicateCandidate
		case slot.Start.Before(now):
			offer.Available, offer.Reason = false, ReasonSlotInPast
		case takenAt[key]:
			offer.Available, offer.Reason = false, ReasonSlotTaken
		case participantBusy:
			offer.Available, offer.Reason = false, ReasonParticipantHasLive
		}
		seen[key] = true
		offers = append(offers, offer)
	}
	return offers, nil
}

// HoldFirstAvailable tries candidates in order and holds the first one
// that wins its check-and-insert. A participant conflict stops the search
// since no other slot in the trial can succeed.
func (s *ReservationService) HoldFirstAvailable(ctx context.Context, req SchedulingRequest) (*HoldOutcome, error) {
	if err := validateSchedulingRequest(req); err != nil {
		return nil, err
	}
	now := s.now()
	outcome := &HoldOutcome{}
	seen := make(map[int64]bool, len(req.Candidates))

	for _, slot := range req.Candidates {
		key := slot.Start.UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true
		if slot.Start.Before(now) {
			outcome.Skipped = append(outcome.Skipped, SlotOffer{Slot: slot, Reason: ReasonSlotInPast})
			continue
		}

		res, err := s.Hold(ctx, HoldInput{
			TrialID:        req.TrialID,
			ParticipantID:  req.ParticipantID,
			Slot:           slot,
			IdempotencyKey: req.IdempotencyKey,
			Provenance:     req.Provenance,
		})
		if err == nil {
			outcome.Reservation = res
			return outcome, nil
		}
		if !apperrors.HasCode(err, apperrors.CodeConflict) {
			return nil, err
		}
		reason := conflictReason(err)
		if reason == ReasonParticipantHasLive {
			return nil, err
		}
		outcome.Skipped = append(outcome.Skipped, SlotOffer{Slot: slot, Reason: reason})
	}

	return nil, apperrors.NewConflict("no candidate slot available, choose another", map[string]any{
		"trial_id":   req.TrialID,
		"candidates": len(req.Candidates),
	})
}

// SweepExpired persists read-time expiry for audit completeness. It returns
// how many reservations it transitioned.
func (s *ReservationService) SweepExpired(ctx context.Context) (int, error) {
	lapsed, err := s.store.Reservations().ListLapsed(ctx, s.now(), s.sweepBatch)
	if err != nil {
		return 0, apperrors.MapError(err)
	}

	swept := 0
	for i := range lapsed {
		id := lapsed[i].ID
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			res, err := tx.Reservations().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			now := s.now()
			if !res.LapsedAt(now) {
				return nil
			}
			swept++
			return s.retire(ctx, tx, res, now)
		})
		if err != nil {
			if ctx.Err() != nil {
				return swept, ctx.Err()
			}
			s.logger.Warn("expire reservation failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
	return swept, nil
}

// retire persists the expiry of a lapsed live reservation. Lapsed holds
// record slot_hold_expired; lapsed bookings record
// appointment_expired_unconfirmed and request a follow-up.
func (s *ReservationService) retire(ctx context.Context, tx repository.Tx, res *domain.Reservation, now time.Time) error {
	previous := res.State
	eventType := domain.EventSlotHoldExpired
	if previous == domain.ReservationBooked {
		eventType = domain.EventAppointmentExpiredUnconfirmed
	}

	res.State = domain.ReservationExpiredUnconfirmed
	res.UpdatedAt = now
	if err := s.transition(ctx, tx, res, previous, eventType, domain.ProvenanceSystem); err != nil {
		return err
	}
	if previous == domain.ReservationBooked {
		return s.requestFollowUp(ctx, tx, res, followUpReasonUnconfirmed)
	}
	return nil
}

func (s *ReservationService) transition(ctx context.Context, tx repository.Tx, res *domain.Reservation,
	previous domain.ReservationState, eventType domain.EventType, provenance domain.Provenance) error {
	if err := tx.Reservations().Update(ctx, res); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return insertConflict(err, HoldInput{
				TrialID:       res.TrialID,
				ParticipantID: res.ParticipantID,
				Slot:          res.Slot,
			})
		}
		return fmt.Errorf("update reservation %s: %w", res.ID, err)
	}
	_, err := s.log.AppendTx(ctx, tx, AppendInput{
		Type:           eventType,
		Payload:        events.NewReservationPayload(res, previous),
		IdempotencyKey: transitionKey(res.ID, eventType),
		Provenance:     provenance,
		Links:          reservationLinks(res),
	})
	return err
}

func (s *ReservationService) requestFollowUp(ctx context.Context, tx repository.Tx, res *domain.Reservation, reason string) error {
	_, err := s.log.AppendTx(ctx, tx, AppendInput{
		Type: domain.EventFollowUpRequested,
		Payload: events.FollowUpPayload{
			ReservationID: res.ID,
			ParticipantID: res.ParticipantID,
			TrialID:       res.TrialID,
			Reason:        reason,
		},
		IdempotencyKey: transitionKey(res.ID, domain.EventFollowUpRequested) + ":" + reason,
		Provenance:     domain.ProvenanceSystem,
		Links:          reservationLinks(res),
	})
	return err
}

// replayedHold returns the reservation created by an earlier hold request
// with the same key, or nil.
func (s *ReservationService) replayedHold(ctx context.Context, tx repository.Tx, requestKey string) (*domain.Reservation, error) {
	event, err := tx.Events().GetByIdempotencyKey(ctx, holdRequestKey(requestKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup hold request: %w", err)
	}
	if event.Links.ReservationID == nil {
		return nil, nil
	}
	return tx.Reservations().GetByID(ctx, *event.Links.ReservationID)
}

func validateHold(input HoldInput) error {
	details := map[string]any{}
	if strings.TrimSpace(input.TrialID) == "" {
		details["trial_id"] = "required"
	}
	if strings.TrimSpace(input.ParticipantID) == "" {
		details["participant_id"] = "required"
	}
	if input.Slot.Start.IsZero() {
		details["slot_start"] = "required"
	}
	if input.Slot.Duration < 0 {
		details["duration"] = "must not be negative"
	}
	if input.Provenance != "" && !input.Provenance.IsValid() {
		details["provenance"] = "unknown"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid hold request", details)
	}
	return nil
}

func validateSchedulingRequest(req SchedulingRequest) error {
	details := map[string]any{}
	if strings.TrimSpace(req.TrialID) == "" {
		details["trial_id"] = "required"
	}
	if strings.TrimSpace(req.ParticipantID) == "" {
		details["participant_id"] = "required"
	}
	if len(req.Candidates) == 0 {
		details["candidate_timeslots"] = "at least one candidate is required"
	}
	for i, slot := range req.Candidates {
		if slot.Start.IsZero() {
			details[fmt.Sprintf("candidate_timeslots[%d]", i)] = "start is required"
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid scheduling request", details)
	}
	return nil
}

func holdConflict(other *domain.Reservation, input HoldInput) error {
	if other.TrialID == input.TrialID && other.Slot.Start.Equal(input.Slot.Start) && other.ParticipantID != input.ParticipantID {
		return apperrors.NewConflict("slot unavailable, choose another", map[string]any{
			"trial_id":   input.TrialID,
			"slot_start": input.Slot.Start,
			"reason":     ReasonSlotTaken,
		})
	}
	return apperrors.NewConflict("participant already has a live reservation in this trial", map[string]any{
		"trial_id":       input.TrialID,
		"reservation_id": other.ID,
		"reason":         ReasonParticipantHasLive,
	})
}

// insertConflict maps a unique violation raised by a racing writer, which
// the row-locked check could not see, to the same reasons holdConflict uses.
func insertConflict(err error, input HoldInput) error {
	if repository.ConflictConstraint(err) == repository.ConstraintLiveParticipant {
		return apperrors.NewConflict("participant already has a live reservation in this trial", map[string]any{
			"trial_id":       input.TrialID,
			"participant_id": input.ParticipantID,
			"reason":         ReasonParticipantHasLive,
		})
	}
	return apperrors.NewConflict("slot unavailable, choose another", map[string]any{
		"trial_id":   input.TrialID,
		"slot_start": input.Slot.Start,
		"reason":     ReasonSlotTaken,
	})
}

func conflictReason(err error) string {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		if reason, ok := domainErr.Details["reason"].(string); ok {
			return reason
		}
	}
	return ReasonSlotTaken
}

func expiredError(res *domain.Reservation, message string) error {
	return apperrors.NewExpired(message, map[string]any{
		"reservation_id": res.ID,
		"state":          res.State,
	})
}

func invalidTransition(res *domain.Reservation, target domain.ReservationState) error {
	return apperrors.NewInvalidTransition(
		fmt.Sprintf("cannot move reservation from %s to %s", res.State, target),
		map[string]any{"reservation_id": res.ID, "state": res.State, "target": target})
}

func stateIn(state domain.ReservationState, allowed []domain.ReservationState) bool {
	for _, candidate := range allowed {
		if state == candidate {
			return true
		}
	}
	return false
}

func reservationLinks(res *domain.Reservation) domain.EventLinks {
	return domain.EventLinks{
		ReservationID: domain.Ref(res.ID),
		ParticipantID: domain.Ref(res.ParticipantID),
		TrialID:       domain.Ref(res.TrialID),
	}
}

func transitionKey(reservationID string, eventType domain.EventType) string {
	return "reservation:" + reservationID + ":" + string(eventType)
}

func holdRequestKey(requestKey string) string {
	return "hold:" + requestKey
}
