package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/visit-engine/internal/config"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/repository"
	"github.com/spec-kit/visit-engine/internal/repository/memory"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

func TestHoldConcurrentRequestsForSameSlotHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := slotAt(10)

	const callers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
		others    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.reservations.Hold(ctx, holdInput(fmt.Sprintf("participant-%d", i), slot))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, res.ID)
			case apperrors.HasCode(err, apperrors.CodeConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if len(winners) != 1 || conflicts != callers-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d conflicts", len(winners), conflicts)
	}
	live, err := env.store.Reservations().ListLiveBySlots(ctx, "trial-7", []time.Time{slot.Start})
	if err != nil {
		t.Fatalf("ListLiveBySlots: %v", err)
	}
	if len(live) != 1 || live[0].ID != winners[0] {
		t.Fatalf("expected the winner to be the only live reservation, got %+v", live)
	}
	if got := env.store.EventCount(); got != 1 {
		t.Fatalf("expected one slot_held event, got %d", got)
	}
}

func TestHoldRejectsSecondLiveReservationForParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10))); err != nil {
		t.Fatalf("first hold: %v", err)
	}
	_, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(11)))
	requireCode(t, err, apperrors.CodeConflict)
	if reason := conflictReason(err); reason != ReasonParticipantHasLive {
		t.Fatalf("expected %s, got %s", ReasonParticipantHasLive, reason)
	}
}

func TestHoldValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.reservations.Hold(context.Background(), HoldInput{TrialID: "trial-7"})
	requireCode(t, err, apperrors.CodeValidation)
}

func TestBookAfterHoldTTLReturnsExpiredWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	env.clock.Advance(10*time.Minute + time.Second)

	_, err = env.reservations.Book(ctx, held.ID)
	requireCode(t, err, apperrors.CodeExpired)

	stored, err := env.store.Reservations().GetByID(ctx, held.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.State != domain.ReservationHeld || stored.ConfirmationDueAt != nil {
		t.Fatalf("expected stored reservation untouched, got %+v", stored)
	}
	if got := env.store.EventCount(); got != 1 {
		t.Fatalf("expected only the slot_held event, got %d", got)
	}
}

func TestReservationRoundTripRecordsEventsInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if !held.HeldUntil.Equal(baseTime.Add(10 * time.Minute)) {
		t.Fatalf("unexpected held_until %v", held.HeldUntil)
	}

	env.clock.Advance(time.Minute)
	booked, err := env.reservations.Book(ctx, held.ID)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if booked.State != domain.ReservationBooked || booked.ConfirmationDueAt == nil {
		t.Fatalf("unexpected booked reservation %+v", booked)
	}
	if want := baseTime.Add(time.Minute + 48*time.Hour); !booked.ConfirmationDueAt.Equal(want) {
		t.Fatalf("expected confirmation due %v, got %v", want, *booked.ConfirmationDueAt)
	}

	if _, err := env.reservations.Confirm(ctx, held.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	completed, err := env.reservations.MarkCompleted(ctx, held.ID, "")
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if completed.State != domain.ReservationCompleted {
		t.Fatalf("expected completed, got %s", completed.State)
	}

	list := env.events(t)
	want := []domain.EventType{
		domain.EventSlotHeld,
		domain.EventAppointmentBooked,
		domain.EventAppointmentConfirmed,
		domain.EventAppointmentCompleted,
	}
	if got := env.eventTypes(t); !equalTypes(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i, event := range list {
		if event.Links.ReservationID == nil || *event.Links.ReservationID != held.ID {
			t.Fatalf("event %d not linked to reservation: %+v", i, event.Links)
		}
		if i > 0 && event.Seq <= list[i-1].Seq {
			t.Fatalf("sequence not increasing at %d", i)
		}
	}
	if list[3].Provenance != domain.ProvenanceCoordinator {
		t.Fatalf("expected coordinator provenance on completion, got %s", list[3].Provenance)
	}
}

func TestHoldTTLReleasesSlotToAnotherParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := slotAt(10)

	first, err := env.reservations.Hold(ctx, holdInput("participant-a", slot))
	if err != nil {
		t.Fatalf("first hold: %v", err)
	}
	_, err = env.reservations.Hold(ctx, holdInput("participant-b", slot))
	requireCode(t, err, apperrors.CodeConflict)

	env.clock.Advance(10*time.Minute + time.Second)
	second, err := env.reservations.Hold(ctx, holdInput("participant-b", slot))
	if err != nil {
		t.Fatalf("hold after TTL: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a new reservation")
	}

	got, err := env.reservations.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.ReservationExpiredUnconfirmed {
		t.Fatalf("expected first hold expired, got %s", got.State)
	}
	want := []domain.EventType{domain.EventSlotHeld, domain.EventSlotHoldExpired, domain.EventSlotHeld}
	if types := env.eventTypes(t); !equalTypes(types, want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
}

func TestBookedReservationExpiresLazilyAndFreesSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := slotAt(14)

	held, err := env.reservations.Hold(ctx, holdInput("participant-a", slot))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := env.reservations.Book(ctx, held.ID); err != nil {
		t.Fatalf("Book: %v", err)
	}
	env.clock.Advance(48*time.Hour + time.Minute)

	got, err := env.reservations.Get(ctx, held.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.ReservationExpiredUnconfirmed {
		t.Fatalf("expected expired_unconfirmed before any sweep, got %s", got.State)
	}
	_, err = env.reservations.Confirm(ctx, held.ID)
	requireCode(t, err, apperrors.CodeExpired)

	if _, err := env.reservations.Hold(ctx, holdInput("participant-b", slot)); err != nil {
		t.Fatalf("expected slot to be free again: %v", err)
	}

	want := []domain.EventType{
		domain.EventSlotHeld,
		domain.EventAppointmentBooked,
		domain.EventAppointmentExpiredUnconfirmed,
		domain.EventFollowUpRequested,
		domain.EventSlotHeld,
	}
	if types := env.eventTypes(t); !equalTypes(types, want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
}

func TestHoldWithIdempotencyKeyReplaysOriginalReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := SchedulingRequest{
		ParticipantID:  "participant-1",
		TrialID:        "trial-7",
		Candidates:     []domain.Timeslot{slotAt(10)},
		IdempotencyKey: "call-42:turn-3",
	}

	first, err := env.reservations.HoldFirstAvailable(ctx, req)
	if err != nil {
		t.Fatalf("first hold: %v", err)
	}
	second, err := env.reservations.HoldFirstAvailable(ctx, req)
	if err != nil {
		t.Fatalf("retried hold: %v", err)
	}
	if first.Reservation.ID != second.Reservation.ID {
		t.Fatalf("expected replay of %s, got %s", first.Reservation.ID, second.Reservation.ID)
	}
	if got := env.store.EventCount(); got != 1 {
		t.Fatalf("expected one event, got %d", got)
	}
}

func TestReplayedHoldAfterTTLReportsExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	input := holdInput("participant-1", slotAt(10))
	input.IdempotencyKey = "call-42:turn-3"

	first, err := env.reservations.Hold(ctx, input)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	env.clock.Advance(11 * time.Minute)

	_, err = env.reservations.Hold(ctx, input)
	requireCode(t, err, apperrors.CodeExpired)

	got, err := env.reservations.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.ReservationExpiredUnconfirmed {
		t.Fatalf("expected expired_unconfirmed, got %s", got.State)
	}
	if count := env.store.EventCount(); count != 1 {
		t.Fatalf("a refused replay must not write, got %d events", count)
	}
}

func TestReplayedHoldReportsCurrentState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	input := holdInput("participant-1", slotAt(10))
	input.IdempotencyKey = "call-42:turn-3"

	first, err := env.reservations.Hold(ctx, input)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := env.reservations.Book(ctx, first.ID); err != nil {
		t.Fatalf("Book: %v", err)
	}
	env.clock.Advance(11 * time.Minute)

	replayed, err := env.reservations.Hold(ctx, input)
	if err != nil {
		t.Fatalf("replayed Hold: %v", err)
	}
	if replayed.ID != first.ID || replayed.State != domain.ReservationBooked {
		t.Fatalf("expected booked %s, got %s %s", first.ID, replayed.State, replayed.ID)
	}
}

// racingStore makes every reservation insert fail the way a unique index
// does when another transaction committed first.
type racingStore struct {
	*memory.Store
	createErr error
	creates   int
}

func (s *racingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, racingTx{Tx: tx, store: s})
	})
}

type racingTx struct {
	repository.Tx
	store *racingStore
}

func (t racingTx) Reservations() repository.ReservationRepository {
	return racingReservations{ReservationRepository: t.Tx.Reservations(), store: t.store}
}

type racingReservations struct {
	repository.ReservationRepository
	store *racingStore
}

func (r racingReservations) Create(context.Context, *domain.Reservation) error {
	r.store.creates++
	return r.store.createErr
}

func TestRacingInsertReportsViolatedConstraint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store := &racingStore{
		Store:     env.store,
		createErr: &repository.ConflictError{Constraint: repository.ConstraintLiveParticipant},
	}
	reservations := NewReservationService(ReservationDependencies{
		Store:    store,
		EventLog: env.log,
		Config:   config.SchedulingConfig{HoldTTL: 10 * time.Minute, ConfirmationWindow: 48 * time.Hour},
		Now:      env.clock.Now,
	})

	_, err := reservations.HoldFirstAvailable(ctx, SchedulingRequest{
		ParticipantID: "participant-1",
		TrialID:       "trial-7",
		Candidates:    []domain.Timeslot{slotAt(10), slotAt(11), slotAt(12)},
	})
	requireCode(t, err, apperrors.CodeConflict)
	if reason := conflictReason(err); reason != ReasonParticipantHasLive {
		t.Fatalf("expected %s, got %s", ReasonParticipantHasLive, reason)
	}
	if store.creates != 1 {
		t.Fatalf("a participant conflict must stop the search, got %d inserts", store.creates)
	}

	store.createErr = &repository.ConflictError{Constraint: repository.ConstraintLiveSlot}
	_, err = reservations.Hold(ctx, holdInput("participant-2", slotAt(10)))
	requireCode(t, err, apperrors.CodeConflict)
	if reason := conflictReason(err); reason != ReasonSlotTaken {
		t.Fatalf("expected %s, got %s", ReasonSlotTaken, reason)
	}
}

func TestEventAppendFailureRollsBackHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slot := slotAt(10)

	env.store.FailNextEventAppend(errors.New("disk full"))
	_, err := env.reservations.Hold(ctx, holdInput("participant-1", slot))
	requireCode(t, err, apperrors.CodeInternal)

	live, err := env.store.Reservations().ListLiveBySlots(ctx, "trial-7", []time.Time{slot.Start})
	if err != nil {
		t.Fatalf("ListLiveBySlots: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no reservation after failed append, got %+v", live)
	}
	if _, err := env.reservations.Hold(ctx, holdInput("participant-1", slot)); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestOfferAnnotatesCandidatesInRequestOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.reservations.Hold(ctx, holdInput("participant-other", slotAt(10))); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	past := domain.Timeslot{Start: baseTime.Add(-time.Hour), Duration: time.Hour}

	offers, err := env.reservations.Offer(ctx, SchedulingRequest{
		ParticipantID: "participant-1",
		TrialID:       "trial-7",
		Candidates:    []domain.Timeslot{slotAt(10), past, slotAt(11), slotAt(11)},
	})
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	want := []SlotOffer{
		{Slot: slotAt(10), Available: false, Reason: ReasonSlotTaken},
		{Slot: past, Available: false, Reason: ReasonSlotInPast},
		{Slot: slotAt(11), Available: true},
		{Slot: slotAt(11), Available: false, Reason: ReasonDuplicateCandidate},
	}
	if len(offers) != len(want) {
		t.Fatalf("expected %d offers, got %d", len(want), len(offers))
	}
	for i := range want {
		if offers[i].Available != want[i].Available || offers[i].Reason != want[i].Reason {
			t.Fatalf("offer %d: expected %+v, got %+v", i, want[i], offers[i])
		}
	}
	if got := env.store.EventCount(); got != 1 {
		t.Fatalf("Offer must not write, got %d events", got)
	}
}

func TestHoldFirstAvailableSkipsTakenSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.reservations.Hold(ctx, holdInput("participant-other", slotAt(10))); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	outcome, err := env.reservations.HoldFirstAvailable(ctx, SchedulingRequest{
		ParticipantID: "participant-1",
		TrialID:       "trial-7",
		Candidates:    []domain.Timeslot{slotAt(10), slotAt(11)},
	})
	if err != nil {
		t.Fatalf("HoldFirstAvailable: %v", err)
	}
	if !outcome.Reservation.Slot.Start.Equal(slotAt(11).Start) {
		t.Fatalf("expected the 11:00 slot, got %v", outcome.Reservation.Slot.Start)
	}
	if len(outcome.Skipped) != 1 || outcome.Skipped[0].Reason != ReasonSlotTaken {
		t.Fatalf("expected one skipped taken slot, got %+v", outcome.Skipped)
	}
}

func TestHoldFirstAvailableConflictsWhenNothingFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.reservations.Hold(ctx, holdInput("participant-other", slotAt(10))); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	_, err := env.reservations.HoldFirstAvailable(ctx, SchedulingRequest{
		ParticipantID: "participant-1",
		TrialID:       "trial-7",
		Candidates:    []domain.Timeslot{slotAt(10)},
	})
	requireCode(t, err, apperrors.CodeConflict)
}

func TestSweepExpiredPersistsExpiryOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	env.clock.Advance(time.Hour)

	swept, err := env.reservations.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one swept reservation, got %d", swept)
	}
	stored, err := env.store.Reservations().GetByID(ctx, held.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.State != domain.ReservationExpiredUnconfirmed {
		t.Fatalf("expected persisted expiry, got %s", stored.State)
	}

	swept, err = env.reservations.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second SweepExpired: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected nothing left to sweep, got %d", swept)
	}
}

func TestExpireUnconfirmedRequiresLapsedDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := env.reservations.Book(ctx, held.ID); err != nil {
		t.Fatalf("Book: %v", err)
	}
	_, err = env.reservations.ExpireUnconfirmed(ctx, held.ID)
	requireCode(t, err, apperrors.CodeInvalidTransition)

	env.clock.Advance(49 * time.Hour)
	expired, err := env.reservations.ExpireUnconfirmed(ctx, held.ID)
	if err != nil {
		t.Fatalf("ExpireUnconfirmed: %v", err)
	}
	if expired.State != domain.ReservationExpiredUnconfirmed {
		t.Fatalf("expected expired_unconfirmed, got %s", expired.State)
	}
	if _, err := env.reservations.ExpireUnconfirmed(ctx, held.ID); err != nil {
		t.Fatalf("expiring twice should be a no-op: %v", err)
	}
}

func TestNegativeTeachBackRequestsFollowUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := env.reservations.Book(ctx, held.ID); err != nil {
		t.Fatalf("Book: %v", err)
	}
	res, err := env.reservations.RecordConfirmation(ctx, held.ID, false)
	if err != nil {
		t.Fatalf("RecordConfirmation: %v", err)
	}
	if res.State != domain.ReservationBooked {
		t.Fatalf("expected booking to stand, got %s", res.State)
	}

	list := env.events(t)
	last := list[len(list)-1]
	if last.Type != domain.EventFollowUpRequested {
		t.Fatalf("expected followup_requested, got %s", last.Type)
	}
	var payload events.FollowUpPayload
	if err := events.Decode(last, &payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.Reason != followUpReasonTeachBack || payload.ReservationID != held.ID {
		t.Fatalf("unexpected follow-up payload %+v", payload)
	}
}

func TestConfirmTwiceIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := env.reservations.Book(ctx, held.ID); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := env.reservations.Confirm(ctx, held.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := env.reservations.Confirm(ctx, held.ID); err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if got := env.store.EventCount(); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestTerminalReservationRejectsTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if _, err := env.reservations.Cancel(ctx, held.ID, domain.ProvenanceParticipantStated); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err = env.reservations.Book(ctx, held.ID)
	requireCode(t, err, apperrors.CodeInvalidTransition)
	_, err = env.reservations.MarkNoShow(ctx, held.ID, "")
	requireCode(t, err, apperrors.CodeInvalidTransition)

	if _, err := env.reservations.Hold(ctx, holdInput("participant-2", slotAt(10))); err != nil {
		t.Fatalf("cancelled slot should be free: %v", err)
	}
}

func TestNoShowRequiresBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.reservations.Hold(ctx, holdInput("participant-1", slotAt(10)))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	_, err = env.reservations.MarkNoShow(ctx, held.ID, "")
	requireCode(t, err, apperrors.CodeInvalidTransition)
}

func TestGetUnknownReservationIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.reservations.Get(context.Background(), "missing")
	requireCode(t, err, apperrors.CodeNotFound)
}
