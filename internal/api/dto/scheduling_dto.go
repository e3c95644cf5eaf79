package dto

import (
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// Timeslot is a visit window on the wire.
type Timeslot struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
}

// ToDomain converts the wire timeslot.
func (t Timeslot) ToDomain() domain.Timeslot {
	return domain.Timeslot{Start: t.Start.UTC(), Duration: time.Duration(t.DurationMinutes) * time.Minute}
}

// TimeslotFromDomain converts a domain timeslot.
func TimeslotFromDomain(slot domain.Timeslot) Timeslot {
	return Timeslot{Start: slot.Start, DurationMinutes: int(slot.Duration / time.Minute)}
}

// SchedulingRequest payload for offers and holds.
type SchedulingRequest struct {
	ParticipantID      string            `json:"participant_id"`
	TrialID            string            `json:"trial_id"`
	CandidateTimeslots []Timeslot        `json:"candidate_timeslots"`
	Provenance         domain.Provenance `json:"provenance"`
}

// SlotOfferResponse annotates one candidate.
type SlotOfferResponse struct {
	Timeslot  Timeslot `json:"timeslot"`
	Available bool     `json:"available"`
	Reason    string   `json:"reason,omitempty"`
}

// HoldResponse reports the held reservation and skipped candidates.
type HoldResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Skipped     []SlotOfferResponse `json:"skipped"`
}

// ConfirmationRequest carries the teach-back result.
type ConfirmationRequest struct {
	Confirmed *bool `json:"confirmed"`
}

// TransitionRequest optionally tags who reported a terminal transition.
type TransitionRequest struct {
	Provenance domain.Provenance `json:"provenance"`
}

// ReservationResponse is the reservation status for display.
type ReservationResponse struct {
	ID                string                  `json:"id"`
	ParticipantID     string                  `json:"participant_id"`
	TrialID           string                  `json:"trial_id"`
	Timeslot          Timeslot                `json:"timeslot"`
	State             domain.ReservationState `json:"state"`
	HeldUntil         time.Time               `json:"held_until"`
	ConfirmationDueAt *time.Time              `json:"confirmation_due_at"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// ReservationFromDomain maps a reservation.
func ReservationFromDomain(res *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:                res.ID,
		ParticipantID:     res.ParticipantID,
		TrialID:           res.TrialID,
		Timeslot:          TimeslotFromDomain(res.Slot),
		State:             res.State,
		HeldUntil:         res.HeldUntil,
		ConfirmationDueAt: res.ConfirmationDueAt,
		CreatedAt:         res.CreatedAt,
		UpdatedAt:         res.UpdatedAt,
	}
}
