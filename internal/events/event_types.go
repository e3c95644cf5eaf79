package events

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// ReservationPayload is recorded with every reservation transition.
type ReservationPayload struct {
	ReservationID       string                  `json:"reservation_id"`
	ParticipantID       string                  `json:"participant_id"`
	TrialID             string                  `json:"trial_id"`
	SlotStart           time.Time               `json:"slot_start"`
	SlotDurationSeconds int64                   `json:"slot_duration_seconds"`
	State               domain.ReservationState `json:"state"`
	PreviousState       domain.ReservationState `json:"previous_state,omitempty"`
	HeldUntil           *time.Time              `json:"held_until,omitempty"`
	ConfirmationDueAt   *time.Time              `json:"confirmation_due_at,omitempty"`
}

// NewReservationPayload captures res after a transition from previous.
func NewReservationPayload(res *domain.Reservation, previous domain.ReservationState) ReservationPayload {
	payload := ReservationPayload{
		ReservationID:       res.ID,
		ParticipantID:       res.ParticipantID,
		TrialID:             res.TrialID,
		SlotStart:           res.Slot.Start,
		SlotDurationSeconds: int64(res.Slot.Duration / time.Second),
		State:               res.State,
		PreviousState:       previous,
		ConfirmationDueAt:   res.ConfirmationDueAt,
	}
	if res.State == domain.ReservationHeld {
		heldUntil := res.HeldUntil
		payload.HeldUntil = &heldUntil
	}
	return payload
}

// FollowUpPayload asks the communications collaborator to reach out.
type FollowUpPayload struct {
	ReservationID string `json:"reservation_id"`
	ParticipantID string `json:"participant_id"`
	TrialID       string `json:"trial_id"`
	Reason        string `json:"reason"`
}

// FollowUpFailedPayload records a follow-up the communicator never
// accepted. The worker moves past the event after writing it.
type FollowUpFailedPayload struct {
	EventID       string `json:"event_id"`
	EventSeq      int64  `json:"event_seq"`
	ReservationID string `json:"reservation_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Attempts      int    `json:"attempts"`
	Error         string `json:"error"`
}

// SafetyTriggerPayload records a non-clear gate result.
type SafetyTriggerPayload struct {
	CallID        string          `json:"call_id"`
	ParticipantID string          `json:"participant_id"`
	Reason        string          `json:"reason"`
	Severity      domain.Severity `json:"severity"`
	Matched       string          `json:"matched,omitempty"`
}

// HandoffPayload is recorded with every ticket transition.
type HandoffPayload struct {
	TicketID       string               `json:"ticket_id"`
	ParticipantID  string               `json:"participant_id"`
	Reason         string               `json:"reason"`
	Severity       domain.Severity      `json:"severity"`
	Status         domain.HandoffStatus `json:"status"`
	PreviousStatus domain.HandoffStatus `json:"previous_status,omitempty"`
	AssigneeID     *string              `json:"assignee_id,omitempty"`
	Resolution     *string              `json:"resolution,omitempty"`
	ResolvedBy     *string              `json:"resolved_by,omitempty"`
	DueAt          time.Time            `json:"due_at"`
}

// NewHandoffPayload captures ticket after a transition from previous.
func NewHandoffPayload(ticket *domain.HandoffTicket, previous domain.HandoffStatus) HandoffPayload {
	return HandoffPayload{
		TicketID:       ticket.ID,
		ParticipantID:  ticket.ParticipantID,
		Reason:         ticket.Reason,
		Severity:       ticket.Severity,
		Status:         ticket.Status,
		PreviousStatus: previous,
		AssigneeID:     ticket.AssigneeID,
		Resolution:     ticket.Resolution,
		ResolvedBy:     ticket.ResolvedBy,
		DueAt:          ticket.DueAt,
	}
}

// Decode unmarshals an event payload into out.
func Decode(event domain.Event, out any) error {
	if len(event.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(event.Payload, out)
}
