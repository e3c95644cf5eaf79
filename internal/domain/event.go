package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates the closed set of recorded transitions.
type EventType string

const (
	EventSlotHeld                      EventType = "slot_held"
	EventSlotHoldExpired               EventType = "slot_hold_expired"
	EventAppointmentBooked             EventType = "appointment_booked"
	EventAppointmentConfirmed          EventType = "appointment_confirmed"
	EventAppointmentExpiredUnconfirmed EventType = "appointment_expired_unconfirmed"
	EventAppointmentCancelled          EventType = "appointment_cancelled"
	EventAppointmentNoShow             EventType = "appointment_no_show"
	EventAppointmentCompleted          EventType = "appointment_completed"
	EventFollowUpRequested             EventType = "followup_requested"
	EventFollowUpFailed                EventType = "followup_failed"
	EventSafetyTriggerFired            EventType = "safety_trigger_fired"
	EventHandoffCreated                EventType = "handoff_created"
	EventHandoffAssigned               EventType = "handoff_assigned"
	EventHandoffResolved               EventType = "handoff_resolved"
	EventHandoffEscalated              EventType = "handoff_escalated"
)

// IsValid reports whether t belongs to the closed enumeration.
func (t EventType) IsValid() bool {
	switch t {
	case EventSlotHeld, EventSlotHoldExpired, EventAppointmentBooked, EventAppointmentConfirmed,
		EventAppointmentExpiredUnconfirmed, EventAppointmentCancelled, EventAppointmentNoShow,
		EventAppointmentCompleted, EventFollowUpRequested, EventFollowUpFailed, EventSafetyTriggerFired,
		EventHandoffCreated, EventHandoffAssigned, EventHandoffResolved, EventHandoffEscalated:
		return true
	default:
		return false
	}
}

// Provenance records where a piece of data came from.
type Provenance string

const (
	ProvenanceParticipantStated Provenance = "participant_stated"
	ProvenanceExternalRecord    Provenance = "external_record"
	ProvenanceCoordinator       Provenance = "coordinator"
	ProvenanceSystem            Provenance = "system"
)

// IsValid reports whether p is a known provenance tag.
func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceParticipantStated, ProvenanceExternalRecord, ProvenanceCoordinator, ProvenanceSystem:
		return true
	default:
		return false
	}
}

// EventLinks are optional references to the entities an event concerns.
type EventLinks struct {
	ReservationID  *string `json:"reservation_id,omitempty"`
	ParticipantID  *string `json:"participant_id,omitempty"`
	TrialID        *string `json:"trial_id,omitempty"`
	ConversationID *string `json:"conversation_id,omitempty"`
	TicketID       *string `json:"ticket_id,omitempty"`
}

// Event is an immutable entry in the append-only log.
type Event struct {
	ID             string          `json:"event_id"`
	Seq            int64           `json:"seq"`
	IdempotencyKey string          `json:"idempotency_key"`
	Type           EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Provenance     Provenance      `json:"provenance"`
	Links          EventLinks      `json:"links"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Ref returns a pointer to a copy of s, or nil for the empty string.
func Ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
