package domain

import "time"

// ReservationState enumerates the slot reservation lifecycle.
type ReservationState string

const (
	ReservationHeld               ReservationState = "held"
	ReservationBooked             ReservationState = "booked"
	ReservationConfirmed          ReservationState = "confirmed"
	ReservationCompleted          ReservationState = "completed"
	ReservationNoShow             ReservationState = "no_show"
	ReservationCancelled          ReservationState = "cancelled"
	ReservationExpiredUnconfirmed ReservationState = "expired_unconfirmed"
)

// LiveReservationStates hold a slot. Everything else is terminal.
var LiveReservationStates = []ReservationState{
	ReservationHeld,
	ReservationBooked,
	ReservationConfirmed,
}

// IsLive reports whether the state occupies its slot.
func (s ReservationState) IsLive() bool {
	switch s {
	case ReservationHeld, ReservationBooked, ReservationConfirmed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s ReservationState) IsTerminal() bool {
	switch s {
	case ReservationCompleted, ReservationNoShow, ReservationCancelled, ReservationExpiredUnconfirmed:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known state.
func (s ReservationState) IsValid() bool {
	return s.IsLive() || s.IsTerminal()
}

// Timeslot is a visit window. Start identifies the slot within a trial.
type Timeslot struct {
	Start    time.Time
	Duration time.Duration
}

// End returns the exclusive end of the window.
func (t Timeslot) End() time.Time {
	return t.Start.Add(t.Duration)
}

// Reservation is one appointment attempt for a (trial, timeslot).
type Reservation struct {
	ID                string
	ParticipantID     string
	TrialID           string
	Slot              Timeslot
	State             ReservationState
	HeldUntil         time.Time
	ConfirmationDueAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EffectiveState applies read-time expiry: a hold past its TTL or a booking
// past its confirmation deadline is reported as expired_unconfirmed even if
// no sweep has persisted that yet.
func (r *Reservation) EffectiveState(now time.Time) ReservationState {
	switch r.State {
	case ReservationHeld:
		if !now.Before(r.HeldUntil) {
			return ReservationExpiredUnconfirmed
		}
	case ReservationBooked:
		if r.ConfirmationDueAt != nil && !now.Before(*r.ConfirmationDueAt) {
			return ReservationExpiredUnconfirmed
		}
	}
	return r.State
}

// IsLiveAt reports whether the reservation still occupies its slot at now.
func (r *Reservation) IsLiveAt(now time.Time) bool {
	return r.EffectiveState(now).IsLive()
}

// LapsedAt reports whether the stored state is live but the effective state
// has already expired, i.e. a sweep or lazy retirement is pending.
func (r *Reservation) LapsedAt(now time.Time) bool {
	return r.State.IsLive() && !r.IsLiveAt(now)
}
