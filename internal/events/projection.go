package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// HistorySource pages the event log in sequence order.
type HistorySource interface {
	List(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error)
}

// ReservationView is the dashboard's picture of one reservation.
type ReservationView struct {
	ReservationID     string                  `json:"reservation_id"`
	ParticipantID     string                  `json:"participant_id"`
	TrialID           string                  `json:"trial_id"`
	SlotStart         time.Time               `json:"slot_start"`
	State             domain.ReservationState `json:"state"`
	HeldUntil         *time.Time              `json:"held_until,omitempty"`
	ConfirmationDueAt *time.Time              `json:"confirmation_due_at,omitempty"`
	LastEventSeq      int64                   `json:"last_event_seq"`
}

// TicketView is the dashboard's picture of one handoff ticket.
type TicketView struct {
	TicketID      string               `json:"ticket_id"`
	ParticipantID string               `json:"participant_id"`
	Reason        string               `json:"reason"`
	Severity      domain.Severity      `json:"severity"`
	Status        domain.HandoffStatus `json:"status"`
	AssigneeID    *string              `json:"assignee_id,omitempty"`
	DueAt         time.Time            `json:"due_at"`
	LastEventSeq  int64                `json:"last_event_seq"`
}

// Snapshot is the reduced dashboard state.
type Snapshot struct {
	LastSeq         int64             `json:"last_seq"`
	EventCount      int               `json:"event_count"`
	Reservations    []ReservationView `json:"reservations"`
	Tickets         []TicketView      `json:"tickets"`
	SafetyTriggers  map[string]int    `json:"safety_triggers"`
	FollowUps       int               `json:"followups"`
	FailedFollowUps int               `json:"failed_followups"`
}

// Projection reduces the event stream into dashboard state. Apply drops
// events it has already seen by id, so history and live feeds may overlap.
// It is not safe for concurrent use.
type Projection struct {
	seen            map[string]struct{}
	lastSeq         int64
	reservations    map[string]*ReservationView
	tickets         map[string]*TicketView
	safetyTriggers  map[string]int
	followUps       int
	failedFollowUps int
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{
		seen:           make(map[string]struct{}),
		reservations:   make(map[string]*ReservationView),
		tickets:        make(map[string]*TicketView),
		safetyTriggers: make(map[string]int),
	}
}

// Seen reports whether the event id was already applied.
func (p *Projection) Seen(eventID string) bool {
	_, ok := p.seen[eventID]
	return ok
}

// Apply folds event into the projection and reports whether it was new.
func (p *Projection) Apply(event domain.Event) (bool, error) {
	if p.Seen(event.ID) {
		return false, nil
	}
	p.seen[event.ID] = struct{}{}
	if event.Seq > p.lastSeq {
		p.lastSeq = event.Seq
	}

	switch event.Type {
	case domain.EventSlotHeld, domain.EventSlotHoldExpired, domain.EventAppointmentBooked,
		domain.EventAppointmentConfirmed, domain.EventAppointmentExpiredUnconfirmed,
		domain.EventAppointmentCancelled, domain.EventAppointmentNoShow, domain.EventAppointmentCompleted:
		var payload ReservationPayload
		if err := Decode(event, &payload); err != nil {
			return true, fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		view, ok := p.reservations[payload.ReservationID]
		if !ok {
			view = &ReservationView{ReservationID: payload.ReservationID}
			p.reservations[payload.ReservationID] = view
		}
		if event.Seq < view.LastEventSeq {
			return true, nil
		}
		view.ParticipantID = payload.ParticipantID
		view.TrialID = payload.TrialID
		view.SlotStart = payload.SlotStart
		view.State = payload.State
		view.HeldUntil = payload.HeldUntil
		view.ConfirmationDueAt = payload.ConfirmationDueAt
		view.LastEventSeq = event.Seq
	case domain.EventHandoffCreated, domain.EventHandoffAssigned, domain.EventHandoffResolved, domain.EventHandoffEscalated:
		var payload HandoffPayload
		if err := Decode(event, &payload); err != nil {
			return true, fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		view, ok := p.tickets[payload.TicketID]
		if !ok {
			view = &TicketView{TicketID: payload.TicketID}
			p.tickets[payload.TicketID] = view
		}
		if event.Seq < view.LastEventSeq {
			return true, nil
		}
		view.ParticipantID = payload.ParticipantID
		view.Reason = payload.Reason
		view.Severity = payload.Severity
		view.Status = payload.Status
		view.AssigneeID = payload.AssigneeID
		view.DueAt = payload.DueAt
		view.LastEventSeq = event.Seq
	case domain.EventSafetyTriggerFired:
		var payload SafetyTriggerPayload
		if err := Decode(event, &payload); err != nil {
			return true, fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		p.safetyTriggers[payload.Reason]++
	case domain.EventFollowUpRequested:
		p.followUps++
	case domain.EventFollowUpFailed:
		p.failedFollowUps++
	}
	return true, nil
}

// LastSeq is the highest sequence applied so far.
func (p *Projection) LastSeq() int64 {
	return p.lastSeq
}

// Snapshot copies the current state, ordered for display.
func (p *Projection) Snapshot() Snapshot {
	snap := Snapshot{
		LastSeq:         p.lastSeq,
		EventCount:      len(p.seen),
		Reservations:    make([]ReservationView, 0, len(p.reservations)),
		Tickets:         make([]TicketView, 0, len(p.tickets)),
		SafetyTriggers:  make(map[string]int, len(p.safetyTriggers)),
		FollowUps:       p.followUps,
		FailedFollowUps: p.failedFollowUps,
	}
	for _, view := range p.reservations {
		snap.Reservations = append(snap.Reservations, *view)
	}
	for _, view := range p.tickets {
		snap.Tickets = append(snap.Tickets, *view)
	}
	for reason, count := range p.safetyTriggers {
		snap.SafetyTriggers[reason] = count
	}
	sort.Slice(snap.Reservations, func(i, j int) bool {
		return snap.Reservations[i].SlotStart.Before(snap.Reservations[j].SlotStart)
	})
	sort.Slice(snap.Tickets, func(i, j int) bool {
		return snap.Tickets[i].DueAt.Before(snap.Tickets[j].DueAt)
	})
	return snap
}

// LoadHistory pages every event after the projection's cursor into it.
func (p *Projection) LoadHistory(ctx context.Context, history HistorySource, pageSize int) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	for {
		page, err := history.List(ctx, p.lastSeq, pageSize)
		if err != nil {
			return fmt.Errorf("page history after %d: %w", p.lastSeq, err)
		}
		for _, event := range page {
			if _, err := p.Apply(event); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// Replay implements the reconnect contract: subscribe first so nothing
// published during the history pull is missed, then load the full history.
// The caller feeds the returned subscription into projection.Apply, which
// suppresses events already replayed.
func Replay(ctx context.Context, history HistorySource, broadcaster *Broadcaster, projection *Projection, pageSize int) (*Subscription, error) {
	sub := broadcaster.Subscribe()
	if err := projection.LoadHistory(ctx, history, pageSize); err != nil {
		broadcaster.Unsubscribe(sub)
		return nil, err
	}
	return sub, nil
}
