package domain

import "time"

// HandoffStatus enumerates lifecycle states for escalation tickets.
type HandoffStatus string

const (
	HandoffStatusOpen      HandoffStatus = "open"
	HandoffStatusAssigned  HandoffStatus = "assigned"
	HandoffStatusResolved  HandoffStatus = "resolved"
	HandoffStatusEscalated HandoffStatus = "escalated"
)

// Severity is pre-assigned per safety rule and drives the ticket SLA.
type Severity string

const (
	SeverityHandoffNow     Severity = "handoff_now"
	SeverityCallbackTicket Severity = "callback_ticket"
	SeverityStopContact    Severity = "stop_contact"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityHandoffNow, SeverityCallbackTicket, SeverityStopContact:
		return true
	default:
		return false
	}
}

// HandoffTicket directs a situation to a human coordinator.
type HandoffTicket struct {
	ID             string
	ParticipantID  string
	TrialID        *string
	ConversationID *string
	Reason         string
	Severity       Severity
	Summary        string
	Status         HandoffStatus
	AssigneeID     *string
	Resolution     *string
	ResolvedBy     *string
	SourceKey      *string
	DueAt          time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}

// IsOpen reports whether the ticket still needs a coordinator.
func (t *HandoffTicket) IsOpen() bool {
	return t.Status != HandoffStatusResolved
}

// OverdueAt reports whether an unassigned ticket has passed its SLA.
func (t *HandoffTicket) OverdueAt(now time.Time) bool {
	return t.Status == HandoffStatusOpen && now.After(t.DueAt)
}
