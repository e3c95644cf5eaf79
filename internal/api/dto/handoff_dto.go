package dto

import (
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// CreateHandoffRequest opens a ticket by explicit request.
type CreateHandoffRequest struct {
	ParticipantID  string          `json:"participant_id"`
	TrialID        *string         `json:"trial_id"`
	ConversationID *string         `json:"conversation_id"`
	Reason         string          `json:"reason"`
	Severity       domain.Severity `json:"severity"`
	Summary        string          `json:"summary"`
	SourceKey      *string         `json:"source_key"`
}

// AssignHandoffRequest payload. An empty assignee assigns the caller.
type AssignHandoffRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// ResolveHandoffRequest payload.
type ResolveHandoffRequest struct {
	Resolution string `json:"resolution"`
}

// HandoffResponse is the coordinator-facing ticket.
type HandoffResponse struct {
	ID             string               `json:"id"`
	ParticipantID  string               `json:"participant_id"`
	TrialID        *string              `json:"trial_id"`
	ConversationID *string              `json:"conversation_id"`
	Reason         string               `json:"reason"`
	Severity       domain.Severity      `json:"severity"`
	Summary        string               `json:"summary"`
	Status         domain.HandoffStatus `json:"status"`
	AssigneeID     *string              `json:"assignee_id"`
	Resolution     *string              `json:"resolution,omitempty"`
	ResolvedBy     *string              `json:"resolved_by,omitempty"`
	DueAt          time.Time            `json:"due_at"`
	Overdue        bool                 `json:"overdue"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
}

// HandoffFromDomain maps a ticket; now decides the overdue flag.
func HandoffFromDomain(ticket *domain.HandoffTicket, now time.Time) HandoffResponse {
	return HandoffResponse{
		ID:             ticket.ID,
		ParticipantID:  ticket.ParticipantID,
		TrialID:        ticket.TrialID,
		ConversationID: ticket.ConversationID,
		Reason:         ticket.Reason,
		Severity:       ticket.Severity,
		Summary:        ticket.Summary,
		Status:         ticket.Status,
		AssigneeID:     ticket.AssigneeID,
		Resolution:     ticket.Resolution,
		ResolvedBy:     ticket.ResolvedBy,
		DueAt:          ticket.DueAt,
		Overdue:        ticket.IsOpen() && now.After(ticket.DueAt),
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
		ResolvedAt:     ticket.ResolvedAt,
	}
}
