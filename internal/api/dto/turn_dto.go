package dto

import (
	"github.com/spec-kit/visit-engine/internal/safety"
)

// TurnRequest is a conversational turn from the voice layer.
type TurnRequest struct {
	Text              string             `json:"text"`
	CallID            string             `json:"call_id"`
	ParticipantID     string             `json:"participant_id"`
	TrialID           string             `json:"trial_id"`
	StructuredContext safety.CallContext `json:"structured_context"`
}

// TurnResponse tells the voice layer whether to hand off.
type TurnResponse struct {
	Result safety.Result    `json:"result"`
	Ticket *HandoffResponse `json:"ticket,omitempty"`
}
