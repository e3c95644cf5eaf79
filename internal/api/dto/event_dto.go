package dto

import "github.com/spec-kit/visit-engine/internal/domain"

// EventPage is one page of history plus the cursor for the next call.
type EventPage struct {
	Events    []domain.Event `json:"events"`
	NextAfter int64          `json:"next_after"`
	HasMore   bool           `json:"has_more"`
}
