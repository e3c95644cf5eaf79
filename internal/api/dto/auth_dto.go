package dto

import (
	"time"

	"github.com/spec-kit/visit-engine/internal/domain"
)

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateCoordinatorRequest payload.
type CreateCoordinatorRequest struct {
	Name     string                 `json:"name"`
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Role     domain.CoordinatorRole `json:"role"`
}

// CoordinatorResponse omits credentials.
type CoordinatorResponse struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Email  string                 `json:"email"`
	Role   domain.CoordinatorRole `json:"role"`
	Active bool                   `json:"active"`
}

// LoginResponse carries the access token.
type LoginResponse struct {
	AccessToken string              `json:"access_token"`
	ExpiresAt   time.Time           `json:"expires_at"`
	Coordinator CoordinatorResponse `json:"coordinator"`
}

// CoordinatorFromDomain maps a coordinator.
func CoordinatorFromDomain(c *domain.Coordinator) CoordinatorResponse {
	return CoordinatorResponse{ID: c.ID, Name: c.Name, Email: c.Email, Role: c.Role, Active: c.Active}
}
