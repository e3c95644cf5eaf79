package domain

import "time"

// CoordinatorRole enumerates human operator roles.
type CoordinatorRole string

const (
	CoordinatorRoleCoordinator CoordinatorRole = "COORDINATOR"
	CoordinatorRoleLead        CoordinatorRole = "LEAD"
	CoordinatorRoleAdmin       CoordinatorRole = "ADMIN"
)

// Coordinator is a study coordinator who works the handoff queue.
type Coordinator struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         CoordinatorRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsValid reports whether r is a known role.
func (r CoordinatorRole) IsValid() bool {
	switch r {
	case CoordinatorRoleCoordinator, CoordinatorRoleLead, CoordinatorRoleAdmin:
		return true
	default:
		return false
	}
}
