package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/visit-engine/internal/domain"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// RequireRole ensures the coordinator principal has one of the allowed
// roles. No roles means any active coordinator.
func RequireRole(allowed ...domain.CoordinatorRole) fiber.Handler {
	allowedSet := make(map[domain.CoordinatorRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.SubjectType != domain.SubjectTypeCoordinator || principal.Coordinator == nil {
			return apperrors.NewForbidden("coordinator required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Coordinator.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
