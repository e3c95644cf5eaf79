package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// ServiceTokenHeader authenticates the voice layer.
const ServiceTokenHeader = "X-Service-Token"

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	Coordinator *domain.Coordinator
}

// AuthMiddleware validates coordinator bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens       *TokenManager
	coordinators repository.CoordinatorRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, coordinators repository.CoordinatorRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, coordinators: coordinators}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if claims.Subject != domain.SubjectTypeCoordinator {
		return apperrors.NewUnauthorized("unknown subject")
	}

	coordinator, err := m.coordinators.GetByID(c.UserContext(), claims.RegisteredClaims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("coordinator not found")
		}
		return apperrors.MapError(err)
	}
	if !coordinator.Active {
		return apperrors.NewForbidden("coordinator inactive")
	}

	c.Locals(principalKey, &Principal{SubjectType: domain.SubjectTypeCoordinator, Coordinator: coordinator})
	return c.Next()
}

// ServiceToken guards voice-layer routes with a shared secret. An empty
// token disables the check.
func ServiceToken(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		if len(expected) > 0 {
			provided := []byte(c.Get(ServiceTokenHeader))
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				return apperrors.NewUnauthorized("invalid service token")
			}
		}
		c.Locals(principalKey, &Principal{SubjectType: domain.SubjectTypeService})
		return c.Next()
	}
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
