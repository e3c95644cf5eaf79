package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/visit-engine/internal/api/dto"
	"github.com/spec-kit/visit-engine/internal/auth"
	"github.com/spec-kit/visit-engine/internal/service"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// AuthHandler exposes coordinator login and account endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	coordinator, token, exp, err := h.authService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": dto.LoginResponse{
			AccessToken: token,
			ExpiresAt:   exp,
			Coordinator: dto.CoordinatorFromDomain(coordinator),
		},
	})
}

// Me handles GET /v1/console/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Coordinator == nil {
		return apperrors.NewUnauthorized("not authenticated")
	}
	return c.JSON(fiber.Map{"data": dto.CoordinatorFromDomain(principal.Coordinator)})
}

// CreateCoordinator handles POST /v1/console/coordinators.
func (h *AuthHandler) CreateCoordinator(c *fiber.Ctx) error {
	var req dto.CreateCoordinatorRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	coordinator, err := h.authService.CreateCoordinator(c.UserContext(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.CoordinatorFromDomain(coordinator)})
}
