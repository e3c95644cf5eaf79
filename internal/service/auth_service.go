package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/auth"
	"github.com/spec-kit/visit-engine/internal/config"
	"github.com/spec-kit/visit-engine/internal/domain"
	"github.com/spec-kit/visit-engine/internal/repository"
	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// AuthService handles coordinator login.
type AuthService struct {
	coordinators repository.CoordinatorRepository
	tokenMgr     *auth.TokenManager
	hasher       *auth.PasswordHasher
	logger       *zap.Logger
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	CoordinatorRepo repository.CoordinatorRepository
	Logger          *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) (*AuthService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &AuthService{
		coordinators: deps.CoordinatorRepo,
		tokenMgr:     auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		hasher:       hasher,
		logger:       logger,
	}, nil
}

// Login authenticates a coordinator and returns a role-bearing token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Coordinator, string, time.Time, error) {
	coordinator, err := s.coordinators.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.hasher.Verify("", password)
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if !s.hasher.Verify(coordinator.PasswordHash, password) {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if !coordinator.Active {
		return nil, "", time.Time{}, apperrors.NewForbidden("coordinator inactive")
	}
	if s.hasher.Outdated(coordinator.PasswordHash) {
		s.rehash(ctx, coordinator, password)
	}
	token, exp, err := s.tokenMgr.GenerateToken(coordinator.ID, domain.SubjectTypeCoordinator, &coordinator.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return coordinator, token, exp, nil
}

// CreateCoordinator registers a coordinator with a hashed password.
func (s *AuthService) CreateCoordinator(ctx context.Context, name, email, password string, role domain.CoordinatorRole) (*domain.Coordinator, error) {
	details := map[string]any{}
	if strings.TrimSpace(name) == "" {
		details["name"] = "required"
	}
	if !strings.Contains(email, "@") {
		details["email"] = "invalid"
	}
	if len(password) < auth.MinPasswordLength {
		details["password"] = fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength)
	}
	if !role.IsValid() {
		details["role"] = "unknown"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid coordinator", details)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	coordinator := &domain.Coordinator{
		Name:         strings.TrimSpace(name),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.coordinators.Create(ctx, coordinator); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": coordinator.Email})
		}
		return nil, apperrors.MapError(err)
	}
	return coordinator, nil
}

// EnsureBootstrapCoordinator creates the configured admin on first start.
func (s *AuthService) EnsureBootstrapCoordinator(ctx context.Context, cfg config.AuthConfig) error {
	if cfg.BootstrapEmail == "" {
		return nil
	}
	_, err := s.coordinators.GetByEmail(ctx, cfg.BootstrapEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	coordinator, err := s.CreateCoordinator(ctx, cfg.BootstrapName, cfg.BootstrapEmail, cfg.BootstrapPassword, domain.CoordinatorRoleAdmin)
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap coordinator created", zap.String("coordinator_id", coordinator.ID))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// rehash upgrades a stored hash after the configured cost changed. Failure
// only costs the upgrade, never the login.
func (s *AuthService) rehash(ctx context.Context, coordinator *domain.Coordinator, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("password rehash failed", zap.String("coordinator_id", coordinator.ID), zap.Error(err))
		return
	}
	coordinator.PasswordHash = hash
	if err := s.coordinators.Update(ctx, coordinator); err != nil {
		s.logger.Warn("password rehash not stored", zap.String("coordinator_id", coordinator.ID), zap.Error(err))
	}
}
