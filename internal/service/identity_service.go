package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/civic-requests/internal/auth"
	"github.com/spec-kit/civic-requests/internal/config"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/repository"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

// IdentityService issues verified identities to the API layer. The
// lifecycle engine itself never parses credentials; it only receives
// roles this service has verified.
type IdentityService struct {
	users      repository.UserRepository
	tokens     *auth.TokenManager
	bcryptCost int
}

// LoginResult carries an issued token and its subject.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.User
}

// NewIdentityService constructs the service.
func NewIdentityService(cfg config.Config, users repository.UserRepository) *IdentityService {
	return &IdentityService{
		users:      users,
		tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// TokenManager exposes the manager for middleware construction.
func (s *IdentityService) TokenManager() *auth.TokenManager {
	return s.tokens
}

// RegisterCitizen creates a citizen account and issues a token.
func (s *IdentityService) RegisterCitizen(ctx context.Context, email, password, name string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperrors.NewValidationError("email and password required", nil)
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	user := &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         domain.UserRoleCitizen,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return s.issueToken(user)
}

// Login verifies credentials for any role.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.issueToken(user)
}

// LoginOperator verifies credentials and requires a staff or agent role.
func (s *IdentityService) LoginOperator(ctx context.Context, email, password string) (*LoginResult, error) {
	result, err := s.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if result.User.Role != domain.UserRoleStaff && result.User.Role != domain.UserRoleAgent {
		return nil, apperrors.NewForbidden("operator role required")
	}
	return result, nil
}

func (s *IdentityService) issueToken(user *domain.User) (*LoginResult, error) {
	token, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}
