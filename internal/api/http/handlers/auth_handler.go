package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/civic-requests/internal/api/dto"
	"github.com/spec-kit/civic-requests/internal/service"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

// AuthHandler exposes registration and login endpoints.
type AuthHandler struct {
	identity *service.IdentityService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(identity *service.IdentityService) *AuthHandler {
	return &AuthHandler{identity: identity}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var payload dto.RegisterPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if payload.Email == "" || payload.Password == "" || payload.Name == "" {
		return apperrors.NewValidationError("name, email, password required", nil)
	}

	result, err := h.identity.RegisterCitizen(c.Context(), payload.Email, payload.Password, payload.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": loginResponse(result)})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var payload dto.LoginPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if payload.Email == "" || payload.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	result, err := h.identity.Login(c.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": loginResponse(result)})
}

// OperatorLogin handles POST /auth/operators/login.
func (h *AuthHandler) OperatorLogin(c *fiber.Ctx) error {
	var payload dto.LoginPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if payload.Email == "" || payload.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	result, err := h.identity.LoginOperator(c.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": loginResponse(result)})
}

func loginResponse(result *service.LoginResult) fiber.Map {
	return fiber.Map{
		"user": fiber.Map{
			"id":    result.User.ID,
			"name":  result.User.Name,
			"email": result.User.Email,
			"role":  result.User.Role,
		},
		"auth": dto.AuthResponse{Token: result.Token, ExpiresAt: result.ExpiresAt},
	}
}
