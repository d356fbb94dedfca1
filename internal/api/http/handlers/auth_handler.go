package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/api/dto"
	"github.com/Geniusmania/ticket-chat-system/internal/auth"
	"github.com/Geniusmania/ticket-chat-system/internal/service"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// AuthHandler exposes registration, login and password flows.
type AuthHandler struct {
	service *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{service: authService}
}

// Register POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.service.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusCreated, fiber.Map{"user": user, "pending_verification": true})
}

// Verify POST /auth/verify.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.service.VerifyEmail(c.UserContext(), req.Token)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, fiber.Map{"user": user})
}

// Login POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, res)
}

// Logout POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.service.Logout(c.UserContext(), principal); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RequestPasswordReset POST /auth/password/reset/request.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.RequestPasswordReset(c.UserContext(), req.Email, req.RedirectURL); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"status": "sent"}})
}

// ConfirmPasswordReset POST /auth/password/reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetConfirmRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.ResetPassword(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdatePassword POST /auth/password/update.
func (h *AuthHandler) UpdatePassword(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.PasswordUpdateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.UpdatePassword(c.UserContext(), user, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Session GET /session.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	view, err := h.service.Session(auth.CurrentUser(c))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, view)
}
