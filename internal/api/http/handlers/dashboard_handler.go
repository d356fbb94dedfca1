package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/service"
)

// DashboardHandler serves ticket summaries.
type DashboardHandler struct {
	service *service.DashboardService
}

// NewDashboardHandler constructs handler.
func NewDashboardHandler(dashboards *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: dashboards}
}

// User GET /dashboard.
func (h *DashboardHandler) User(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	dash, err := h.service.ForUser(c.UserContext(), user)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, dash)
}

// Admin GET /admin/dashboard.
func (h *DashboardHandler) Admin(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	dash, err := h.service.ForAdmin(c.UserContext(), user)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, dash)
}
