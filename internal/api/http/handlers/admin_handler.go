package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/api/dto"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	"github.com/Geniusmania/ticket-chat-system/internal/service"
)

// AdminHandler serves triage, user administration and the audit log.
type AdminHandler struct {
	tickets *service.TicketService
	users   *service.UserService
	audit   *service.AuditService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(tickets *service.TicketService, users *service.UserService, audit *service.AuditService) *AdminHandler {
	return &AdminHandler{tickets: tickets, users: users, audit: audit}
}

// UpdateStatus PATCH /admin/tickets/:ticketId/status.
func (h *AdminHandler) UpdateStatus(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.tickets.UpdateStatus(c.UserContext(), user, c.Params("ticketId"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(change)
}

// Assign PATCH /admin/tickets/:ticketId/assignee.
func (h *AdminHandler) Assign(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.tickets.Assign(c.UserContext(), user, c.Params("ticketId"), req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(change)
}

// UpdatePriority PATCH /admin/tickets/:ticketId/priority.
func (h *AdminHandler) UpdatePriority(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.tickets.UpdatePriority(c.UserContext(), user, c.Params("ticketId"), req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(change)
}

// ListUsers GET /admin/users.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	limit, offset, _ := pagination(c.QueryInt("page"), c.QueryInt("page_size"))
	filter := repository.UserFilter{
		ActiveOnly: c.QueryBool("active_only"),
		SearchTerm: c.Query("q"),
		Limit:      limit,
		Offset:     offset,
	}
	if raw := c.Query("role"); raw != "" {
		role := domain.Role(raw)
		filter.Role = &role
	}
	users, err := h.users.List(c.UserContext(), user, filter)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, users)
}

// UpdateRole PATCH /admin/users/:userId/role.
func (h *AdminHandler) UpdateRole(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateRoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.users.SetRole(c.UserContext(), user, c.Params("userId"), req.Role)
	if err != nil {
		return err
	}
	return c.JSON(change)
}

// UpdateUserStatus PATCH /admin/users/:userId/status.
func (h *AdminHandler) UpdateUserStatus(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateUserStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.users.SetActive(c.UserContext(), user, c.Params("userId"), *req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(change)
}

// AuditLogs GET /admin/audit-logs.
func (h *AdminHandler) AuditLogs(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	page := c.QueryInt("page")
	pageSize := c.QueryInt("page_size", 50)
	if page <= 0 {
		page = 1
	}
	logs, err := h.audit.List(c.UserContext(), user, repository.AuditLogFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		UserID:     c.Query("user_id"),
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	return data(c, fiber.StatusOK, logs)
}
