package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/api/http/handlers"
	"github.com/Geniusmania/ticket-chat-system/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Admin          *handlers.AdminHandler
	KnowledgeBase  *handlers.KnowledgeBaseHandler
	Dashboard      *handlers.DashboardHandler
	Realtime       *handlers.RealtimeHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/verify", cfg.Auth.Verify)
	authGroup.Post("/password/reset/request", cfg.Auth.RequestPasswordReset)
	authGroup.Post("/password/reset/confirm", cfg.Auth.ConfirmPasswordReset)

	api.Get("/knowledge-base", cfg.KnowledgeBase.List)
	api.Get("/knowledge-base/:articleId", cfg.KnowledgeBase.Get)

	protected := api.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/auth/logout", cfg.Auth.Logout)
	protected.Post("/auth/password/update", cfg.Auth.UpdatePassword)
	protected.Get("/session", cfg.Auth.Session)

	protected.Post("/tickets", cfg.Tickets.CreateTicket)
	protected.Get("/tickets", cfg.Tickets.ListTickets)
	protected.Get("/tickets/:ticketId", cfg.Tickets.GetTicket)
	protected.Post("/tickets/:ticketId/messages", cfg.Tickets.SendMessage)
	protected.Get("/tickets/:ticketId/attachments", cfg.Tickets.ListAttachments)
	protected.Post("/tickets/:ticketId/typing", cfg.Tickets.Typing)
	protected.Get("/attachments/:attachmentId/download", cfg.Tickets.DownloadAttachment)
	protected.Get("/dashboard", cfg.Dashboard.User)

	if cfg.Realtime != nil {
		protected.Get("/ws/tickets/:ticketId", cfg.Realtime.Upgrade, cfg.Realtime.Serve())
	}

	admin := protected.Group("/admin", auth.RequireAdmin())
	admin.Patch("/tickets/:ticketId/status", cfg.Admin.UpdateStatus)
	admin.Patch("/tickets/:ticketId/assignee", cfg.Admin.Assign)
	admin.Patch("/tickets/:ticketId/priority", cfg.Admin.UpdatePriority)
	admin.Get("/users", cfg.Admin.ListUsers)
	admin.Patch("/users/:userId/role", cfg.Admin.UpdateRole)
	admin.Patch("/users/:userId/status", cfg.Admin.UpdateUserStatus)
	admin.Get("/audit-logs", cfg.Admin.AuditLogs)
	admin.Get("/dashboard", cfg.Dashboard.Admin)
	admin.Post("/knowledge-base", cfg.KnowledgeBase.Create)
	admin.Put("/knowledge-base/:articleId", cfg.KnowledgeBase.Update)
	admin.Delete("/knowledge-base/:articleId", cfg.KnowledgeBase.Delete)
}
