package dto

import "github.com/Geniusmania/ticket-chat-system/internal/domain"

// UpdateStatusRequest moves a ticket to a new status.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status" validate:"required,ticket_status"`
}

// UpdatePriorityRequest changes ticket priority.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority" validate:"required,ticket_priority"`
}

// AssignRequest sets or clears (null) the assignee.
type AssignRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

// UpdateRoleRequest promotes or demotes a profile.
type UpdateRoleRequest struct {
	Role domain.Role `json:"role" validate:"required,role"`
}

// UpdateUserStatusRequest activates or deactivates a profile.
type UpdateUserStatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// ArticleRequest is the knowledge base article form.
type ArticleRequest struct {
	Title    string `json:"title" validate:"notblank,max=200"`
	Content  string `json:"content" validate:"notblank"`
	Category string `json:"category" validate:"notblank,max=80"`
}
