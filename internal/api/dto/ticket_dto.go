package dto

import (
	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title" validate:"notblank,max=200"`
	Description string                `json:"description" validate:"notblank"`
	Priority    domain.TicketPriority `json:"priority" validate:"omitempty,ticket_priority"`
	Category    domain.TicketCategory `json:"category" validate:"required,ticket_category"`
}

// TicketListQuery captures query filters for ticket listings.
type TicketListQuery struct {
	Status     string `query:"status"`
	Priority   string `query:"priority"`
	Category   string `query:"category"`
	AssigneeID string `query:"assignee_id"`
	Unassigned bool   `query:"unassigned"`
	Search     string `query:"q"`
	Page       int    `query:"page"`
	PageSize   int    `query:"page_size"`
}

// TicketListResponse is one page of tickets.
type TicketListResponse struct {
	Items    []domain.Ticket `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// ThreadResponse is the ticket thread view. Live is false when the data
// came from a cache or the seed dataset.
type ThreadResponse struct {
	*conversation.Thread
	Live bool `json:"live"`
}

// AttachmentGroupsResponse lists attachments grouped by message.
type AttachmentGroupsResponse struct {
	Groups []conversation.AttachmentGroup `json:"groups"`
}

// TypingResponse reports whether the typing signal was broadcast.
type TypingResponse struct {
	Sent bool `json:"sent"`
}
