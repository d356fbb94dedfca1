package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const maxTicketPage = 100

// TicketService coordinates ticket creation and admin triage.
type TicketService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	audit      AuditRecorder
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Audit      AuditRecorder
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// TicketCreateInput describes the new-ticket form.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Category    domain.TicketCategory
}

// TicketListFilter describes listing filters. Owner scoping is applied
// from the viewer, not from the filter.
type TicketListFilter struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Category   *domain.TicketCategory
	AssigneeID *string
	Unassigned bool
	SearchTerm string
	Limit      int
	Offset     int
}

// TicketPage is one page of a listing.
type TicketPage struct {
	Items []domain.Ticket `json:"items"`
	Total int             `json:"total"`
}

// TicketChange is a triage mutation result.
type TicketChange = Mutation[domain.Ticket]

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		audit:      deps.Audit,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger).Named("tickets"),
	}
}

// CreateTicket opens a ticket owned by owner.
func (s *TicketService) CreateTicket(ctx context.Context, owner *domain.User, input TicketCreateInput) (*TicketChange, error) {
	if owner == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	fields := map[string]any{}
	if title == "" {
		fields["title"] = "title is required"
	}
	if description == "" {
		fields["description"] = "description is required"
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	if !input.Priority.Valid() {
		fields["priority"] = "priority must be one of [low medium high critical]"
	}
	if !input.Category.Valid() {
		fields["category"] = "category must be one of [technical billing general]"
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", map[string]any{"fields": fields})
	}

	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    input.Priority,
		Category:    input.Category,
		UserID:      owner.ID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewStoreFailure("create ticket", err)
	}

	failed := recordAudit(ctx, s.audit, s.logger, owner, domain.AuditActionCreateTicket, domain.EntityTicket, ticket.ID, map[string]any{
		"title":    ticket.Title,
		"priority": ticket.Priority,
		"category": ticket.Category,
	})
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(owner),
		Payload: events.TicketCreatedPayload{
			Title:    ticket.Title,
			Priority: ticket.Priority,
			Category: ticket.Category,
		},
	})
	return &TicketChange{Value: ticket, AuditFailed: failed}, nil
}

// ListTickets returns the viewer's tickets, or all tickets for admins.
func (s *TicketService) ListTickets(ctx context.Context, viewer *domain.User, filter TicketListFilter) (*TicketPage, error) {
	if viewer == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": st})
		}
	}
	for _, p := range filter.Priorities {
		if !p.Valid() {
			return nil, apperrors.NewValidationError("invalid priority filter", map[string]any{"priority": p})
		}
	}
	if filter.Category != nil && !filter.Category.Valid() {
		return nil, apperrors.NewValidationError("invalid category filter", map[string]any{"category": *filter.Category})
	}
	if filter.Limit <= 0 || filter.Limit > maxTicketPage {
		filter.Limit = 25
	}

	repoFilter := repository.TicketFilter{
		AssigneeID: filter.AssigneeID,
		Unassigned: filter.Unassigned,
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		Category:   filter.Category,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		repoFilter.SearchTerm = &term
	}
	if !viewer.IsAdmin() {
		ownerID := viewer.ID
		repoFilter.UserID = &ownerID
	}

	items, err := s.tickets.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.NewStoreFailure("list tickets", err)
	}
	total, err := s.tickets.Count(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.NewStoreFailure("count tickets", err)
	}
	if items == nil {
		items = []domain.Ticket{}
	}
	return &TicketPage{Items: items, Total: total}, nil
}

// GetTicket returns a ticket visible to viewer.
func (s *TicketService) GetTicket(ctx context.Context, viewer *domain.User, ticketID string) (*domain.Ticket, error) {
	if viewer == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin() && ticket.UserID != viewer.ID {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	return ticket, nil
}

// UpdateStatus moves a ticket to any valid status.
func (s *TicketService) UpdateStatus(ctx context.Context, actor *domain.User, ticketID string, status domain.TicketStatus) (*TicketChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	change, _, err := s.changeStatus(ctx, actor, ticketID, status)
	return change, err
}

// AdvanceStatus moves a ticket from one status to another. A ticket that is
// no longer in from is returned unchanged.
func (s *TicketService) AdvanceStatus(ctx context.Context, actor *domain.User, ticketID string, from, to domain.TicketStatus) (*TicketChange, bool, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, false, err
	}
	if !from.Valid() || !to.Valid() {
		return nil, false, apperrors.NewValidationError("invalid status", map[string]any{"from": from, "to": to})
	}
	return s.changeStatus(ctx, actor, ticketID, to, from)
}

func (s *TicketService) changeStatus(ctx context.Context, actor *domain.User, ticketID string, status domain.TicketStatus, onlyFrom ...domain.TicketStatus) (*TicketChange, bool, error) {
	res, err := s.tickets.UpdateStatus(ctx, ticketID, status, onlyFrom...)
	if err != nil {
		return nil, false, storeError(err, "ticket", "update ticket status", map[string]any{"ticket_id": ticketID})
	}
	ticket := &res.After
	if !res.Changed {
		return &TicketChange{Value: ticket}, false, nil
	}

	oldStatus := res.Before.Status
	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionUpdateStatus, domain.EntityTicket, ticket.ID, map[string]any{
		"old_status": oldStatus,
		"new_status": status,
	})
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.TicketStatusChangedPayload{OldStatus: oldStatus, NewStatus: status},
	})
	return &TicketChange{Value: ticket, AuditFailed: failed}, true, nil
}

// Assign sets or clears the assignee. The assignee must be an active admin.
func (s *TicketService) Assign(ctx context.Context, actor *domain.User, ticketID string, assigneeID *string) (*TicketChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if assigneeID != nil && *assigneeID == "" {
		assigneeID = nil
	}
	if assigneeID != nil {
		assignee, err := s.users.GetByID(ctx, *assigneeID)
		if err != nil {
			return nil, storeError(err, "assignee", "load assignee", map[string]any{"user_id": *assigneeID})
		}
		if !assignee.IsAdmin() || !assignee.IsActive {
			return nil, apperrors.NewValidationError("assignee must be an active admin", map[string]any{"user_id": *assigneeID})
		}
	}

	res, err := s.tickets.UpdateAssignee(ctx, ticketID, assigneeID)
	if err != nil {
		return nil, storeError(err, "ticket", "assign ticket", map[string]any{"ticket_id": ticketID})
	}
	ticket := &res.After
	if !res.Changed {
		return &TicketChange{Value: ticket}, nil
	}
	oldAssignee := res.Before.AssignedToID

	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionUpdateAssignment, domain.EntityTicket, ticket.ID, map[string]any{
		"old_assignment": derefOrNil(oldAssignee),
		"new_assignment": derefOrNil(assigneeID),
	})
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.TicketAssignedPayload{OldAssigneeID: oldAssignee, NewAssigneeID: assigneeID},
	})
	return &TicketChange{Value: ticket, AuditFailed: failed}, nil
}

// UpdatePriority changes the ticket priority.
func (s *TicketService) UpdatePriority(ctx context.Context, actor *domain.User, ticketID string, priority domain.TicketPriority) (*TicketChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	res, err := s.tickets.UpdatePriority(ctx, ticketID, priority)
	if err != nil {
		return nil, storeError(err, "ticket", "update ticket priority", map[string]any{"ticket_id": ticketID})
	}
	ticket := &res.After
	if !res.Changed {
		return &TicketChange{Value: ticket}, nil
	}
	oldPriority := res.Before.Priority

	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionUpdatePriority, domain.EntityTicket, ticket.ID, map[string]any{
		"old_priority": oldPriority,
		"new_priority": priority,
	})
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTicketPriorityChanged,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.TicketPriorityChangedPayload{OldPriority: oldPriority, NewPriority: priority},
	})
	return &TicketChange{Value: ticket, AuditFailed: failed}, nil
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, "ticket", "load ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// StatusTransitions adapts AdvanceStatus to the conversation engine, which
// moves open tickets to in-progress on an admin reply.
type StatusTransitions struct {
	Tickets *TicketService
}

func (t StatusTransitions) TransitionStatus(ctx context.Context, actor *domain.User, ticketID string, from, to domain.TicketStatus) (*domain.Ticket, bool, error) {
	change, moved, err := t.Tickets.AdvanceStatus(ctx, actor, ticketID, from, to)
	if err != nil {
		return nil, false, err
	}
	return change.Value, moved, nil
}

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
