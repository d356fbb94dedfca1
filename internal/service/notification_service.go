package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/mail"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
)

// Enqueuer runs work off the caller's goroutine.
type Enqueuer interface {
	Enqueue(name string, fn func(context.Context) error) error
}

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	tickets    repository.TicketRepository
	users      repository.UserRepository
	mailer     mail.Mailer
	queue      Enqueuer
	baseURL    string
	logger     *zap.Logger
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Mailer     mail.Mailer
	Queue      Enqueuer
	BaseURL    string
	Logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		mailer:     deps.Mailer,
		queue:      deps.Queue,
		baseURL:    strings.TrimRight(deps.BaseURL, "/"),
		logger:     loggerOrNop(deps.Logger).Named("notifications"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketPriorityChanged, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketMessageAdded, n.handleMessageAdded)
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

// handleMessageAdded mails the ticket owner when support replies.
func (n *NotificationService) handleMessageAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketMessageAddedPayload)
	if !ok || !payload.IsAdminMessage || n.mailer == nil {
		return n.logEvent(ctx, event)
	}
	job := func(ctx context.Context) error {
		return n.sendReplyNotice(ctx, event.TicketID, payload.Preview)
	}
	if n.queue == nil {
		return job(ctx)
	}
	return n.queue.Enqueue("reply_notice:"+event.TicketID, job)
}

func (n *NotificationService) sendReplyNotice(ctx context.Context, ticketID, preview string) error {
	ticket, err := n.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	owner, err := n.users.GetByID(ctx, ticket.UserID)
	if err != nil {
		return err
	}
	if !owner.IsActive {
		return nil
	}
	link := n.baseURL + "/tickets/" + ticket.ID
	if err := n.mailer.SendReplyNotice(ctx, owner.Email, owner.Name, ticket.Title, preview, link); err != nil {
		return err
	}
	n.logger.Debug("reply notice sent", zap.String("ticket_id", ticket.ID), zap.String("user_id", owner.ID))
	return nil
}
