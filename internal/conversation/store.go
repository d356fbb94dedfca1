package conversation

import (
	"context"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
)

// Store is the slice of the relational store the engine reads and writes.
type Store interface {
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	GetProfile(ctx context.Context, id string) (*domain.User, error)
	ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error)
	ListAttachments(ctx context.Context, ticketID string) ([]domain.Attachment, error)
	ListMessageAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error)
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	InsertMessage(ctx context.Context, msg *domain.Message) error
	InsertAttachment(ctx context.Context, attachment *domain.Attachment) error
}

// RepositoryStore adapts the pgx repositories to Store.
type RepositoryStore struct {
	Tickets     repository.TicketRepository
	Users       repository.UserRepository
	Messages    repository.MessageRepository
	Attachments repository.AttachmentRepository
}

func (s *RepositoryStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.Tickets.GetByID(ctx, id)
}

func (s *RepositoryStore) GetProfile(ctx context.Context, id string) (*domain.User, error) {
	return s.Users.GetByID(ctx, id)
}

func (s *RepositoryStore) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	return s.Messages.ListByTicket(ctx, ticketID)
}

func (s *RepositoryStore) ListAttachments(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	return s.Attachments.ListByTicket(ctx, ticketID)
}

func (s *RepositoryStore) ListMessageAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	return s.Attachments.ListByMessage(ctx, messageID)
}

func (s *RepositoryStore) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	return s.Attachments.GetByID(ctx, id)
}

func (s *RepositoryStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	return s.Messages.Create(ctx, msg)
}

func (s *RepositoryStore) InsertAttachment(ctx context.Context, attachment *domain.Attachment) error {
	return s.Attachments.Create(ctx, attachment)
}
