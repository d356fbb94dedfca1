package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// MessageRepository manages ticket thread messages. Messages are append-only.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error)
}

type messageRepository struct {
	pool      *pgxpool.Pool
	publisher ChangePublisher
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool, publisher ChangePublisher) MessageRepository {
	return &messageRepository{pool: pool, publisher: publisherOrNop(publisher)}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (content, ticket_id, user_id, is_admin_message)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, query,
		msg.Content,
		msg.TicketID,
		msg.UserID,
		msg.IsAdminMessage,
	).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return err
	}
	r.publisher.PublishChange(ctx, domain.TableMessages, domain.ChangeInsert, msg, nil)
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	const query = `
        SELECT id, content, created_at, ticket_id, user_id, is_admin_message
        FROM messages WHERE id=$1`
	var msg domain.Message
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.Content,
		&msg.CreatedAt,
		&msg.TicketID,
		&msg.UserID,
		&msg.IsAdminMessage,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByTicket returns the thread in display order.
func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `
        SELECT id, content, created_at, ticket_id, user_id, is_admin_message
        FROM messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Content,
			&msg.CreatedAt,
			&msg.TicketID,
			&msg.UserID,
			&msg.IsAdminMessage,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
