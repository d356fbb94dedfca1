package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	GetByID(ctx context.Context, id string) (*domain.Attachment, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error)
	ListByMessage(ctx context.Context, messageID string) ([]domain.Attachment, error)
}

type attachmentRepository struct {
	pool      *pgxpool.Pool
	publisher ChangePublisher
}

// NewAttachmentRepository constructs repository.
func NewAttachmentRepository(pool *pgxpool.Pool, publisher ChangePublisher) AttachmentRepository {
	return &attachmentRepository{pool: pool, publisher: publisherOrNop(publisher)}
}

const attachmentColumns = `id, filename, path, ticket_id, message_id, uploaded_at, uploaded_by_id, content_type, size_bytes, checksum`

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	const query = `
        INSERT INTO attachments (filename, path, ticket_id, message_id, uploaded_by_id, content_type, size_bytes, checksum)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, uploaded_at`
	if err := r.pool.QueryRow(ctx, query,
		attachment.Filename,
		attachment.Path,
		attachment.TicketID,
		attachment.MessageID,
		attachment.UploadedByID,
		attachment.ContentType,
		attachment.SizeBytes,
		attachment.Checksum,
	).Scan(&attachment.ID, &attachment.UploadedAt); err != nil {
		return err
	}
	r.publisher.PublishChange(ctx, domain.TableAttachments, domain.ChangeInsert, attachment, nil)
	return nil
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*domain.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id=$1`
	var attachment domain.Attachment
	if err := scanAttachment(r.pool.QueryRow(ctx, query, id), &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// ListByTicket returns newest uploads first.
func (r *attachmentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE ticket_id=$1 ORDER BY uploaded_at DESC, id`
	return r.list(ctx, query, ticketID)
}

func (r *attachmentRepository) ListByMessage(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE message_id=$1 ORDER BY uploaded_at DESC, id`
	return r.list(ctx, query, messageID)
}

func (r *attachmentRepository) list(ctx context.Context, query string, arg any) ([]domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Attachment
	for rows.Next() {
		var attachment domain.Attachment
		if err := scanAttachment(rows, &attachment); err != nil {
			return nil, err
		}
		result = append(result, attachment)
	}
	return result, rows.Err()
}

func scanAttachment(row pgx.Row, a *domain.Attachment) error {
	return row.Scan(
		&a.ID,
		&a.Filename,
		&a.Path,
		&a.TicketID,
		&a.MessageID,
		&a.UploadedAt,
		&a.UploadedByID,
		&a.ContentType,
		&a.SizeBytes,
		&a.Checksum,
	)
}
