package conversation

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/storage"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// File is one upload accompanying a message.
type File struct {
	Name    string
	Content io.Reader
}

// FileFailure names a file that was skipped during a send.
type FileFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// SendResult reports what a send actually persisted.
type SendResult struct {
	Message     domain.Message      `json:"message"`
	Attachments []domain.Attachment `json:"attachments"`
	Failed      []FileFailure       `json:"failed,omitempty"`
	Ticket      *domain.Ticket      `json:"ticket,omitempty"` // set when the send moved the ticket to in-progress
	AuditFailed bool                `json:"audit_failed,omitempty"`
}

// SendMessage validates, inserts the message, uploads each file, moves an
// open ticket to in-progress on an admin reply and records the audit row.
// Writes are not retried; a failing file is logged and skipped.
func (e *Engine) SendMessage(ctx context.Context, actor *domain.User, ticketID, content string, files []File) (*SendResult, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	content = strings.TrimSpace(content)
	if content == "" && len(files) == 0 {
		return nil, apperrors.NewValidationError("message content or an attachment is required", map[string]any{"field": "content"})
	}

	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.NewStoreFailure("load ticket", err)
	}
	if err := authorize(actor, ticket); err != nil {
		return nil, err
	}

	msg := domain.Message{
		Content:        content,
		TicketID:       ticketID,
		UserID:         actor.ID,
		IsAdminMessage: actor.IsAdmin(),
	}
	if err := e.store.InsertMessage(ctx, &msg); err != nil {
		return nil, apperrors.NewStoreFailure("send message", err)
	}

	result := &SendResult{Message: msg}
	e.storeFiles(ctx, actor, ticketID, msg.ID, files, result)

	if actor.IsAdmin() && ticket.Status == domain.TicketStatusOpen && e.status != nil {
		updated, moved, err := e.status.TransitionStatus(ctx, actor, ticketID, domain.TicketStatusOpen, domain.TicketStatusInProgress)
		switch {
		case err != nil:
			e.logger.Warn("auto status transition failed",
				zap.String("ticket_id", ticketID),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		case moved:
			result.Ticket = updated
		}
	}

	e.recordSend(ctx, actor, ticketID, result)
	e.publishMessageAdded(ctx, actor, ticketID, result)
	return result, nil
}

func (e *Engine) storeFiles(ctx context.Context, actor *domain.User, ticketID, messageID string, files []File, result *SendResult) {
	used := make(map[string]struct{}, len(files))
	for _, f := range files {
		at := e.clock.Now()
		objectPath := storage.AttachmentPath(ticketID, f.Name, at)
		for {
			if _, taken := used[objectPath]; !taken {
				break
			}
			at = at.Add(time.Millisecond)
			objectPath = storage.AttachmentPath(ticketID, f.Name, at)
		}
		used[objectPath] = struct{}{}

		obj, err := e.objects.Upload(ctx, e.cfg.Bucket, objectPath, f.Content)
		if err != nil {
			e.logger.Warn("attachment upload failed",
				zap.String("ticket_id", ticketID),
				zap.String("filename", f.Name),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, FileFailure{Filename: f.Name, Reason: "upload failed"})
			continue
		}

		mid := messageID
		attachment := domain.Attachment{
			Filename:     storage.BaseName(f.Name),
			Path:         objectPath,
			TicketID:     ticketID,
			MessageID:    &mid,
			UploadedByID: actor.ID,
			ContentType:  obj.ContentType,
			SizeBytes:    obj.Size,
			Checksum:     obj.Checksum,
		}
		if err := e.store.InsertAttachment(ctx, &attachment); err != nil {
			e.logger.Warn("attachment metadata insert failed",
				zap.String("ticket_id", ticketID),
				zap.String("path", objectPath),
				zap.Error(err),
			)
			if delErr := e.objects.Delete(ctx, e.cfg.Bucket, objectPath); delErr != nil {
				e.logger.Warn("orphaned attachment object", zap.String("path", objectPath), zap.Error(delErr))
			}
			result.Failed = append(result.Failed, FileFailure{Filename: f.Name, Reason: "metadata insert failed"})
			continue
		}
		result.Attachments = append(result.Attachments, attachment)
	}
}

func (e *Engine) recordSend(ctx context.Context, actor *domain.User, ticketID string, result *SendResult) {
	if e.audit == nil {
		return
	}
	actorID := actor.ID
	entry := &domain.AuditLog{
		Action:     domain.AuditActionSendMessage,
		EntityType: domain.EntityTicket,
		EntityID:   ticketID,
		UserID:     &actorID,
		Details: map[string]any{
			"message_id":  result.Message.ID,
			"attachments": len(result.Attachments),
		},
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Error("audit send_message failed",
			zap.String("ticket_id", ticketID),
			zap.String("message_id", result.Message.ID),
			zap.Error(err),
		)
		result.AuditFailed = true
	}
}

func (e *Engine) publishMessageAdded(ctx context.Context, actor *domain.User, ticketID string, result *SendResult) {
	if e.dispatcher == nil {
		return
	}
	_ = e.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketMessageAdded,
		TicketID:  ticketID,
		Actor:     events.ActorFrom(actor),
		Timestamp: e.clock.Now().UTC(),
		Payload: events.TicketMessageAddedPayload{
			MessageID:      result.Message.ID,
			IsAdminMessage: result.Message.IsAdminMessage,
			Preview:        Preview(result.Message.Content, e.cfg.PreviewLength),
			Attachments:    len(result.Attachments),
		},
	})
}
