package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// AuditRecorder appends audit rows.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditLog) error
}

// Mutation pairs a changed entity with the outcome of its audit row. The
// change is kept when the audit write fails.
type Mutation[T any] struct {
	Value       *T   `json:"data"`
	AuditFailed bool `json:"audit_failed,omitempty"`
}

func requireAdmin(actor *domain.User) error {
	if actor == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !actor.IsAdmin() {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

// storeError maps a repository error: missing rows become NotFound for
// resource, everything else a StoreFailure for operation.
func storeError(err error, resource, operation string, details map[string]any) error {
	if apperrors.IsNotFound(err) {
		return apperrors.NewNotFound(resource, details)
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewStoreFailure(operation, err)
}

// recordAudit writes entry and reports whether it failed. Failures are logged.
func recordAudit(ctx context.Context, audit AuditRecorder, logger *zap.Logger, actor *domain.User, action, entityType, entityID string, details map[string]any) bool {
	if audit == nil {
		return false
	}
	entry := &domain.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if actor != nil {
		id := actor.ID
		entry.UserID = &id
	}
	if err := audit.Record(ctx, entry); err != nil {
		logger.Error("audit write failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		return true
	}
	return false
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	_ = dispatcher.Publish(ctx, event)
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
