package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const maxAuditPage = 200

// AuditService writes and reads the append-only audit log.
type AuditService struct {
	logs   repository.AuditLogRepository
	logger *zap.Logger
}

// NewAuditService constructs the service.
func NewAuditService(logs repository.AuditLogRepository, logger *zap.Logger) *AuditService {
	return &AuditService{logs: logs, logger: loggerOrNop(logger).Named("audit")}
}

// Record appends entry.
func (s *AuditService) Record(ctx context.Context, entry *domain.AuditLog) error {
	if entry == nil || entry.Action == "" || entry.EntityType == "" {
		return errors.New("audit entry requires action and entity type")
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return apperrors.NewStoreFailure("record audit log", err)
	}
	s.logger.Debug("audit recorded",
		zap.String("action", entry.Action),
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID),
	)
	return nil
}

// List returns entries newest first. Only admins may read the log.
func (s *AuditService) List(ctx context.Context, actor *domain.User, filter repository.AuditLogFilter) ([]domain.AuditLog, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > maxAuditPage {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	logs, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewStoreFailure("list audit logs", err)
	}
	return logs, nil
}
