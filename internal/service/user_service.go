package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const maxUserPage = 100

// UserService exposes profile administration.
type UserService struct {
	users  repository.UserRepository
	audit  AuditRecorder
	logger *zap.Logger
}

// UserChange is a profile mutation result.
type UserChange = Mutation[domain.User]

// NewUserService constructs service.
func NewUserService(users repository.UserRepository, audit AuditRecorder, logger *zap.Logger) *UserService {
	return &UserService{users: users, audit: audit, logger: loggerOrNop(logger).Named("users")}
}

// List returns profiles for admins.
func (s *UserService) List(ctx context.Context, actor *domain.User, filter repository.UserFilter) ([]domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, apperrors.NewValidationError("invalid role filter", map[string]any{"role": *filter.Role})
	}
	filter.SearchTerm = strings.TrimSpace(filter.SearchTerm)
	if filter.Limit <= 0 || filter.Limit > maxUserPage {
		filter.Limit = 50
	}
	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewStoreFailure("list profiles", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// SetRole promotes or demotes a profile. Admins cannot demote themselves.
func (s *UserService) SetRole(ctx context.Context, actor *domain.User, userID string, role domain.Role) (*UserChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": role})
	}
	if actor.ID == userID && role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("admins cannot demote themselves")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(err, "profile", "load profile", map[string]any{"user_id": userID})
	}
	if user.Role == role {
		return &UserChange{Value: user}, nil
	}

	oldRole := user.Role
	user.Role = role
	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError(err, "profile", "update role", map[string]any{"user_id": userID})
	}
	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionUpdateRole, domain.EntityUser, user.ID, map[string]any{
		"old_role": oldRole,
		"new_role": role,
	})
	return &UserChange{Value: user, AuditFailed: failed}, nil
}

// SetActive activates or deactivates a profile. Admins cannot deactivate themselves.
func (s *UserService) SetActive(ctx context.Context, actor *domain.User, userID string, active bool) (*UserChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if actor.ID == userID && !active {
		return nil, apperrors.NewForbidden("admins cannot deactivate themselves")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(err, "profile", "load profile", map[string]any{"user_id": userID})
	}
	if user.IsActive == active {
		return &UserChange{Value: user}, nil
	}

	user.IsActive = active
	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError(err, "profile", "update status", map[string]any{"user_id": userID})
	}
	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionUpdateUserStatus, domain.EntityUser, user.ID, map[string]any{
		"is_active": active,
	})
	return &UserChange{Value: user, AuditFailed: failed}, nil
}
