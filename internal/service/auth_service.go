package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/auth"
	"github.com/Geniusmania/ticket-chat-system/internal/config"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/mail"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// Broadcaster sends ephemeral events to realtime topics.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic, event string, payload any) error
}

// AuthService coordinates registration, login and password flows.
type AuthService struct {
	users       repository.UserRepository
	tokens      repository.AuthTokenRepository
	tokenMgr    *auth.TokenManager
	revoker     auth.Revoker
	mailer      mail.Mailer
	broadcaster Broadcaster
	audit       AuditRecorder
	cfg         config.AuthConfig
	now         func() time.Time
	logger      *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo      repository.UserRepository
	AuthTokenRepo repository.AuthTokenRepository
	TokenManager  *auth.TokenManager
	Revoker       auth.Revoker
	Mailer        mail.Mailer
	Broadcaster   Broadcaster
	Audit         AuditRecorder
	Logger        *zap.Logger
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Home      string       `json:"home"`
}

// SessionView describes the current caller.
type SessionView struct {
	User *domain.User `json:"user"`
	Home string       `json:"home"`
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	tokenMgr := deps.TokenManager
	if tokenMgr == nil {
		tokenMgr = auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes)
	}
	return &AuthService{
		users:       deps.UserRepo,
		tokens:      deps.AuthTokenRepo,
		tokenMgr:    tokenMgr,
		revoker:     deps.Revoker,
		mailer:      deps.Mailer,
		broadcaster: deps.Broadcaster,
		audit:       deps.Audit,
		cfg:         cfg,
		now:         time.Now,
		logger:      loggerOrNop(deps.Logger).Named("auth"),
	}
}

// Register creates an unverified user account and mails a verification link.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	fields := map[string]any{}
	if name == "" {
		fields["name"] = "name is required"
	}
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = "a valid email is required"
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidationError("invalid registration", map[string]any{"fields": fields})
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if !apperrors.IsNotFound(err) {
		return nil, apperrors.NewStoreFailure("lookup profile", err)
	}

	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, passwordError(err)
	}
	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsVerified:   false,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.NewStoreFailure("create profile", err)
	}

	if err := s.issueAndMail(ctx, user, domain.TokenPurposeEmailVerification, s.cfg.VerifyRedirectURL); err != nil {
		s.logger.Warn("verification mail not sent", zap.String("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// VerifyEmail redeems a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*domain.User, error) {
	record, err := s.redeem(ctx, domain.TokenPurposeEmailVerification, token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, storeError(err, "profile", "load profile", nil)
	}
	if !user.IsVerified {
		user.IsVerified = true
		if err := s.users.Update(ctx, user); err != nil {
			return nil, apperrors.NewStoreFailure("verify profile", err)
		}
	}
	if err := s.tokens.MarkUsed(ctx, record.ID); err != nil {
		return nil, apperrors.NewStoreFailure("consume token", err)
	}
	return user, nil
}

// Login authenticates by email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewAuthFailure("invalid email or password")
		}
		return nil, apperrors.NewStoreFailure("lookup profile", err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewAuthFailure("invalid email or password")
	}
	if !user.IsActive {
		return nil, apperrors.NewAuthFailure("account is deactivated")
	}
	if !user.IsVerified {
		return nil, apperrors.NewAuthFailure("email address is not verified")
	}

	token, expiresAt, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	recordAudit(ctx, s.audit, s.logger, user, domain.AuditActionLogin, domain.EntityUser, user.ID, map[string]any{
		"email": user.Email,
	})
	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt, Home: auth.HomeRoute(user.Role)}, nil
}

// Logout revokes the session token and tells the user's other views.
func (s *AuthService) Logout(ctx context.Context, principal *auth.Principal) error {
	if principal == nil || principal.Claims == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if s.revoker != nil {
		if err := s.revoker.Revoke(ctx, principal.Claims.ID, principal.Claims.ExpiresAtTime()); err != nil {
			return apperrors.NewStoreFailure("revoke session", err)
		}
	}
	if s.broadcaster != nil {
		userID := principal.Claims.UserID()
		if err := s.broadcaster.Broadcast(ctx, realtime.SessionTopic(userID), realtime.EventSignedOut, map[string]string{"userId": userID}); err != nil {
			s.logger.Warn("signed_out broadcast failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// RequestPasswordReset mails a reset link. Unknown emails succeed silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, redirectURL string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return apperrors.NewStoreFailure("lookup profile", err)
	}
	if redirectURL == "" {
		redirectURL = s.cfg.ResetRedirectURL
	}
	if err := s.issueAndMail(ctx, user, domain.TokenPurposePasswordReset, redirectURL); err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		s.logger.Warn("reset mail not sent", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword redeems a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := auth.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return passwordError(err)
	}
	record, err := s.redeem(ctx, domain.TokenPurposePasswordReset, token)
	if err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return storeError(err, "profile", "load profile", nil)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewStoreFailure("update password", err)
	}
	if err := s.tokens.MarkUsed(ctx, record.ID); err != nil {
		return apperrors.NewStoreFailure("consume token", err)
	}
	return nil
}

// UpdatePassword sets a new password for the signed-in user.
func (s *AuthService) UpdatePassword(ctx context.Context, subject *domain.User, newPassword string) error {
	if subject == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	hash, err := auth.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return passwordError(err)
	}
	user, err := s.users.GetByID(ctx, subject.ID)
	if err != nil {
		return storeError(err, "profile", "load profile", nil)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewStoreFailure("update password", err)
	}
	return nil
}

// Session describes the caller and their home route.
func (s *AuthService) Session(user *domain.User) (*SessionView, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return &SessionView{User: user, Home: auth.HomeRoute(user.Role)}, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issueAndMail(ctx context.Context, user *domain.User, purpose domain.TokenPurpose, base string) error {
	raw, err := auth.NewOpaqueToken()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	record := &domain.AuthToken{
		UserID:    user.ID,
		Purpose:   purpose,
		Token:     raw,
		ExpiresAt: s.now().Add(s.cfg.TokenTTL()),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return apperrors.NewStoreFailure("store token", err)
	}
	if s.mailer == nil {
		return nil
	}
	link, err := mail.WithToken(base, raw)
	if err != nil {
		return err
	}
	if purpose == domain.TokenPurposePasswordReset {
		return s.mailer.SendPasswordReset(ctx, user.Email, user.Name, link)
	}
	return s.mailer.SendVerification(ctx, user.Email, user.Name, link)
}

func (s *AuthService) redeem(ctx context.Context, purpose domain.TokenPurpose, token string) (*domain.AuthToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.NewValidationError("token is required", nil)
	}
	record, err := s.tokens.GetByToken(ctx, purpose, token)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewAuthFailure("token is invalid or expired")
		}
		return nil, apperrors.NewStoreFailure("load token", err)
	}
	if !record.Usable(s.now()) {
		return nil, apperrors.NewAuthFailure("token is invalid or expired")
	}
	return record, nil
}

func passwordError(err error) error {
	if errors.Is(err, auth.ErrWeakPassword) {
		return apperrors.NewValidationError(err.Error(), map[string]any{"fields": map[string]any{"password": err.Error()}})
	}
	return apperrors.NewInternalError(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
