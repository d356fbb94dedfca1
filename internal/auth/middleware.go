package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.User
	Claims *Claims
	Token  string
}

// ProfileLookup loads the caller's profile.
type ProfileLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenManager
	users   ProfileLookup
	revoker Revoker
	logger  *zap.Logger
}

// NewAuthMiddleware constructs middleware. revoker may be nil.
func NewAuthMiddleware(tokens *TokenManager, users ProfileLookup, revoker Revoker, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, revoker: revoker, logger: logger.Named("auth")}
}

// Handle enforces authentication for protected routes. WebSocket upgrades
// may pass the token as the "token" query parameter.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := bearerToken(c)
	if err != nil {
		return err
	}
	principal, err := m.Authenticate(c.Context(), raw)
	if err != nil {
		return err
	}
	c.Locals(principalKey, principal)
	return c.Next()
}

// Authenticate resolves a raw token into an active principal.
func (m *AuthMiddleware) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := m.tokens.ParseToken(raw)
	if err != nil {
		return nil, apperrors.NewAuthFailure("invalid or expired session")
	}

	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			m.logger.Warn("revocation check failed", zap.String("user_id", claims.Subject), zap.Error(err))
			return nil, apperrors.NewStoreFailure("check session", err)
		}
		if revoked {
			return nil, apperrors.NewAuthFailure("session has been signed out")
		}
	}

	user, err := m.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewAuthFailure("user not found")
		}
		return nil, apperrors.NewStoreFailure("load profile", err)
	}
	if !user.IsActive {
		return nil, apperrors.NewAuthFailure("account is deactivated")
	}
	return &Principal{User: user, Claims: claims, Token: raw}, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", unauthenticated("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", unauthenticated("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok && principal.User != nil
}

// CurrentUser returns the authenticated profile or nil.
func CurrentUser(c *fiber.Ctx) *domain.User {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return nil
	}
	return principal.User
}
