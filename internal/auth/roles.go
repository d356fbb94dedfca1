package auth

import (
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// Navigation routes used in guard redirects.
const (
	RouteLogin     = "/login"
	RouteDashboard = "/dashboard"
	RouteAdmin     = "/admin"
)

// HomeRoute returns the landing route for a role.
func HomeRoute(role domain.Role) string {
	if role == domain.RoleAdmin {
		return RouteAdmin
	}
	return RouteDashboard
}

// Decision is the outcome of a route guard check.
type Decision struct {
	Allowed  bool
	Redirect string
}

// Guard decides whether user may enter a route restricted to roles. An
// empty roles list admits any signed-in user. Unauthenticated callers are
// sent to the login route; a wrong role goes to the caller's home route.
func Guard(user *domain.User, roles ...domain.Role) Decision {
	if user == nil {
		return Decision{Redirect: RouteLogin}
	}
	if len(roles) == 0 || slices.Contains(roles, user.Role) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: HomeRoute(user.Role)}
}

// RequireRole enforces Guard on a route group. It must run after
// AuthMiddleware.Handle.
func RequireRole(roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		decision := Guard(user, roles...)
		if decision.Allowed {
			return c.Next()
		}
		if user == nil {
			return unauthenticated("authentication required")
		}
		return apperrors.NewDomainError(apperrors.CodeForbidden, "insufficient role", fiber.StatusForbidden,
			map[string]any{"redirect": decision.Redirect})
	}
}

// RequireAdmin admits admins only.
func RequireAdmin() fiber.Handler {
	return RequireRole(domain.RoleAdmin)
}

func unauthenticated(message string) error {
	return apperrors.NewDomainError(apperrors.CodeUnauthorized, message, fiber.StatusUnauthorized,
		map[string]any{"redirect": RouteLogin})
}
