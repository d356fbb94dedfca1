package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/auth"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/validation"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// bind parses the JSON body into dst and validates it.
func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return validation.Struct(dst)
}

func requireUser(c *fiber.Ctx) (*domain.User, error) {
	user := auth.CurrentUser(c)
	if user == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return user, nil
}

func data(c *fiber.Ctx, status int, payload any) error {
	return c.Status(status).JSON(fiber.Map{"data": payload})
}

// pagination converts page/page_size into limit/offset.
func pagination(page, pageSize int) (limit, offset, normalizedPage int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageSize, (page - 1) * pageSize, page
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
