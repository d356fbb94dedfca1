package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

type ticketForm struct {
	Title    string `json:"title" validate:"notblank,max=200"`
	Priority string `json:"priority" validate:"required,ticket_priority"`
	Category string `json:"category" validate:"required,ticket_category"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(ticketForm{Title: "Printer", Priority: "high", Category: "technical"}))

	err := Struct(ticketForm{Title: "  ", Priority: "urgent", Category: "technical", Email: "nope"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	de := apperrors.ToDomainError(err)
	fields, ok := de.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "title is required", fields["title"])
	assert.Contains(t, fields["priority"], "must be one of")
	assert.Contains(t, fields["email"], "valid email")
	assert.NotContains(t, fields, "category")
}

func TestStruct_EnumTags(t *testing.T) {
	type form struct {
		Status string `json:"status" validate:"ticket_status"`
		Role   string `json:"role" validate:"role"`
	}
	assert.NoError(t, Struct(form{Status: "in-progress", Role: "admin"}))
	assert.Error(t, Struct(form{Status: "pending", Role: "admin"}))
	assert.Error(t, Struct(form{Status: "open", Role: "owner"}))
}
