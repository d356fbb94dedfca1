package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	got, err := BuildURL("https://support.example.com/", "ticket 1", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://support.example.com/api/ws/tickets/ticket%201?token=abc", got)

	_, err = BuildURL("ftp://x", "t", "abc")
	assert.Error(t, err)
}

func TestParseInput(t *testing.T) {
	_, ok := ParseInput("   ")
	assert.False(t, ok)

	frame, ok := ParseInput("/refresh")
	require.True(t, ok)
	assert.Equal(t, clientFrame{Type: "refresh"}, frame)

	frame, ok = ParseInput(" hello there ")
	require.True(t, ok)
	assert.Equal(t, clientFrame{Type: "message", Content: "hello there"}, frame)
}

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "thread",
			raw:  `{"type":"thread","live":false,"thread":{"ticket":{"id":"T","title":"Login","status":"open"},"messages":[{"id":"m1"}],"origin":"cache"}}`,
			want: `thread T "Login" [open] 1 message(s), origin=cache live=false`,
		},
		{
			name: "message",
			raw:  `{"type":"message","message":{"id":"m2","content":"On it","created_at":"2024-01-01T15:04:00Z","user_id":"admin-1","is_admin_message":true}}`,
			want: "3:04PM admin-1 (support): On it",
		},
		{
			name: "status",
			raw:  `{"type":"status_changed","old_status":"open","new_status":"in-progress"}`,
			want: "status open -> in-progress",
		},
		{
			name: "typing",
			raw:  `{"type":"typing","peer":{"userId":"u2","name":"Sam"}}`,
			want: "Sam is typing...",
		},
		{
			name: "error",
			raw:  `{"type":"error","error":{"code":"CONFLICT","message":"busy"}}`,
			want: "error CONFLICT: busy",
		},
		{
			name: "garbage",
			raw:  `not json`,
			want: "? not json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFrame([]byte(tt.raw)))
		})
	}
}
