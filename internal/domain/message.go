package domain

import "time"

// Message is one entry in a ticket thread. Messages are immutable once created.
type Message struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	TicketID       string    `json:"ticket_id"`
	UserID         string    `json:"user_id"`
	IsAdminMessage bool      `json:"is_admin_message"`
}

// Before reports whether m sorts ahead of other in a thread:
// created_at ascending, id as tie-break.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Attachment is a stored file tied to a ticket and optionally to a message.
type Attachment struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	TicketID     string    `json:"ticket_id"`
	MessageID    *string   `json:"message_id"`
	UploadedAt   time.Time `json:"uploaded_at"`
	UploadedByID string    `json:"uploaded_by_id"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Checksum     string    `json:"checksum"`
}
