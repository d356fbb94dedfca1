package conversation

import (
	"sort"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
)

// Thread is the loaded view of one ticket: the ticket, its owner, the
// ordered messages and the attachments (newest upload first).
type Thread struct {
	Ticket      domain.Ticket       `json:"ticket"`
	Owner       *domain.User        `json:"owner"`
	Messages    []domain.Message    `json:"messages"`
	Attachments []domain.Attachment `json:"attachments"`
	Origin      fallback.Origin     `json:"origin"`
}

// Authoritative reports whether the thread was read live from the store.
func (t *Thread) Authoritative() bool {
	return t.Origin.Authoritative()
}

// AddMessage inserts m in created_at/id order. It returns false when a
// message with the same id is already present.
func (t *Thread) AddMessage(m domain.Message) bool {
	for _, existing := range t.Messages {
		if existing.ID == m.ID {
			return false
		}
	}
	i := sort.Search(len(t.Messages), func(i int) bool {
		return m.Before(t.Messages[i])
	})
	t.Messages = append(t.Messages, domain.Message{})
	copy(t.Messages[i+1:], t.Messages[i:])
	t.Messages[i] = m
	return true
}

// MergeAttachments adds attachments not yet held and returns the ones added.
func (t *Thread) MergeAttachments(attachments []domain.Attachment) []domain.Attachment {
	seen := make(map[string]struct{}, len(t.Attachments))
	for _, a := range t.Attachments {
		seen[a.ID] = struct{}{}
	}

	var added []domain.Attachment
	for _, a := range attachments {
		if a.TicketID != "" && a.TicketID != t.Ticket.ID {
			continue
		}
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		added = append(added, a)
	}
	if len(added) == 0 {
		return nil
	}

	t.Attachments = append(t.Attachments, added...)
	sort.SliceStable(t.Attachments, func(i, j int) bool {
		a, b := t.Attachments[i], t.Attachments[j]
		if !a.UploadedAt.Equal(b.UploadedAt) {
			return a.UploadedAt.After(b.UploadedAt)
		}
		return a.ID < b.ID
	})
	return added
}

// AttachmentsFor returns the attachments linked to messageID.
func (t *Thread) AttachmentsFor(messageID string) []domain.Attachment {
	var out []domain.Attachment
	for _, a := range t.Attachments {
		if a.MessageID != nil && *a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out
}

// ApplyTicketUpdate replaces the held ticket when next is strictly newer.
// Updates with an equal or older updated_at are ignored so the view never
// regresses under out-of-order delivery.
func (t *Thread) ApplyTicketUpdate(next domain.Ticket) (applied, statusChanged bool) {
	if next.ID != t.Ticket.ID || !next.UpdatedAt.After(t.Ticket.UpdatedAt) {
		return false, false
	}
	statusChanged = next.Status != t.Ticket.Status
	t.Ticket = next
	return true, statusChanged
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Thread) Clone() Thread {
	out := *t
	out.Messages = append([]domain.Message(nil), t.Messages...)
	out.Attachments = append([]domain.Attachment(nil), t.Attachments...)
	if t.Owner != nil {
		owner := *t.Owner
		out.Owner = &owner
	}
	if t.Ticket.AssignedToID != nil {
		assignee := *t.Ticket.AssignedToID
		out.Ticket.AssignedToID = &assignee
	}
	return out
}

func newThread(ticket domain.Ticket, owner *domain.User, messages []domain.Message, attachments []domain.Attachment) Thread {
	t := Thread{Ticket: ticket, Owner: owner}
	for _, m := range messages {
		t.AddMessage(m)
	}
	t.MergeAttachments(attachments)
	return t
}
