package conversation

import (
	"unicode/utf8"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// StandaloneGroup keys attachments that belong to no message.
const StandaloneGroup = "standalone"

// AttachmentView is an attachment with its uploader resolved.
type AttachmentView struct {
	domain.Attachment
	Uploader *domain.User `json:"uploader,omitempty"`
}

// AttachmentGroup collects the attachments of one message, or the
// standalone ones.
type AttachmentGroup struct {
	Key         string           `json:"key"`
	Message     *domain.Message  `json:"message,omitempty"`
	Preview     string           `json:"preview,omitempty"`
	Attachments []AttachmentView `json:"attachments"`
}

// GroupAttachments groups attachments by message id. Groups appear in the
// order their first attachment appears in the input; attachments keep their
// input order inside a group. No I/O is performed.
func GroupAttachments(attachments []domain.Attachment, messages []domain.Message, lookupUser func(id string) (*domain.User, bool), previewLength int) []AttachmentGroup {
	byID := make(map[string]*domain.Message, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
	}

	index := make(map[string]int)
	var groups []AttachmentGroup
	for _, a := range attachments {
		key := StandaloneGroup
		if a.MessageID != nil && *a.MessageID != "" {
			key = *a.MessageID
		}

		i, ok := index[key]
		if !ok {
			group := AttachmentGroup{Key: key}
			if key != StandaloneGroup {
				if m, found := byID[key]; found {
					msg := *m
					group.Message = &msg
					group.Preview = Preview(msg.Content, previewLength)
				}
			}
			groups = append(groups, group)
			i = len(groups) - 1
			index[key] = i
		}

		view := AttachmentView{Attachment: a}
		if lookupUser != nil {
			if u, found := lookupUser(a.UploadedByID); found {
				view.Uploader = u
			}
		}
		groups[i].Attachments = append(groups[i].Attachments, view)
	}
	return groups
}

// Preview truncates content to n runes, appending "..." when cut.
func Preview(content string, n int) string {
	if n <= 0 || utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n]) + "..."
}
