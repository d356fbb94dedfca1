package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// Change is a row-change notification published after a successful write.
type Change struct {
	ID         string            `json:"id"`
	Table      string            `json:"table"`
	Type       domain.ChangeType `json:"type"`
	New        json.RawMessage   `json:"new,omitempty"`
	Old        json.RawMessage   `json:"old,omitempty"`
	CommitTime time.Time         `json:"commit_time"`
}

// Row returns the row a filter is evaluated against: the old row for
// deletes, the new row otherwise.
func (c Change) Row() json.RawMessage {
	if c.Type == domain.ChangeDelete {
		return c.Old
	}
	return c.New
}

func (c Change) columns() map[string]any {
	var row map[string]any
	if err := json.Unmarshal(c.Row(), &row); err != nil {
		return nil
	}
	return row
}

// DecodeNew unmarshals the new row into dst.
func (c Change) DecodeNew(dst any) error {
	if len(c.New) == 0 {
		return fmt.Errorf("change %s on %s carries no new row", c.Type, c.Table)
	}
	return json.Unmarshal(c.New, dst)
}

// ChangeFilter selects changes by table, event and an optional equality
// predicate on one column.
type ChangeFilter struct {
	Table  string
	Event  domain.ChangeType
	Column string
	Value  string
}

// Matches reports whether c passes the filter.
func (f ChangeFilter) Matches(c Change) bool {
	return f.matches(c, c.columns)
}

// matches evaluates the filter, decoding the row through columns at most once.
func (f ChangeFilter) matches(c Change, columns func() map[string]any) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != domain.ChangeAny && f.Event != c.Type {
		return false
	}
	if f.Column == "" {
		return true
	}

	row := columns()
	if row == nil {
		return false
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// String renders the filter the way it is logged.
func (f ChangeFilter) String() string {
	event := f.Event
	if event == "" {
		event = domain.ChangeAny
	}
	if f.Column == "" {
		return fmt.Sprintf("%s:%s", f.Table, event)
	}
	return fmt.Sprintf("%s:%s:%s=eq.%s", f.Table, event, f.Column, f.Value)
}

// BroadcastMessage is an ephemeral, unpersisted event on a named topic.
type BroadcastMessage struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// Broadcast topic helpers.
const (
	EventTyping    = "typing"
	EventSignedOut = "signed_out"
)

// TypingTopic names the per-ticket typing presence topic.
func TypingTopic(ticketID string) string {
	return "typing-" + ticketID
}

// SessionTopic names the per-user session lifecycle topic.
func SessionTopic(userID string) string {
	return "session-" + userID
}

// TypingPayload is the body of a typing broadcast.
type TypingPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}
