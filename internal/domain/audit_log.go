package domain

import "time"

// Audit actions written by the application.
const (
	AuditActionLogin            = "user_login"
	AuditActionCreateTicket     = "create_ticket"
	AuditActionUpdateStatus     = "update_status"
	AuditActionUpdateAssignment = "update_assignment"
	AuditActionUpdatePriority   = "update_priority"
	AuditActionSendMessage      = "send_message"
	AuditActionUpdateRole       = "update_role"
	AuditActionUpdateUserStatus = "update_user_status"
	AuditActionCreateArticle    = "create_article"
	AuditActionUpdateArticle    = "update_article"
	AuditActionDeleteArticle    = "delete_article"
)

// Audited entity types.
const (
	EntityTicket  = "ticket"
	EntityUser    = "user"
	EntityArticle = "knowledge_base"
)

// AuditLog is an immutable record of an action. Rows are never updated or deleted.
type AuditLog struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	UserID     *string        `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details"`
}
