package domain

// ChangeType is the kind of row mutation carried by a change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	// ChangeAny matches every change type in a subscription filter.
	ChangeAny ChangeType = "*"
)

// Tables that emit change notifications.
const (
	TableTickets       = "tickets"
	TableMessages      = "messages"
	TableAttachments   = "attachments"
	TableProfiles      = "profiles"
	TableKnowledgeBase = "knowledge_base"
	TableAuditLogs     = "audit_logs"
)
