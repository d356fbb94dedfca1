package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int
	Offset     int
}

// AuditLogRepository stores audit entries. There is no update or delete.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLog, error)
}

type auditLogRepository struct {
	pool      *pgxpool.Pool
	publisher ChangePublisher
}

// NewAuditLogRepository builds repository.
func NewAuditLogRepository(pool *pgxpool.Pool, publisher ChangePublisher) AuditLogRepository {
	return &auditLogRepository{pool: pool, publisher: publisherOrNop(publisher)}
}

func (r *auditLogRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	const query = `
        INSERT INTO audit_logs (action, entity_type, entity_id, user_id, details)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, timestamp`
	if err := r.pool.QueryRow(ctx, query,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.UserID,
		entry.Details,
	).Scan(&entry.ID, &entry.Timestamp); err != nil {
		return err
	}
	r.publisher.PublishChange(ctx, domain.TableAuditLogs, domain.ChangeInsert, entry, nil)
	return nil
}

// List returns entries newest first.
func (r *auditLogRepository) List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLog, error) {
	clauses := []string{"1=1"}
	args := []any{}
	eq := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	eq("action", filter.Action)
	eq("entity_type", filter.EntityType)
	eq("entity_id", filter.EntityID)
	eq("user_id", filter.UserID)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
        SELECT id, action, entity_type, entity_id, user_id, timestamp, details
        FROM audit_logs WHERE %s ORDER BY timestamp DESC, id LIMIT %d OFFSET %d`,
		strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.UserID,
			&entry.Timestamp,
			&entry.Details,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
