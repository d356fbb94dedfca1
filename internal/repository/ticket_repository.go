package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// TicketFilter captures list and search parameters.
type TicketFilter struct {
	UserID      *string
	AssigneeID  *string
	Unassigned  bool
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	Category    *domain.TicketCategory
	SearchTerm  *string
	UpdatedFrom *time.Time
	Limit       int
	Offset      int
}

// TicketCounts groups ticket totals by a single column.
type TicketCounts map[string]int

// TicketFieldChange is the outcome of a single-column ticket update. Before
// is the row as locked inside the update transaction.
type TicketFieldChange struct {
	Before  domain.Ticket
	After   domain.Ticket
	Changed bool
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	UpdateStatus(ctx context.Context, id string, status domain.TicketStatus, onlyFrom ...domain.TicketStatus) (*TicketFieldChange, error)
	UpdatePriority(ctx context.Context, id string, priority domain.TicketPriority) (*TicketFieldChange, error)
	UpdateAssignee(ctx context.Context, id string, assigneeID *string) (*TicketFieldChange, error)
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int, error)
	CountBy(ctx context.Context, column string, filter TicketFilter) (TicketCounts, error)
}

type ticketRepository struct {
	pool      *pgxpool.Pool
	publisher ChangePublisher
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool, publisher ChangePublisher) TicketRepository {
	return &ticketRepository{pool: pool, publisher: publisherOrNop(publisher)}
}

const ticketColumns = `id, title, description, status, priority, category, created_at, updated_at, user_id, assigned_to_id`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, category, user_id, assigned_to_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	if err := r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		ticket.UserID,
		ticket.AssignedToID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return err
	}
	r.publisher.PublishChange(ctx, domain.TableTickets, domain.ChangeInsert, ticket, nil)
	return nil
}

// UpdateStatus sets status. With onlyFrom, a ticket whose current status is
// not listed is left untouched.
func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus, onlyFrom ...domain.TicketStatus) (*TicketFieldChange, error) {
	return r.updateColumn(ctx, id, "status", status, func(t domain.Ticket) bool {
		if t.Status == status {
			return false
		}
		if len(onlyFrom) == 0 {
			return true
		}
		for _, from := range onlyFrom {
			if t.Status == from {
				return true
			}
		}
		return false
	})
}

func (r *ticketRepository) UpdatePriority(ctx context.Context, id string, priority domain.TicketPriority) (*TicketFieldChange, error) {
	return r.updateColumn(ctx, id, "priority", priority, func(t domain.Ticket) bool {
		return t.Priority != priority
	})
}

func (r *ticketRepository) UpdateAssignee(ctx context.Context, id string, assigneeID *string) (*TicketFieldChange, error) {
	return r.updateColumn(ctx, id, "assigned_to_id", assigneeID, func(t domain.Ticket) bool {
		if t.AssignedToID == nil || assigneeID == nil {
			return t.AssignedToID != nil || assigneeID != nil
		}
		return *t.AssignedToID != *assigneeID
	})
}

// updateColumn locks the row, asks apply whether the write is needed and
// writes only column, so concurrent triage actions on other columns survive.
func (r *ticketRepository) updateColumn(ctx context.Context, id, column string, value any, apply func(domain.Ticket) bool) (*TicketFieldChange, error) {
	change := &TicketFieldChange{}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		lock := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
		if err := scanTicket(tx.QueryRow(ctx, lock, id), &change.Before); err != nil {
			return err
		}
		change.After = change.Before
		if !apply(change.Before) {
			return nil
		}
		update := fmt.Sprintf(`UPDATE tickets SET %s=$1, updated_at=NOW() WHERE id=$2 RETURNING %s`, column, ticketColumns)
		if err := scanTicket(tx.QueryRow(ctx, update, value, id), &change.After); err != nil {
			return err
		}
		change.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.Changed {
		r.publisher.PublishChange(ctx, domain.TableTickets, domain.ChangeUpdate, &change.After, &change.Before)
	}
	return change, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := filter.where()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int, error) {
	where, args := filter.where()
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total)
	return total, err
}

var countableColumns = map[string]bool{"status": true, "priority": true, "category": true}

// CountBy totals tickets matching filter grouped by status, priority or category.
func (r *ticketRepository) CountBy(ctx context.Context, column string, filter TicketFilter) (TicketCounts, error) {
	if !countableColumns[column] {
		return nil, fmt.Errorf("cannot group tickets by %q", column)
	}
	where, args := filter.where()
	query := fmt.Sprintf(`SELECT %s::text, COUNT(*) FROM tickets WHERE %s GROUP BY %s`, column, where, column)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := TicketCounts{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func (f TicketFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if f.UserID != nil {
		args = append(args, *f.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if f.AssigneeID != nil {
		args = append(args, *f.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assigned_to_id=$%d", len(args)))
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_to_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, status := range f.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(f.Priorities) > 0 {
		placeholders := make([]string, len(f.Priorities))
		for i, pr := range f.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.Category != nil {
		args = append(args, *f.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if f.UpdatedFrom != nil {
		args = append(args, *f.UpdatedFrom)
		clauses = append(clauses, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if f.SearchTerm != nil && strings.TrimSpace(*f.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*f.SearchTerm))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.UserID,
		&ticket.AssignedToID,
	)
}
