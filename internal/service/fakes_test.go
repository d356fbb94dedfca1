package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
)

var (
	baseTime     = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	errStoreDown = errors.New("connection refused")
)

type ticketRepoStub struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
	seq     int
	err     error
	filters []repository.TicketFilter
	counts  map[string]repository.TicketCounts
	count   int
}

func newTicketRepo(tickets ...domain.Ticket) *ticketRepoStub {
	r := &ticketRepoStub{tickets: make(map[string]domain.Ticket), counts: make(map[string]repository.TicketCounts)}
	for _, t := range tickets {
		r.tickets[t.ID] = t
	}
	return r
}

func (r *ticketRepoStub) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.seq++
	ticket.ID = fmt.Sprintf("t-%d", r.seq)
	ticket.CreatedAt = baseTime
	ticket.UpdatedAt = baseTime
	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *ticketRepoStub) UpdateStatus(_ context.Context, id string, status domain.TicketStatus, onlyFrom ...domain.TicketStatus) (*repository.TicketFieldChange, error) {
	return r.updateField(id, func(t *domain.Ticket) bool {
		if t.Status == status {
			return false
		}
		if len(onlyFrom) > 0 && !slices.Contains(onlyFrom, t.Status) {
			return false
		}
		t.Status = status
		return true
	})
}

func (r *ticketRepoStub) UpdatePriority(_ context.Context, id string, priority domain.TicketPriority) (*repository.TicketFieldChange, error) {
	return r.updateField(id, func(t *domain.Ticket) bool {
		if t.Priority == priority {
			return false
		}
		t.Priority = priority
		return true
	})
}

func (r *ticketRepoStub) UpdateAssignee(_ context.Context, id string, assigneeID *string) (*repository.TicketFieldChange, error) {
	return r.updateField(id, func(t *domain.Ticket) bool {
		if (t.AssignedToID == nil) == (assigneeID == nil) && (assigneeID == nil || *t.AssignedToID == *assigneeID) {
			return false
		}
		t.AssignedToID = assigneeID
		return true
	})
}

func (r *ticketRepoStub) updateField(id string, apply func(*domain.Ticket) bool) (*repository.TicketFieldChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	before, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	after := before
	if !apply(&after) {
		return &repository.TicketFieldChange{Before: before, After: before}, nil
	}
	r.seq++
	after.UpdatedAt = baseTime.Add(time.Duration(r.seq) * time.Hour)
	r.tickets[id] = after
	return &repository.TicketFieldChange{Before: before, After: after, Changed: true}, nil
}

func (r *ticketRepoStub) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *ticketRepoStub) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.filters = append(r.filters, filter)
	var out []domain.Ticket
	for _, t := range r.tickets {
		if filter.UserID != nil && t.UserID != *filter.UserID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *ticketRepoStub) Count(_ context.Context, filter repository.TicketFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.filters = append(r.filters, filter)
	if r.count > 0 {
		return r.count, nil
	}
	n := 0
	for _, t := range r.tickets {
		if filter.UserID == nil || t.UserID == *filter.UserID {
			n++
		}
	}
	return n, nil
}

func (r *ticketRepoStub) CountBy(_ context.Context, column string, filter repository.TicketFilter) (repository.TicketCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.filters = append(r.filters, filter)
	return r.counts[column], nil
}

func (r *ticketRepoStub) get(id string) domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[id]
}

type userRepoStub struct {
	mu    sync.Mutex
	users map[string]domain.User
	seq   int
	err   error
}

func newUserRepo(users ...domain.User) *userRepoStub {
	r := &userRepoStub{users: make(map[string]domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *userRepoStub) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.seq++
	user.ID = fmt.Sprintf("u-%d", r.seq)
	user.CreatedAt = baseTime
	r.users[user.ID] = *user
	return nil
}

func (r *userRepoStub) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.users[user.ID] = *user
	return nil
}

func (r *userRepoStub) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (r *userRepoStub) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *userRepoStub) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.User
	for _, u := range r.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.SearchTerm != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(filter.SearchTerm)) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *userRepoStub) get(id string) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

type tokenRepoStub struct {
	mu     sync.Mutex
	tokens []domain.AuthToken
}

func (r *tokenRepoStub) Create(_ context.Context, token *domain.AuthToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = fmt.Sprintf("tok-%d", len(r.tokens)+1)
	token.CreatedAt = baseTime
	r.tokens = append(r.tokens, *token)
	return nil
}

func (r *tokenRepoStub) GetByToken(_ context.Context, purpose domain.TokenPurpose, token string) (*domain.AuthToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Purpose == purpose && t.Token == token {
			return &t, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *tokenRepoStub) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tokens {
		if r.tokens[i].ID == id {
			now := baseTime
			r.tokens[i].UsedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *tokenRepoStub) last(purpose domain.TokenPurpose) domain.AuthToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.tokens) - 1; i >= 0; i-- {
		if r.tokens[i].Purpose == purpose {
			return r.tokens[i]
		}
	}
	return domain.AuthToken{}
}

type auditRepoStub struct {
	mu      sync.Mutex
	entries []domain.AuditLog
	err     error
	filter  repository.AuditLogFilter
}

func (r *auditRepoStub) Create(_ context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	entry.ID = fmt.Sprintf("a-%d", len(r.entries)+1)
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *auditRepoStub) List(_ context.Context, filter repository.AuditLogFilter) ([]domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
	return append([]domain.AuditLog(nil), r.entries...), nil
}

func (r *auditRepoStub) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *auditRepoStub) lastEntry() domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type articleRepoStub struct {
	mu       sync.Mutex
	articles map[string]domain.Article
	seq      int
	down     bool
}

func newArticleRepo(articles ...domain.Article) *articleRepoStub {
	r := &articleRepoStub{articles: make(map[string]domain.Article)}
	for _, a := range articles {
		r.articles[a.ID] = a
	}
	return r
}

func (r *articleRepoStub) Create(_ context.Context, a *domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	r.seq++
	a.ID = fmt.Sprintf("art-%d", r.seq)
	a.CreatedAt = baseTime
	a.UpdatedAt = baseTime
	r.articles[a.ID] = *a
	return nil
}

func (r *articleRepoStub) Update(_ context.Context, a *domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	r.articles[a.ID] = *a
	return nil
}

func (r *articleRepoStub) Delete(_ context.Context, id string) (*domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	a, ok := r.articles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	delete(r.articles, id)
	return &a, nil
}

func (r *articleRepoStub) GetByID(_ context.Context, id string) (*domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	a, ok := r.articles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (r *articleRepoStub) List(_ context.Context, filter repository.ArticleFilter) ([]domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	var out []domain.Article
	for _, a := range r.articles {
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *articleRepoStub) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

type sentMail struct {
	Kind, To, Name, Link, Title, Preview string
}

type mailerStub struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *mailerStub) record(mail sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *mailerStub) SendVerification(_ context.Context, to, name, link string) error {
	return m.record(sentMail{Kind: "verify", To: to, Name: name, Link: link})
}

func (m *mailerStub) SendPasswordReset(_ context.Context, to, name, link string) error {
	return m.record(sentMail{Kind: "reset", To: to, Name: name, Link: link})
}

func (m *mailerStub) SendReplyNotice(_ context.Context, to, name, title, preview, link string) error {
	return m.record(sentMail{Kind: "reply", To: to, Name: name, Link: link, Title: title, Preview: preview})
}

func (m *mailerStub) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type broadcast struct {
	Topic, Event string
	Payload      any
}

type broadcasterStub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *broadcasterStub) Broadcast(_ context.Context, topic, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{Topic: topic, Event: event, Payload: payload})
	return nil
}

// eventLog subscribes to every ticket event type.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func newEventLog(d events.Dispatcher) *eventLog {
	l := &eventLog{}
	for _, typ := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketPriorityChanged,
		events.EventTicketAssigned,
		events.EventTicketMessageAdded,
	} {
		d.Subscribe(typ, func(_ context.Context, e events.Event) error {
			l.mu.Lock()
			l.events = append(l.events, e)
			l.mu.Unlock()
			return nil
		})
	}
	return l
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) last() events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

var (
	owner    = domain.User{ID: "user-a", Name: "Ana", Email: "ana@example.com", Role: domain.RoleUser, IsActive: true, IsVerified: true}
	admin    = domain.User{ID: "admin-b", Name: "Ben", Email: "ben@example.com", Role: domain.RoleAdmin, IsActive: true, IsVerified: true}
	stranger = domain.User{ID: "user-c", Name: "Cat", Email: "cat@example.com", Role: domain.RoleUser, IsActive: true, IsVerified: true}
)

func openTicket() domain.Ticket {
	return domain.Ticket{
		ID:          "T",
		Title:       "Cannot log in",
		Description: "Password reset mail never arrives",
		Status:      domain.TicketStatusOpen,
		Priority:    domain.TicketPriorityMedium,
		Category:    domain.TicketCategoryTechnical,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
		UserID:      owner.ID,
	}
}

func ptr[T any](v T) *T {
	return &v
}
