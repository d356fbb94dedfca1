package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	"github.com/Geniusmania/ticket-chat-system/internal/storage"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory Store that publishes row changes like the pgx
// repositories do.
type memStore struct {
	hub *realtime.Hub

	mu          sync.Mutex
	tickets     map[string]domain.Ticket
	users       map[string]domain.User
	messages    []domain.Message
	attachments []domain.Attachment
	seq         int
	calls       int
	down        bool
	rejectFiles bool
}

func newMemStore(hub *realtime.Hub) *memStore {
	return &memStore{
		hub:     hub,
		tickets: make(map[string]domain.Ticket),
		users:   make(map[string]domain.User),
	}
}

var errStoreDown = errors.New("connection refused")

func (s *memStore) enter() error {
	s.mu.Lock()
	s.calls++
	down := s.down
	s.mu.Unlock()
	if down {
		return errStoreDown
	}
	return nil
}

func (s *memStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *memStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *memStore) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (s *memStore) GetProfile(_ context.Context, id string) (*domain.User, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (s *memStore) ListMessages(_ context.Context, ticketID string) ([]domain.Message, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ListAttachments(_ context.Context, ticketID string) ([]domain.Attachment, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for i := len(s.attachments) - 1; i >= 0; i-- {
		if s.attachments[i].TicketID == ticketID {
			out = append(out, s.attachments[i])
		}
	}
	return out, nil
}

func (s *memStore) ListMessageAttachments(_ context.Context, messageID string) ([]domain.Attachment, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, a := range s.attachments {
		if a.MessageID != nil && *a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) GetAttachment(_ context.Context, id string) (*domain.Attachment, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attachments {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	s.seq++
	msg.ID = fmt.Sprintf("m-%03d", s.seq)
	msg.CreatedAt = baseTime.Add(time.Duration(s.seq) * time.Minute)
	s.messages = append(s.messages, *msg)
	row := *msg
	s.mu.Unlock()

	s.hub.PublishChange(ctx, domain.TableMessages, domain.ChangeInsert, row, nil)
	return nil
}

func (s *memStore) InsertAttachment(ctx context.Context, a *domain.Attachment) error {
	if err := s.enter(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.rejectFiles {
		s.mu.Unlock()
		return errors.New("insert attachment: constraint violation")
	}
	s.seq++
	a.ID = fmt.Sprintf("a-%03d", s.seq)
	a.UploadedAt = baseTime.Add(time.Duration(s.seq) * time.Minute)
	s.attachments = append(s.attachments, *a)
	row := *a
	s.mu.Unlock()

	s.hub.PublishChange(ctx, domain.TableAttachments, domain.ChangeInsert, row, nil)
	return nil
}

func (s *memStore) putTicket(t domain.Ticket) {
	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()
}

func (s *memStore) updateTicket(ctx context.Context, id string, mutate func(*domain.Ticket)) domain.Ticket {
	s.mu.Lock()
	t := s.tickets[id]
	mutate(&t)
	s.seq++
	t.UpdatedAt = baseTime.Add(time.Duration(s.seq) * time.Hour)
	s.tickets[id] = t
	s.mu.Unlock()

	s.hub.PublishChange(ctx, domain.TableTickets, domain.ChangeUpdate, t, nil)
	return t
}

func (s *memStore) messagesFor(ticketID string) []domain.Message {
	msgs, _ := s.ListMessages(context.Background(), ticketID)
	return msgs
}

// statusStub updates the ticket and records the matching audit row.
type statusStub struct {
	store *memStore
	audit *auditStub
	// before runs ahead of a conditional transition, standing in for a
	// concurrent writer.
	before func()
}

func (s *statusStub) UpdateStatus(ctx context.Context, actor *domain.User, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	var old domain.TicketStatus
	t := s.store.updateTicket(ctx, ticketID, func(t *domain.Ticket) {
		old = t.Status
		t.Status = status
	})
	s.record(ctx, actor, ticketID, old, status)
	return &t, nil
}

func (s *statusStub) TransitionStatus(ctx context.Context, actor *domain.User, ticketID string, from, to domain.TicketStatus) (*domain.Ticket, bool, error) {
	if s.before != nil {
		s.before()
	}
	s.store.mu.Lock()
	current := s.store.tickets[ticketID]
	s.store.mu.Unlock()
	if current.Status != from {
		return &current, false, nil
	}
	t, err := s.UpdateStatus(ctx, actor, ticketID, to)
	return t, err == nil, err
}

func (s *statusStub) record(ctx context.Context, actor *domain.User, ticketID string, old, status domain.TicketStatus) {
	id := actor.ID
	_ = s.audit.Record(ctx, &domain.AuditLog{
		Action:     domain.AuditActionUpdateStatus,
		EntityType: domain.EntityTicket,
		EntityID:   ticketID,
		UserID:     &id,
		Details:    map[string]any{"old_status": old, "new_status": status},
	})
}

type auditStub struct {
	mu      sync.Mutex
	entries []domain.AuditLog
	err     error
}

func (a *auditStub) Record(_ context.Context, entry *domain.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// objectStub stores uploads in memory and fails names containing "fail".
type objectStub struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
}

func (o *objectStub) Upload(_ context.Context, bucket, path string, r io.Reader) (storage.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if strings.Contains(path, "fail") {
		return storage.Object{}, errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.Object{}, err
	}
	if o.objects == nil {
		o.objects = make(map[string][]byte)
	}
	o.objects[bucket+"/"+path] = data
	return storage.Object{Bucket: bucket, Path: path, ContentType: "text/plain; charset=utf-8", Size: int64(len(data))}, nil
}

func (o *objectStub) Download(_ context.Context, bucket, path string) (io.ReadCloser, storage.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	data, ok := o.objects[bucket+"/"+path]
	if !ok {
		return nil, storage.Object{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), storage.Object{Bucket: bucket, Path: path, Size: int64(len(data))}, nil
}

func (o *objectStub) Delete(_ context.Context, bucket, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, bucket+"/"+path)
	return nil
}

func (o *objectStub) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// recorder collects session updates.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) listen(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) count(kind UpdateKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) messageCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Kind == UpdateMessage && u.Message != nil && u.Message.ID == id {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

type fixture struct {
	hub        *realtime.Hub
	store      *memStore
	objects    *objectStub
	audit      *auditStub
	status     *statusStub
	clock      *clock.Mock
	dispatcher events.Dispatcher
	engine     *Engine

	owner domain.User
	admin domain.User
	other domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, override func(*Dependencies)) *fixture {
	t.Helper()
	hub := realtime.NewHub(realtime.NewMemoryBus(), zap.NewNop())
	store := newMemStore(hub)
	audit := &auditStub{}
	objects := &objectStub{}
	mock := clock.NewMock()
	mock.Set(baseTime)

	f := &fixture{
		hub:        hub,
		store:      store,
		objects:    objects,
		audit:      audit,
		status:     &statusStub{store: store, audit: audit},
		clock:      mock,
		dispatcher: events.NewInMemoryDispatcher(zap.NewNop()),
		owner:      domain.User{ID: "user-a", Name: "Ana", Role: domain.RoleUser, IsActive: true},
		admin:      domain.User{ID: "admin-b", Name: "Ben", Role: domain.RoleAdmin, IsActive: true},
		other:      domain.User{ID: "user-c", Name: "Cat", Role: domain.RoleUser, IsActive: true},
	}
	for _, u := range []domain.User{f.owner, f.admin, f.other} {
		store.users[u.ID] = u
	}
	store.putTicket(domain.Ticket{
		ID:        "T",
		Title:     "Cannot log in",
		Status:    domain.TicketStatusOpen,
		Priority:  domain.TicketPriorityHigh,
		Category:  domain.TicketCategoryTechnical,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
		UserID:    f.owner.ID,
	})

	seed, err := fallback.LoadSeed()
	require.NoError(t, err)

	deps := Dependencies{
		Store:      store,
		Objects:    objects,
		Status:     f.status,
		Audit:      audit,
		Channels:   hub,
		Dispatcher: f.dispatcher,
		Clock:      mock,
		Logger:     zap.NewNop(),
		Config: Config{
			Bucket:         "attachments",
			TypingTTL:      3 * time.Second,
			TypingDebounce: 300 * time.Millisecond,
			PreviewLength:  100,
		},
		Seed: seed,
		Fallback: fallback.Options{
			Attempts:        2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
	}
	if override != nil {
		override(&deps)
	}
	engine, err := NewEngine(deps)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) open(t *testing.T, viewer domain.User) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := f.engine.Open(context.Background(), &viewer, "T", rec.listen)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, rec
}

func textFile(name, body string) File {
	return File{Name: name, Content: strings.NewReader(body)}
}
