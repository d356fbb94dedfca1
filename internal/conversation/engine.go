// Package conversation presents a ticket's message thread live: loading,
// sending with attachments, typing presence and reconciliation of pushed
// row changes.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	"github.com/Geniusmania/ticket-chat-system/internal/storage"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// StatusChanger performs a conditional triage status transition, including
// its audit row. moved is false when the ticket had already left from.
type StatusChanger interface {
	TransitionStatus(ctx context.Context, actor *domain.User, ticketID string, from, to domain.TicketStatus) (ticket *domain.Ticket, moved bool, err error)
}

// AuditRecorder appends audit rows.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditLog) error
}

// Channels is the realtime API sessions subscribe through.
type Channels interface {
	OnChange(ctx context.Context, filter realtime.ChangeFilter, handler func(realtime.Change)) (func(), error)
	Broadcast(ctx context.Context, topic, event string, payload any) error
	OnBroadcast(ctx context.Context, topic, event string, handler func(realtime.BroadcastMessage)) (func(), error)
}

// Config holds the presence and attachment settings.
type Config struct {
	Bucket         string
	TypingTTL      time.Duration
	TypingDebounce time.Duration
	PreviewLength  int
}

// Dependencies bundles the engine collaborators.
type Dependencies struct {
	Store      Store
	Objects    storage.ObjectStore
	Status     StatusChanger
	Audit      AuditRecorder
	Channels   Channels
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
	Config     Config
	Seed       *fallback.Dataset
	Fallback   fallback.Options
}

// Engine composes store, storage and channels into live ticket threads.
type Engine struct {
	store      Store
	objects    storage.ObjectStore
	status     StatusChanger
	audit      AuditRecorder
	channels   Channels
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	cfg        Config
	seed       *fallback.Dataset
	threads    *fallback.Source[string, Thread]

	typingMu   sync.Mutex
	typingSent map[string]time.Time
}

// NewEngine validates dependencies and builds the engine.
func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Store == nil || deps.Objects == nil || deps.Channels == nil {
		return nil, errors.New("conversation engine requires store, objects and channels")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Config.Bucket == "" {
		deps.Config.Bucket = "attachments"
	}
	if deps.Config.TypingTTL <= 0 {
		deps.Config.TypingTTL = 3 * time.Second
	}
	if deps.Config.TypingDebounce <= 0 {
		deps.Config.TypingDebounce = 300 * time.Millisecond
	}
	if deps.Config.PreviewLength <= 0 {
		deps.Config.PreviewLength = 100
	}

	e := &Engine{
		store:      deps.Store,
		objects:    deps.Objects,
		status:     deps.Status,
		audit:      deps.Audit,
		channels:   deps.Channels,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("conversation"),
		cfg:        deps.Config,
		seed:       deps.Seed,
		typingSent: make(map[string]time.Time),
	}

	if deps.Fallback.Name == "" {
		deps.Fallback.Name = "thread"
	}
	var seedLookup fallback.SeedLookup[string, Thread]
	if deps.Seed != nil {
		seedLookup = e.seedThread
	}
	threads, err := fallback.NewSource(e.loadLive, seedLookup, deps.Fallback, deps.Logger)
	if err != nil {
		return nil, err
	}
	e.threads = threads
	return e, nil
}

// LoadThread fetches the ticket, its owner, messages and attachments. When
// the store is unreachable the last good copy or the seed copy is returned
// with a non-live Origin. A missing ticket is NotFound.
func (e *Engine) LoadThread(ctx context.Context, ticketID string) (*Thread, error) {
	res, err := e.threads.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	thread := res.Value.Clone()
	thread.Origin = res.Origin
	return &thread, nil
}

// View loads the thread for viewer, enforcing that only the owner or an
// admin may read it.
func (e *Engine) View(ctx context.Context, viewer *domain.User, ticketID string) (*Thread, error) {
	if viewer == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	thread, err := e.LoadThread(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := authorize(viewer, &thread.Ticket); err != nil {
		return nil, err
	}
	return thread, nil
}

func (e *Engine) loadLive(ctx context.Context, ticketID string) (Thread, error) {
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return Thread{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return Thread{}, fmt.Errorf("get ticket: %w", err)
	}

	var (
		owner       *domain.User
		messages    []domain.Message
		attachments []domain.Attachment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := e.store.GetProfile(gctx, ticket.UserID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("get owner: %w", err)
		}
		owner = profile
		return nil
	})
	g.Go(func() error {
		var err error
		if messages, err = e.store.ListMessages(gctx, ticketID); err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if attachments, err = e.store.ListAttachments(gctx, ticketID); err != nil {
			return fmt.Errorf("list attachments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Thread{}, err
	}

	return newThread(*ticket, owner, messages, attachments), nil
}

func (e *Engine) seedThread(ticketID string) (Thread, bool) {
	ticket, ok := e.seed.Ticket(ticketID)
	if !ok {
		return Thread{}, false
	}
	var owner *domain.User
	if u, ok := e.seed.User(ticket.UserID); ok {
		owner = &u
	}
	return newThread(ticket, owner, e.seed.ThreadMessages(ticketID), nil), true
}

// lookupUsers resolves uploader and author profiles concurrently. Missing
// profiles are skipped.
func (e *Engine) lookupUsers(ctx context.Context, ids []string, origin fallback.Origin) map[string]*domain.User {
	out := make(map[string]*domain.User, len(ids))
	if origin == fallback.OriginSeed && e.seed != nil {
		for _, id := range ids {
			if u, ok := e.seed.User(id); ok {
				out[id] = &u
			}
		}
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			profile, err := e.store.GetProfile(gctx, id)
			if err != nil {
				if !apperrors.IsNotFound(err) {
					e.logger.Warn("resolve profile", zap.String("user_id", id), zap.Error(err))
				}
				return nil
			}
			mu.Lock()
			out[id] = profile
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// AttachmentsWithContext loads the ticket's attachments grouped by message
// with their uploader resolved.
func (e *Engine) AttachmentsWithContext(ctx context.Context, viewer *domain.User, ticketID string) ([]AttachmentGroup, error) {
	thread, err := e.View(ctx, viewer, ticketID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(thread.Attachments))
	seen := make(map[string]struct{})
	for _, a := range thread.Attachments {
		if _, ok := seen[a.UploadedByID]; ok {
			continue
		}
		seen[a.UploadedByID] = struct{}{}
		ids = append(ids, a.UploadedByID)
	}
	users := e.lookupUsers(ctx, ids, thread.Origin)

	return GroupAttachments(thread.Attachments, thread.Messages, func(id string) (*domain.User, bool) {
		u, ok := users[id]
		return u, ok
	}, e.cfg.PreviewLength), nil
}

// OpenAttachment streams a stored attachment to a viewer allowed to see its ticket.
func (e *Engine) OpenAttachment(ctx context.Context, viewer *domain.User, attachmentID string) (io.ReadCloser, *domain.Attachment, storage.Object, error) {
	if viewer == nil {
		return nil, nil, storage.Object{}, apperrors.NewUnauthorized("authentication required")
	}
	attachment, err := e.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil, storage.Object{}, apperrors.NewNotFound("attachment", map[string]any{"attachment_id": attachmentID})
		}
		return nil, nil, storage.Object{}, apperrors.NewStoreFailure("load attachment", err)
	}
	ticket, err := e.store.GetTicket(ctx, attachment.TicketID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil, storage.Object{}, apperrors.NewNotFound("ticket", nil)
		}
		return nil, nil, storage.Object{}, apperrors.NewStoreFailure("load ticket", err)
	}
	if err := authorize(viewer, ticket); err != nil {
		return nil, nil, storage.Object{}, err
	}

	rc, obj, err := e.objects.Download(ctx, e.cfg.Bucket, attachment.Path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, storage.Object{}, apperrors.NewNotFound("attachment file", map[string]any{"path": attachment.Path})
		}
		e.logger.Warn("attachment download failed",
			zap.String("attachment_id", attachmentID),
			zap.String("path", attachment.Path),
			zap.Error(err),
		)
		return nil, nil, storage.Object{}, apperrors.NewStorageFailure("download attachment", err)
	}
	return rc, attachment, obj, nil
}

// Typing broadcasts that actor is typing on ticketID. Calls closer together
// than the debounce window are dropped before the ticket is read.
func (e *Engine) Typing(ctx context.Context, actor *domain.User, ticketID string) (bool, error) {
	if actor == nil {
		return false, apperrors.NewUnauthorized("authentication required")
	}
	key := ticketID + "|" + actor.ID
	if !e.typingDue(key, e.clock.Now()) {
		return false, nil
	}

	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return false, apperrors.NewStoreFailure("load ticket", err)
	}
	if err := authorize(actor, ticket); err != nil {
		return false, err
	}

	now := e.clock.Now()
	e.typingMu.Lock()
	if last, ok := e.typingSent[key]; ok && now.Sub(last) < e.cfg.TypingDebounce {
		e.typingMu.Unlock()
		return false, nil
	}
	e.typingSent[key] = now
	for k, at := range e.typingSent {
		if now.Sub(at) > e.cfg.TypingTTL {
			delete(e.typingSent, k)
		}
	}
	e.typingMu.Unlock()

	if err := e.broadcastTyping(ctx, actor, ticketID); err != nil {
		return false, apperrors.NewSubscriptionFailure("typing", err)
	}
	return true, nil
}

func (e *Engine) typingDue(key string, now time.Time) bool {
	e.typingMu.Lock()
	defer e.typingMu.Unlock()
	last, ok := e.typingSent[key]
	return !ok || now.Sub(last) >= e.cfg.TypingDebounce
}

func (e *Engine) broadcastTyping(ctx context.Context, actor *domain.User, ticketID string) error {
	payload := realtime.TypingPayload{UserID: actor.ID, Name: actor.Name}
	if err := e.channels.Broadcast(ctx, realtime.TypingTopic(ticketID), realtime.EventTyping, payload); err != nil {
		e.logger.Debug("typing broadcast dropped", zap.String("ticket_id", ticketID), zap.Error(err))
		return err
	}
	return nil
}

func authorize(viewer *domain.User, ticket *domain.Ticket) error {
	if viewer.IsAdmin() || ticket.UserID == viewer.ID {
		return nil
	}
	return apperrors.NewForbidden("ticket belongs to another user")
}
