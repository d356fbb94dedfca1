package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("conversation session closed")

// UpdateKind tags a session update.
type UpdateKind string

const (
	UpdateThread        UpdateKind = "thread"
	UpdateMessage       UpdateKind = "message"
	UpdateAttachments   UpdateKind = "attachments"
	UpdateTicket        UpdateKind = "ticket"
	UpdateStatusChanged UpdateKind = "status_changed"
	UpdateTyping        UpdateKind = "typing"
	UpdateTypingCleared UpdateKind = "typing_cleared"
	UpdateDegraded      UpdateKind = "degraded"
)

// TypingPeer is the other party currently typing.
type TypingPeer struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Update is one change to a session's visible state.
type Update struct {
	Kind        UpdateKind          `json:"type"`
	Thread      *Thread             `json:"thread,omitempty"`
	Message     *domain.Message     `json:"message,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Ticket      *domain.Ticket      `json:"ticket,omitempty"`
	OldStatus   domain.TicketStatus `json:"old_status,omitempty"`
	NewStatus   domain.TicketStatus `json:"new_status,omitempty"`
	Peer        *TypingPeer         `json:"peer,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

// Listener receives session updates one at a time. It must not call Close.
type Listener func(Update)

// Session is one viewer's live view of a ticket thread.
type Session struct {
	engine   *Engine
	viewer   domain.User
	ticketID string
	listener Listener
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	emitMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	live        bool
	isSending   bool
	thread      Thread
	unsubs      []func()
	typingPeer  *TypingPeer
	typingTimer *clock.Timer
	typingGen   uint64

	typingSentOnce bool
	typingLastSent time.Time
	typingTrailing *clock.Timer
	typingPending  bool
}

// Open loads the thread for viewer and subscribes to its live changes. A
// subscription that cannot attach leaves the session non-live instead of
// failing; Refresh re-reads the store and retries the subscriptions.
func (e *Engine) Open(ctx context.Context, viewer *domain.User, ticketID string, listener Listener) (*Session, error) {
	thread, err := e.View(ctx, viewer, ticketID)
	if err != nil {
		return nil, err
	}
	if listener == nil {
		listener = func(Update) {}
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		engine:   e,
		viewer:   *viewer,
		ticketID: ticketID,
		listener: listener,
		logger:   e.logger.With(zap.String("ticket_id", ticketID), zap.String("viewer_id", viewer.ID)),
		ctx:      sctx,
		cancel:   cancel,
		thread:   *thread,
	}

	if err := s.subscribe(); err != nil {
		s.logger.Warn("live updates unavailable", zap.Error(err))
		s.emit(Update{Kind: UpdateDegraded, Reason: err.Error()})
	}
	return s, nil
}

func (s *Session) subscribe() error {
	e := s.engine
	var unsubs []func()
	release := func() {
		for _, u := range unsubs {
			u()
		}
	}

	steps := []func() (func(), error){
		func() (func(), error) {
			return e.channels.OnChange(s.ctx, realtime.ChangeFilter{
				Table:  domain.TableMessages,
				Event:  domain.ChangeInsert,
				Column: "ticket_id",
				Value:  s.ticketID,
			}, s.onMessageInsert)
		},
		func() (func(), error) {
			return e.channels.OnChange(s.ctx, realtime.ChangeFilter{
				Table:  domain.TableTickets,
				Event:  domain.ChangeUpdate,
				Column: "id",
				Value:  s.ticketID,
			}, s.onTicketUpdate)
		},
		func() (func(), error) {
			return e.channels.OnChange(s.ctx, realtime.ChangeFilter{
				Table:  domain.TableAttachments,
				Event:  domain.ChangeInsert,
				Column: "ticket_id",
				Value:  s.ticketID,
			}, s.onAttachmentInsert)
		},
		func() (func(), error) {
			return e.channels.OnBroadcast(s.ctx, realtime.TypingTopic(s.ticketID), realtime.EventTyping, s.onTyping)
		},
	}
	for _, step := range steps {
		unsub, err := step()
		if err != nil {
			release()
			return err
		}
		unsubs = append(unsubs, unsub)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return ErrSessionClosed
	}
	s.unsubs = append(s.unsubs, unsubs...)
	s.live = true
	s.mu.Unlock()
	return nil
}

func (s *Session) emit(u Update) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.isClosed() {
		return
	}
	s.listener(u)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) onMessageInsert(change realtime.Change) {
	var msg domain.Message
	if err := change.DecodeNew(&msg); err != nil {
		s.logger.Warn("decode message change", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	added := s.thread.AddMessage(msg)
	s.mu.Unlock()
	if !added {
		return
	}

	attachments, err := s.engine.store.ListMessageAttachments(s.ctx, msg.ID)
	if err != nil && s.ctx.Err() == nil {
		s.logger.Warn("fetch message attachments", zap.String("message_id", msg.ID), zap.Error(err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.thread.MergeAttachments(attachments)
	linked := s.thread.AttachmentsFor(msg.ID)
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateMessage, Message: &msg, Attachments: linked})
}

func (s *Session) onTicketUpdate(change realtime.Change) {
	var ticket domain.Ticket
	if err := change.DecodeNew(&ticket); err != nil {
		s.logger.Warn("decode ticket change", zap.Error(err))
		return
	}
	s.applyTicket(ticket)
}

func (s *Session) applyTicket(ticket domain.Ticket) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	oldStatus := s.thread.Ticket.Status
	applied, statusChanged := s.thread.ApplyTicketUpdate(ticket)
	s.mu.Unlock()
	if !applied {
		return
	}

	s.emit(Update{Kind: UpdateTicket, Ticket: &ticket})
	if statusChanged {
		s.emit(Update{Kind: UpdateStatusChanged, Ticket: &ticket, OldStatus: oldStatus, NewStatus: ticket.Status})
	}
}

func (s *Session) onAttachmentInsert(change realtime.Change) {
	var attachment domain.Attachment
	if err := change.DecodeNew(&attachment); err != nil {
		s.logger.Warn("decode attachment change", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	added := s.thread.MergeAttachments([]domain.Attachment{attachment})
	s.mu.Unlock()

	if len(added) > 0 {
		s.emit(Update{Kind: UpdateAttachments, Attachments: added})
	}
}

func (s *Session) onTyping(msg realtime.BroadcastMessage) {
	var payload realtime.TypingPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}
	if payload.UserID == "" || payload.UserID == s.viewer.ID {
		return
	}
	peer := &TypingPeer{UserID: payload.UserID, Name: payload.Name}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.typingPeer = peer
	s.typingGen++
	gen := s.typingGen
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = s.engine.clock.AfterFunc(s.engine.cfg.TypingTTL, func() {
		s.expireTyping(gen)
	})
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateTyping, Peer: peer})
}

func (s *Session) expireTyping(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.typingGen || s.typingPeer == nil {
		s.mu.Unlock()
		return
	}
	s.typingPeer = nil
	s.typingTimer = nil
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateTypingCleared})
}

// SetTyping announces that the viewer is typing. The first call in a window
// broadcasts at once; further calls inside the debounce window collapse into
// a single trailing broadcast at the end of the window.
func (s *Session) SetTyping() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	now := s.engine.clock.Now()
	debounce := s.engine.cfg.TypingDebounce
	if !s.typingSentOnce || now.Sub(s.typingLastSent) >= debounce {
		s.typingSentOnce = true
		s.typingLastSent = now
		s.mu.Unlock()
		return s.engine.broadcastTyping(s.ctx, &s.viewer, s.ticketID)
	}
	if !s.typingPending {
		s.typingPending = true
		wait := debounce - now.Sub(s.typingLastSent)
		s.typingTrailing = s.engine.clock.AfterFunc(wait, s.flushTyping)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) flushTyping() {
	s.mu.Lock()
	if s.closed || !s.typingPending {
		s.mu.Unlock()
		return
	}
	s.typingPending = false
	s.typingTrailing = nil
	s.typingLastSent = s.engine.clock.Now()
	s.mu.Unlock()

	_ = s.engine.broadcastTyping(s.ctx, &s.viewer, s.ticketID)
}

// Send posts a message as the viewer and appends it at once. The copy that
// later arrives through the subscription is dropped by id.
func (s *Session) Send(ctx context.Context, content string, files []File) (*SendResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.isSending {
		s.mu.Unlock()
		return nil, apperrors.NewConflict("a message is already being sent", nil)
	}
	s.isSending = true
	s.mu.Unlock()

	res, err := s.engine.SendMessage(ctx, &s.viewer, s.ticketID, content, files)

	s.mu.Lock()
	s.isSending = false
	if s.closed || err != nil {
		s.mu.Unlock()
		return res, err
	}
	added := s.thread.AddMessage(res.Message)
	s.thread.MergeAttachments(res.Attachments)
	linked := s.thread.AttachmentsFor(res.Message.ID)
	s.mu.Unlock()

	if added {
		msg := res.Message
		s.emit(Update{Kind: UpdateMessage, Message: &msg, Attachments: linked})
	}
	if res.Ticket != nil {
		s.applyTicket(*res.Ticket)
	}
	return res, nil
}

// Refresh re-reads the thread and, if the session is not live, retries the
// subscriptions.
func (s *Session) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	thread, err := s.engine.LoadThread(ctx, s.ticketID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if thread.Authoritative() {
		s.thread = *thread
	} else {
		for _, m := range thread.Messages {
			s.thread.AddMessage(m)
		}
		s.thread.MergeAttachments(thread.Attachments)
		s.thread.Origin = thread.Origin
	}
	live := s.live
	snapshot := s.thread.Clone()
	s.mu.Unlock()

	if !live {
		if err := s.subscribe(); err != nil {
			s.logger.Warn("live updates still unavailable", zap.Error(err))
			s.emit(Update{Kind: UpdateDegraded, Reason: err.Error()})
		}
	}
	s.emit(Update{Kind: UpdateThread, Thread: &snapshot})
	return nil
}

// Snapshot returns a copy of the current thread.
func (s *Session) Snapshot() Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread.Clone()
}

// Live reports whether all subscriptions are attached.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live && !s.closed
}

// IsSending reports whether a send is in flight.
func (s *Session) IsSending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSending
}

// TypingPeer returns the peer currently shown as typing, if any.
func (s *Session) TypingPeer() *TypingPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typingPeer == nil {
		return nil
	}
	peer := *s.typingPeer
	return &peer
}

// Close releases subscriptions and timers and cancels in-flight fetches.
// It is safe to call more than once; callbacks arriving later are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.live = false
	unsubs := s.unsubs
	s.unsubs = nil
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if s.typingTrailing != nil {
		s.typingTrailing.Stop()
		s.typingTrailing = nil
	}
	s.typingPeer = nil
	s.typingPending = false
	s.mu.Unlock()

	// an emit already in progress finishes before Close returns
	s.emitMu.Lock()
	s.cancel()
	s.emitMu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
