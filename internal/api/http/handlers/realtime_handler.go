package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/auth"
	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/observability"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 64 << 10
	wsSendBuffer = 64

	wsUserKey = "ws_user"

	frameError conversation.UpdateKind = "error"
)

// Client frame types.
const (
	clientTyping  = "typing"
	clientMessage = "message"
	clientRefresh = "refresh"
)

type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type frameErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type serverFrame struct {
	conversation.Update
	Live  *bool     `json:"live,omitempty"`
	Error *frameErr `json:"error,omitempty"`
}

// SessionEvents delivers session lifecycle broadcasts such as signed_out.
type SessionEvents interface {
	OnBroadcast(ctx context.Context, topic, event string, handler func(realtime.BroadcastMessage)) (func(), error)
}

// RealtimeHandler bridges live ticket sessions onto WebSocket connections.
type RealtimeHandler struct {
	engine   *conversation.Engine
	sessions SessionEvents
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewRealtimeHandler constructs handler. sessions may be nil.
func NewRealtimeHandler(engine *conversation.Engine, sessions SessionEvents, metrics *observability.Metrics, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{engine: engine, sessions: sessions, metrics: metrics, logger: logger.Named("realtime_handler")}
}

// Upgrade rejects plain HTTP requests and hands the principal to the socket.
// It must run after the auth middleware.
func (h *RealtimeHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	user := auth.CurrentUser(c)
	if user == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	c.Locals(wsUserKey, user)
	return c.Next()
}

// Serve GET /ws/tickets/:ticketId.
func (h *RealtimeHandler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *RealtimeHandler) serve(conn *websocket.Conn) {
	user, _ := conn.Locals(wsUserKey).(*domain.User)
	ticketID := conn.Params("ticketId")
	logger := h.logger.With(zap.String("ticket_id", ticketID))
	if user == nil {
		_ = conn.Close()
		return
	}
	logger = logger.With(zap.String("user_id", user.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := newOutbox(wsSendBuffer)
	listener := func(u conversation.Update) {
		if !out.push(serverFrame{Update: u}) {
			logger.Warn("client too slow, closing live view")
			cancel()
		}
	}

	session, err := h.engine.Open(ctx, user, ticketID, listener)
	if err != nil {
		h.writeFinal(conn, errorFrame(err))
		_ = conn.Close()
		return
	}
	degraded := !session.Live()
	h.metrics.SessionOpened(degraded)

	var unsubscribe func()
	if h.sessions != nil {
		unsubscribe, err = h.sessions.OnBroadcast(ctx, realtime.SessionTopic(user.ID), realtime.EventSignedOut, func(realtime.BroadcastMessage) {
			logger.Info("session signed out, closing live view")
			cancel()
		})
		if err != nil {
			logger.Warn("signed_out subscription failed", zap.Error(err))
		}
	}

	snapshot := session.Snapshot()
	live := session.Live()
	if !out.release(serverFrame{Update: conversation.Update{Kind: conversation.UpdateThread, Thread: &snapshot}, Live: &live}) {
		cancel()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(ctx, conn, out, logger)
		cancel()
	}()

	h.readPump(ctx, conn, session, out, logger)

	cancel()
	session.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
	out.close()
	wg.Wait()
	_ = conn.Close()
	h.metrics.SessionClosed(degraded)
}

func (h *RealtimeHandler) readPump(ctx context.Context, conn *websocket.Conn, session *conversation.Session, out *outbox, logger *zap.Logger) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			out.push(errorFrame(apperrors.NewValidationError("frames must be JSON objects", nil)))
			continue
		}
		switch frame.Type {
		case clientTyping:
			if err := session.SetTyping(); err != nil {
				logger.Debug("typing signal dropped", zap.Error(err))
			}
		case clientMessage:
			if _, err := session.Send(ctx, frame.Content, nil); err != nil {
				out.push(errorFrame(err))
			}
		case clientRefresh:
			if err := session.Refresh(ctx); err != nil {
				out.push(errorFrame(err))
			}
		default:
			out.push(errorFrame(apperrors.NewValidationError("unknown frame type", map[string]any{"type": frame.Type})))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (h *RealtimeHandler) writePump(ctx context.Context, conn *websocket.Conn, out *outbox, logger *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-out.frames:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// Unblock the reader.
			_ = conn.SetReadDeadline(time.Now())
			return
		case <-out.done:
			return
		}
	}
}

func (h *RealtimeHandler) writeFinal(conn *websocket.Conn, frame serverFrame) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteJSON(frame)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, frame.Error.Code))
}

func errorFrame(err error) serverFrame {
	de := apperrors.ToDomainError(err)
	return serverFrame{
		Update: conversation.Update{Kind: frameError},
		Error:  &frameErr{Code: de.Code, Message: de.Message},
	}
}

// outbox is a bounded frame queue that tolerates pushes after close. Frames
// pushed before release are held so the thread frame always goes first.
type outbox struct {
	mu     sync.Mutex
	held   []serverFrame
	ready  bool
	closed bool
	frames chan serverFrame
	done   chan struct{}
}

func newOutbox(size int) *outbox {
	return &outbox{frames: make(chan serverFrame, size), done: make(chan struct{})}
}

func (o *outbox) push(f serverFrame) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return true
	}
	if !o.ready {
		o.held = append(o.held, f)
		return true
	}
	return o.offer(f)
}

// release queues first followed by every held frame.
func (o *outbox) release(first serverFrame) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = true
	if o.closed {
		return true
	}
	if !o.offer(first) {
		return false
	}
	for _, f := range o.held {
		if !o.offer(f) {
			return false
		}
	}
	o.held = nil
	return true
}

func (o *outbox) offer(f serverFrame) bool {
	select {
	case o.frames <- f:
		return true
	default:
		return false
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
}
