package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/auth"
	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/observability"
	"github.com/Geniusmania/ticket-chat-system/internal/realtime"
	"github.com/Geniusmania/ticket-chat-system/internal/storage"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// liveStore is an in-memory conversation store that publishes message
// inserts on the hub the way the pgx repositories do.
type liveStore struct {
	hub *realtime.Hub

	mu       sync.Mutex
	tickets  map[string]domain.Ticket
	users    map[string]domain.User
	messages []domain.Message
	seq      int
}

func (s *liveStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.GetProfile(ctx, id)
}

func (s *liveStore) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (s *liveStore) GetProfile(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (s *liveStore) ListMessages(_ context.Context, ticketID string) ([]domain.Message, error) {
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

func (s *liveStore) ListAttachments(context.Context, string) ([]domain.Attachment, error) {
	return nil, nil
}

func (s *liveStore) ListMessageAttachments(context.Context, string) ([]domain.Attachment, error) {
	return nil, nil
}

func (s *liveStore) GetAttachment(context.Context, string) (*domain.Attachment, error) {
	return nil, pgx.ErrNoRows
}

func (s *liveStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	s.seq++
	msg.ID = fmt.Sprintf("m-%d", s.seq)
	msg.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, *msg)
	row := *msg
	s.mu.Unlock()

	s.hub.PublishChange(ctx, domain.TableMessages, domain.ChangeInsert, row, nil)
	return nil
}

func (s *liveStore) InsertAttachment(context.Context, *domain.Attachment) error {
	return errors.New("attachments are not stored in this test")
}

type wsFrame struct {
	Type    string                   `json:"type"`
	Live    *bool                    `json:"live"`
	Thread  json.RawMessage          `json:"thread"`
	Message *domain.Message          `json:"message"`
	Peer    *conversation.TypingPeer `json:"peer"`
	Error   *frameErr                `json:"error"`
}

type wsServer struct {
	addr   string
	hub    *realtime.Hub
	tokens *auth.TokenManager
	owner  domain.User
	admin  domain.User
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	logger := zap.NewNop()
	hub := realtime.NewHub(realtime.NewMemoryBus(), logger)

	owner := domain.User{ID: "user-a", Name: "Ana", Role: domain.RoleUser, IsActive: true, IsVerified: true}
	admin := domain.User{ID: "admin-b", Name: "Ben", Role: domain.RoleAdmin, IsActive: true, IsVerified: true}
	store := &liveStore{
		hub:   hub,
		users: map[string]domain.User{owner.ID: owner, admin.ID: admin},
		tickets: map[string]domain.Ticket{"T": {
			ID:        "T",
			Title:     "Cannot log in",
			Status:    domain.TicketStatusInProgress,
			Priority:  domain.TicketPriorityHigh,
			Category:  domain.TicketCategoryTechnical,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
			UserID:    owner.ID,
		}},
	}

	objects, err := storage.NewFileStore(t.TempDir(), 1<<20, logger)
	require.NoError(t, err)
	engine, err := conversation.NewEngine(conversation.Dependencies{
		Store:    store,
		Objects:  objects,
		Channels: hub,
		Logger:   logger,
	})
	require.NoError(t, err)

	tokens := auth.NewTokenManager("test-secret", 60)
	mw := auth.NewAuthMiddleware(tokens, store, nil, logger)
	rt := NewRealtimeHandler(engine, hub, observability.NewMetrics(), logger)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/tickets/:ticketId", mw.Handle, rt.Upgrade, rt.Serve())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })

	return &wsServer{addr: ln.Addr().String(), hub: hub, tokens: tokens, owner: owner, admin: admin}
}

func (s *wsServer) dial(t *testing.T, user domain.User) *gws.Conn {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(user.ID, user.Role)
	require.NoError(t, err)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+s.addr+"/ws/tickets/T?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gws.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// readUntil skips frames of other types, such as typing expiry.
func readUntil(t *testing.T, conn *gws.Conn, kind string) wsFrame {
	t.Helper()
	for {
		frame := readFrame(t, conn)
		if frame.Type == kind {
			return frame
		}
	}
}

func TestRealtimeSocket_ThreadTypingMessageAndSignOut(t *testing.T) {
	srv := newWSServer(t)

	ownerConn := srv.dial(t, srv.owner)
	first := readFrame(t, ownerConn)
	assert.Equal(t, string(conversation.UpdateThread), first.Type)
	require.NotNil(t, first.Live)
	assert.True(t, *first.Live)
	assert.NotEmpty(t, first.Thread)

	adminConn := srv.dial(t, srv.admin)
	assert.Equal(t, string(conversation.UpdateThread), readFrame(t, adminConn).Type)

	require.NoError(t, adminConn.WriteJSON(clientFrame{Type: clientTyping}))
	typing := readUntil(t, ownerConn, string(conversation.UpdateTyping))
	require.NotNil(t, typing.Peer)
	assert.Equal(t, srv.admin.ID, typing.Peer.UserID)

	require.NoError(t, ownerConn.WriteJSON(clientFrame{Type: clientMessage, Content: "Still locked out"}))
	pushed := readUntil(t, adminConn, string(conversation.UpdateMessage))
	require.NotNil(t, pushed.Message)
	assert.Equal(t, "Still locked out", pushed.Message.Content)
	assert.Equal(t, srv.owner.ID, pushed.Message.UserID)
	own := readUntil(t, ownerConn, string(conversation.UpdateMessage))
	require.NotNil(t, own.Message)
	assert.Equal(t, pushed.Message.ID, own.Message.ID)

	require.NoError(t, ownerConn.WriteJSON(clientFrame{Type: "shout"}))
	bad := readUntil(t, ownerConn, string(frameError))
	require.NotNil(t, bad.Error)
	assert.Equal(t, apperrors.CodeValidation, bad.Error.Code)

	require.NoError(t, srv.hub.Broadcast(context.Background(), realtime.SessionTopic(srv.owner.ID), realtime.EventSignedOut,
		map[string]string{"userId": srv.owner.ID}))

	require.NoError(t, ownerConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = ownerConn.ReadMessage()
	}
	assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "unexpected read error: %v", err)

	// the admin's view is unaffected
	require.NoError(t, adminConn.WriteJSON(clientFrame{Type: clientRefresh}))
	require.NoError(t, adminConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = adminConn.ReadMessage()
	var netErr net.Error
	if err != nil {
		assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "admin socket closed: %v", err)
	}
}

func TestRealtimeSocket_UnknownTicketClosesWithError(t *testing.T) {
	srv := newWSServer(t)
	token, _, err := srv.tokens.GenerateToken(srv.owner.ID, srv.owner.Role)
	require.NoError(t, err)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+srv.addr+"/ws/tickets/nope?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	assert.Equal(t, string(frameError), frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, apperrors.CodeNotFound, frame.Error.Code)
}
