package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/citizenchat/config"
	"github.com/techagentng/citizenchat/db"
	errs "github.com/techagentng/citizenchat/errors"
	"github.com/techagentng/citizenchat/models"
	"github.com/techagentng/citizenchat/realtime"
	"github.com/techagentng/citizenchat/services"
	"github.com/techagentng/citizenchat/services/jwt"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// stubChat implements services.ChatService. Methods without a func set panic
// through the nil embedded interface.
type stubChat struct {
	services.ChatService

	mu       sync.Mutex
	sent     []models.SendMessageRequest
	rooms    map[uuid.UUID]string
	create   func(userID, recipientID uint) (*models.Conversation, bool, error)
	history  func(before, after *uuid.UUID, limit int) (*models.MessagePage, error)
	markRead func(userID uint, conv uuid.UUID, upTo *uuid.UUID) (*models.ReadResult, error)
	sendErr  error
	unread   int64
	reports  int
	listed   []bool
}

func (s *stubChat) ReportMessage(_ context.Context, userID uint, messageID uuid.UUID, reason string) (*models.MessageReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports++
	return &models.MessageReport{MessageID: messageID, ReporterID: userID, Reason: reason}, nil
}

func (s *stubChat) SendMessage(_ context.Context, senderID uint, req models.SendMessageRequest) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, req)
	return &models.Message{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		RecipientID:    req.RecipientID,
		Content:        strings.TrimSpace(req.Content),
		Type:           models.MessageText,
	}, nil
}

func (s *stubChat) Sent() []models.SendMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SendMessageRequest(nil), s.sent...)
}

func (s *stubChat) CreateConversation(_ context.Context, userID, recipientID uint) (*models.Conversation, bool, error) {
	return s.create(userID, recipientID)
}

func (s *stubChat) History(_ context.Context, _ uint, _ uuid.UUID, before, after *uuid.UUID, limit int) (*models.MessagePage, error) {
	return s.history(before, after, limit)
}

func (s *stubChat) MarkRead(_ context.Context, userID uint, conv uuid.UUID, upTo *uuid.UUID) (*models.ReadResult, error) {
	return s.markRead(userID, conv, upTo)
}

func (s *stubChat) ChatList(_ context.Context, _ uint, archived bool) ([]models.ChatListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = append(s.listed, archived)
	return []models.ChatListItem{}, nil
}

func (s *stubChat) UnreadTotal(context.Context, uint) (int64, error) {
	return s.unread, nil
}

func (s *stubChat) RoomsForUser(context.Context, uint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms, nil
}

func (s *stubChat) ConversationRoom(_ context.Context, _ uint, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return "", errs.NotFound("conversation not found")
	}
	return room, nil
}

// stubUsers knows every user id below 100.
type stubUsers struct {
	mu     sync.Mutex
	tokens []models.DeviceToken
}

func (u *stubUsers) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	if id >= 100 {
		return nil, errors.Wrap(db.ErrNotFound, "user")
	}
	user := &models.User{Username: "user"}
	user.ID = id
	return user, nil
}

func (u *stubUsers) FindUsersByIDs(context.Context, []uint) ([]models.User, error) { return nil, nil }

func (u *stubUsers) UpdatePresence(context.Context, uint, bool, time.Time) error { return nil }

func (u *stubUsers) SaveDeviceToken(_ context.Context, token *models.DeviceToken) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tokens = append(u.tokens, *token)
	return nil
}

func (u *stubUsers) DeviceTokens(context.Context, uint) ([]string, error) { return nil, nil }

func (u *stubUsers) DeleteDeviceTokens(context.Context, []string) error { return nil }

type testServer struct {
	*Server
	chat   *stubChat
	users  *stubUsers
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conf := &config.Config{JWTSecret: testSecret, ReportRateLimit: 2, PersistTimeout: time.Second}
	reg := prometheus.NewRegistry()
	hub := realtime.NewHub(realtime.HubOptions{Metrics: realtime.NewMetrics(reg)})
	chat := &stubChat{rooms: make(map[uuid.UUID]string)}
	users := &stubUsers{}
	s := &Server{
		Config:         conf,
		Hub:            hub,
		UserRepository: users,
		ChatService:    chat,
		Gatherer:       reg,
	}
	return &testServer{Server: s, chat: chat, users: users, router: s.setupRouter()}
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path string, userID uint, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+bearer(t, userID))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}
