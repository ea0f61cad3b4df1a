package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	errs "github.com/techagentng/citizenchat/errors"
	"github.com/techagentng/citizenchat/models"
	"github.com/techagentng/citizenchat/realtime"
	"github.com/techagentng/citizenchat/server/response"
	"github.com/techagentng/citizenchat/services"
	"github.com/techagentng/citizenchat/services/jwt"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type sendMessagePayload struct {
	ConversationID string                 `json:"conversationId" conform:"trim" binding:"omitempty,uuid"`
	RecipientID    uint                   `json:"recipientId"`
	Content        string                 `json:"content" binding:"required,max=5000"`
	Type           models.MessageType     `json:"type" binding:"omitempty,oneof=text image file system"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type editMessagePayload struct {
	MessageID string `json:"messageId" conform:"trim" binding:"required,uuid"`
	Content   string `json:"content" binding:"required,max=5000"`
}

type messageRefPayload struct {
	MessageID string `json:"messageId" conform:"trim" binding:"required,uuid"`
}

type markReadPayload struct {
	ConversationID    string `json:"conversationId" conform:"trim" binding:"required,uuid"`
	LastReadMessageID string `json:"lastReadMessageId" conform:"trim" binding:"omitempty,uuid"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId" conform:"trim" binding:"required,uuid"`
	IsTyping       bool   `json:"isTyping"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId" conform:"trim" binding:"required,uuid"`
}

type onlineUsersPayload struct {
	UserIDs []uint `json:"userIds"`
}

type conversationAck struct {
	ConversationID string `json:"conversationId"`
	Room           string `json:"room"`
}

// handleWebSocket authenticates the handshake, registers the connection,
// subscribes it to its personal room and every conversation room of the user,
// then serves inbound events until the connection drops. Closing the
// connection cancels the context of in-flight events.
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = getTokenFromHeader(c)
		}
		userID, err := jwt.UserIDFromToken(token, s.Config.JWTSecret)
		if err != nil {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.New("Unauthorized", http.StatusUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("socket: upgrade failed for user %d: %v", userID, err)
			return
		}

		client := realtime.NewClient(userID, conn, realtime.ClientOptions{
			SendBuffer: s.Config.SocketSendBuffer,
			EventRate:  s.Config.SocketEventRate,
			EventBurst: s.Config.SocketEventBurst,
			Metrics:    s.Hub.Metrics(),
		})
		err = s.Hub.ConnectLoading(client, func() ([]string, error) {
			return s.ChatService.RoomsForUser(client.Context(), userID)
		})
		if err != nil {
			log.Printf("socket: loading rooms for user %d: %v", userID, err)
			client.Close()
			return
		}
		go client.WritePump()
		client.ReadPump(s.dispatch)
		s.Hub.Disconnect(client)
	}
}

// dispatch handles one inbound event. A failure yields exactly one error
// event on the originating connection.
func (s *Server) dispatch(c *realtime.Client, in realtime.Inbound) {
	ctx := c.Context()

	var err error
	switch in.Event {
	case realtime.EventGetNotificationCount:
		err = s.onNotificationCount(ctx, c)
	case realtime.EventSubscribeNotifications:
		s.Hub.Subscribe(c)
	case realtime.EventUnsubscribeNotifications:
		s.Hub.Unsubscribe(c)
	case realtime.EventSendMessage:
		err = s.onSendMessage(ctx, c, in.Data)
	case realtime.EventEditMessage:
		err = s.onEditMessage(ctx, c, in.Data)
	case realtime.EventDeleteMessage:
		err = s.onDeleteMessage(ctx, c, in.Data)
	case realtime.EventMarkAsRead:
		err = s.onMarkAsRead(ctx, c, in.Data)
	case realtime.EventTyping:
		err = s.onTyping(ctx, c, in.Data)
	case realtime.EventJoinConversation:
		err = s.onJoinConversation(ctx, c, in.Data)
	case realtime.EventLeaveConversation:
		err = s.onLeaveConversation(ctx, c, in.Data)
	case realtime.EventGetOnlineUsers:
		err = s.onGetOnlineUsers(c, in.Data)
	default:
		err = errs.InvalidInput("unknown event " + in.Event)
	}
	if err != nil {
		c.EmitError(in.Event, err)
	}
}

// decodePayload unmarshals data into v and validates it. A missing payload
// decodes to the zero value.
func decodePayload(data json.RawMessage, v interface{}) error {
	raw := strings.TrimSpace(string(data))
	if raw != "" && raw != "null" {
		if err := json.Unmarshal(data, v); err != nil {
			return errs.InvalidInput("invalid payload")
		}
	}
	return models.ValidateStruct(v)
}

func parseID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errs.InvalidInput("invalid " + field)
	}
	return id, nil
}

func (s *Server) onNotificationCount(ctx context.Context, c *realtime.Client) error {
	total, err := s.ChatService.UnreadTotal(ctx, c.UserID)
	if err != nil {
		return err
	}
	c.Emit(realtime.EventNotificationCountUpdate, services.NotificationCount{Count: int(total), Total: total})
	return nil
}

func (s *Server) onSendMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p sendMessagePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	req := models.SendMessageRequest{
		RecipientID: p.RecipientID,
		Content:     p.Content,
		Type:        p.Type,
		Metadata:    p.Metadata,
	}
	if p.ConversationID != "" {
		id, err := parseID(p.ConversationID, "conversationId")
		if err != nil {
			return err
		}
		req.ConversationID = id
	}

	msg, err := s.ChatService.SendMessage(ctx, c.UserID, req)
	if err != nil {
		return err
	}
	c.Emit(realtime.EventMessageSent, msg)
	return nil
}

func (s *Server) onEditMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p editMessagePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	id, err := parseID(p.MessageID, "messageId")
	if err != nil {
		return err
	}
	_, err = s.ChatService.EditMessage(ctx, c.UserID, id, p.Content)
	return err
}

func (s *Server) onDeleteMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p messageRefPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	id, err := parseID(p.MessageID, "messageId")
	if err != nil {
		return err
	}
	_, err = s.ChatService.DeleteMessage(ctx, c.UserID, id)
	return err
}

func (s *Server) onMarkAsRead(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p markReadPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	convID, err := parseID(p.ConversationID, "conversationId")
	if err != nil {
		return err
	}
	var upTo *uuid.UUID
	if p.LastReadMessageID != "" {
		id, err := parseID(p.LastReadMessageID, "lastReadMessageId")
		if err != nil {
			return err
		}
		upTo = &id
	}
	_, err = s.ChatService.MarkRead(ctx, c.UserID, convID, upTo)
	return err
}

func (s *Server) onTyping(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p typingPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	convID, err := parseID(p.ConversationID, "conversationId")
	if err != nil {
		return err
	}
	room, err := s.ChatService.ConversationRoom(ctx, c.UserID, convID)
	if err != nil {
		return err
	}
	s.Hub.SetTyping(c, convID.String(), room, p.IsTyping)
	return nil
}

func (s *Server) onJoinConversation(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p conversationPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	convID, err := parseID(p.ConversationID, "conversationId")
	if err != nil {
		return err
	}
	room, err := s.ChatService.ConversationRoom(ctx, c.UserID, convID)
	if err != nil {
		return err
	}
	s.Hub.Join(c, room)
	c.Emit(realtime.EventConversationJoined, conversationAck{ConversationID: convID.String(), Room: room})
	return nil
}

func (s *Server) onLeaveConversation(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p conversationPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	convID, err := parseID(p.ConversationID, "conversationId")
	if err != nil {
		return err
	}
	room, err := s.ChatService.ConversationRoom(ctx, c.UserID, convID)
	if err != nil {
		return err
	}
	s.Hub.LeaveConversation(c, convID.String(), room)
	c.Emit(realtime.EventConversationLeft, conversationAck{ConversationID: convID.String(), Room: room})
	return nil
}

func (s *Server) onGetOnlineUsers(c *realtime.Client, data json.RawMessage) error {
	var p onlineUsersPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	online := s.Hub.OnlineUsers()
	if len(p.UserIDs) > 0 {
		online = make([]uint, 0, len(p.UserIDs))
		for _, id := range p.UserIDs {
			if s.Hub.IsOnline(id) {
				online = append(online, id)
			}
		}
	}
	c.Emit(realtime.EventOnlineUsers, realtime.OnlineUsersPayload{UserIDs: online})
	return nil
}
