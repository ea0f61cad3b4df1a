package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/config"
	"github.com/techagentng/citizenchat/db"
	errs "github.com/techagentng/citizenchat/errors"
	"github.com/techagentng/citizenchat/models"
	"github.com/techagentng/citizenchat/realtime"
	"gorm.io/datatypes"
)

const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 100
)

// Broadcaster is the realtime fan-out the chat service needs. *realtime.Hub
// implements it.
type Broadcaster interface {
	BroadcastToRoom(room, event string, data interface{}) int
	EmitToUser(userID uint, event string, data interface{}) int
	JoinUserToRoom(userID uint, room string) int
	IsOnline(userID uint) bool
}

// ChatService is the message pipeline and read receipt processor.
type ChatService interface {
	SendMessage(ctx context.Context, senderID uint, req models.SendMessageRequest) (*models.Message, error)
	EditMessage(ctx context.Context, userID uint, messageID uuid.UUID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, userID uint, messageID uuid.UUID) (*models.Message, error)
	MarkRead(ctx context.Context, userID uint, conversationID uuid.UUID, upTo *uuid.UUID) (*models.ReadResult, error)
	CreateConversation(ctx context.Context, userID, recipientID uint) (*models.Conversation, bool, error)
	ConversationRoom(ctx context.Context, userID uint, conversationID uuid.UUID) (string, error)
	RoomsForUser(ctx context.Context, userID uint) ([]string, error)
	History(ctx context.Context, userID uint, conversationID uuid.UUID, before, after *uuid.UUID, limit int) (*models.MessagePage, error)
	ChatList(ctx context.Context, userID uint, archived bool) ([]models.ChatListItem, error)
	UnreadTotal(ctx context.Context, userID uint) (int64, error)
	ReportMessage(ctx context.Context, userID uint, messageID uuid.UUID, reason string) (*models.MessageReport, error)
}

type chatService struct {
	Config        *config.Config
	conversations db.ConversationRepository
	messages      db.MessageRepository
	users         db.UserRepository
	relationships RelationshipService
	hub           Broadcaster
	notifier      Notifier
	now           func() time.Time
}

func NewChatService(
	conversations db.ConversationRepository,
	messages db.MessageRepository,
	users db.UserRepository,
	relationships RelationshipService,
	hub Broadcaster,
	notifier Notifier,
	conf *config.Config,
) ChatService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &chatService{
		Config:        conf,
		conversations: conversations,
		messages:      messages,
		users:         users,
		relationships: relationships,
		hub:           hub,
		notifier:      notifier,
		now:           time.Now,
	}
}

func (s *chatService) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := 5 * time.Second
	if s.Config != nil && s.Config.PersistTimeout > 0 {
		timeout = s.Config.PersistTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func roomOf(conv *models.Conversation) string {
	return realtime.ConversationRoom(conv.ParticipantIDs())
}

// loadConversation returns the conversation when userID participates in it.
func (s *chatService) loadConversation(ctx context.Context, userID uint, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, errs.NotFound("conversation not found")
		}
		return nil, errs.Internal("could not load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.NotAuthorized("you are not a participant of this conversation")
	}
	return conv, nil
}

func (s *chatService) loadMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg, err := s.messages.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, errs.NotFound("message not found")
		}
		return nil, errs.Internal("could not load message", err)
	}
	return msg, nil
}

func (s *chatService) requireUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, errs.NotFound("user not found")
		}
		return nil, errs.Internal("could not load user", err)
	}
	return user, nil
}

func (s *chatService) checkNotBlocked(ctx context.Context, a, b uint) error {
	blocked, err := s.relationships.EitherBlocked(ctx, a, b)
	if err != nil {
		return err
	}
	if blocked {
		return errs.Blocked("you cannot message this user")
	}
	return nil
}

func (s *chatService) findOrCreate(ctx context.Context, a, b uint) (*models.Conversation, bool, error) {
	conv, created, err := s.conversations.FindOrCreateDirect(ctx, realtime.DirectRoom(a, b), []uint{a, b})
	if err != nil {
		return nil, false, errs.Internal("could not open conversation", err)
	}
	if created {
		room := roomOf(conv)
		s.hub.JoinUserToRoom(a, room)
		s.hub.JoinUserToRoom(b, room)
		log.Printf("conversation %s created between users %d and %d", conv.ID, a, b)
	}
	return conv, created, nil
}

func (s *chatService) SendMessage(ctx context.Context, senderID uint, req models.SendMessageRequest) (*models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, errs.InvalidInput("message content cannot be empty")
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if !req.Type.Valid() {
		return nil, errs.InvalidInput("unsupported message type")
	}
	if req.ConversationID == uuid.Nil && req.RecipientID == 0 {
		return nil, errs.InvalidInput("conversationId or recipientId is required")
	}
	if req.RecipientID == senderID {
		return nil, errs.InvalidInput("you cannot message yourself")
	}

	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	var conv *models.Conversation
	var recipientID uint
	if req.ConversationID != uuid.Nil {
		c, err := s.loadConversation(ctx, senderID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		conv = c
		recipientID = conv.OtherParticipant(senderID)
		if req.RecipientID != 0 && req.RecipientID != recipientID {
			return nil, errs.InvalidInput("recipient is not part of this conversation")
		}
	} else {
		if _, err := s.requireUser(ctx, req.RecipientID); err != nil {
			return nil, err
		}
		recipientID = req.RecipientID
	}

	if err := s.checkNotBlocked(ctx, senderID, recipientID); err != nil {
		return nil, err
	}

	if conv == nil {
		c, _, err := s.findOrCreate(ctx, senderID, recipientID)
		if err != nil {
			return nil, err
		}
		conv = c
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		Type:           req.Type,
		CreatedAt:      s.now().UTC(),
	}
	if len(req.Metadata) > 0 {
		msg.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := s.messages.CreateWithReceipt(ctx, msg); err != nil {
		return nil, errs.Internal("failed to send message", err)
	}

	unread := s.applyAggregate(ctx, conv, msg)
	s.deliver(conv, msg, unread)
	return msg, nil
}

// applyAggregate updates the conversation summary and counters. A failure
// here never fails the send: the counters are recomputed from unseen
// messages instead.
func (s *chatService) applyAggregate(ctx context.Context, conv *models.Conversation, msg *models.Message) map[uint]int {
	recipients := make([]uint, 0, len(conv.Participants))
	for _, id := range conv.ParticipantIDs() {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}

	if err := s.conversations.UpdateAggregate(ctx, msg); err == nil {
		if fresh, err := s.conversations.FindByID(ctx, conv.ID); err == nil {
			return fresh.UnreadCounts()
		}
	} else {
		log.Printf("Error updating conversation %s after message %s: %v", conv.ID, msg.ID, err)
	}

	unread := make(map[uint]int, len(recipients))
	for _, id := range recipients {
		count, err := s.conversations.RecomputeUnread(ctx, conv.ID, id)
		if err != nil {
			log.Printf("Error recomputing unread count for user %d in %s: %v", id, conv.ID, err)
			continue
		}
		unread[id] = count
	}
	return unread
}

func (s *chatService) deliver(conv *models.Conversation, msg *models.Message, unread map[uint]int) {
	s.hub.BroadcastToRoom(roomOf(conv), realtime.EventMessageReceived, msg)

	for _, id := range conv.ParticipantIDs() {
		if id == msg.SenderID {
			continue
		}
		s.hub.EmitToUser(id, realtime.EventMessageNotification, MessageNotification{
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			SenderID:       msg.SenderID,
			Preview:        msg.Preview(),
			UnreadCount:    unread[id],
		})
		if !s.hub.IsOnline(id) {
			go s.push(id, msg)
		}
	}
}

func (s *chatService) push(userID uint, msg *models.Message) {
	ctx, cancel := s.persistCtx(context.Background())
	defer cancel()

	title := "New message"
	if sender, err := s.users.FindUserByID(ctx, msg.SenderID); err == nil {
		if sender.Fullname != "" {
			title = sender.Fullname
		} else if sender.Username != "" {
			title = sender.Username
		}
	}
	data := map[string]interface{}{
		"type":            "message",
		"conversation_id": msg.ConversationID.String(),
		"message_id":      msg.ID.String(),
		"sender_id":       msg.SenderID,
	}
	if err := s.notifier.Notify(ctx, userID, title, msg.Preview(), data); err != nil {
		log.Printf("Error sending push notification to user %d: %v", userID, err)
	}
}

func (s *chatService) EditMessage(ctx context.Context, userID uint, messageID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.InvalidInput("message content cannot be empty")
	}

	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, errs.NotAuthorized("only the sender can edit this message")
	}
	if msg.IsDeleted {
		return nil, errs.InvalidInput("a deleted message cannot be edited")
	}
	conv, err := s.loadConversation(ctx, userID, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &at
	if err := s.messages.UpdateContent(ctx, msg); err != nil {
		return nil, errs.Internal("failed to edit message", err)
	}

	s.hub.BroadcastToRoom(roomOf(conv), realtime.EventMessageUpdated, msg)
	return msg, nil
}

// DeleteMessage soft deletes a message. Deleting twice is a no-op.
func (s *chatService) DeleteMessage(ctx context.Context, userID uint, messageID uuid.UUID) (*models.Message, error) {
	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, errs.NotAuthorized("only the sender can delete this message")
	}
	if msg.IsDeleted {
		redacted := msg.Redacted()
		return &redacted, nil
	}
	conv, err := s.loadConversation(ctx, userID, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	msg.IsDeleted = true
	msg.DeletedAt = &at
	if err := s.messages.SoftDelete(ctx, msg); err != nil {
		return nil, errs.Internal("failed to delete message", err)
	}

	s.hub.BroadcastToRoom(roomOf(conv), realtime.EventMessageDeleted, MessageDeleted{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		DeletedAt:      at,
	})
	redacted := msg.Redacted()
	return &redacted, nil
}

// MarkRead marks the messages addressed to userID as seen, optionally only up
// to upTo, and resets their counter. Calling it again changes nothing.
func (s *chatService) MarkRead(ctx context.Context, userID uint, conversationID uuid.UUID, upTo *uuid.UUID) (*models.ReadResult, error) {
	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	conv, err := s.loadConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	var upToTime *time.Time
	if upTo != nil {
		last, err := s.loadMessage(ctx, *upTo)
		if err != nil {
			return nil, err
		}
		if last.ConversationID != conv.ID {
			return nil, errs.InvalidInput("message does not belong to this conversation")
		}
		upToTime = &last.CreatedAt
	}

	at := s.now().UTC()
	ids, remaining, err := s.messages.MarkConversationRead(ctx, conv.ID, userID, upToTime, at)
	if err != nil {
		return nil, errs.Internal("failed to mark messages as read", err)
	}
	total, err := s.conversations.UnreadTotal(ctx, userID)
	if err != nil {
		log.Printf("Error loading unread total for user %d: %v", userID, err)
	}

	if len(ids) > 0 {
		s.hub.BroadcastToRoom(roomOf(conv), realtime.EventMessagesSeen, MessagesSeen{
			ConversationID: conv.ID,
			SeenBy:         userID,
			MessageIDs:     ids,
			SeenAt:         at,
		})
	}
	convID := conv.ID
	s.hub.EmitToUser(userID, realtime.EventNotificationCountUpdate, NotificationCount{
		ConversationID: &convID,
		Count:          remaining,
		Total:          total,
	})

	return &models.ReadResult{
		ConversationID: conv.ID,
		MessageIDs:     ids,
		UnreadCount:    remaining,
		UnreadTotal:    total,
	}, nil
}

func (s *chatService) CreateConversation(ctx context.Context, userID, recipientID uint) (*models.Conversation, bool, error) {
	if recipientID == 0 {
		return nil, false, errs.InvalidInput("recipient_id is required")
	}
	if recipientID == userID {
		return nil, false, errs.InvalidInput("you cannot start a conversation with yourself")
	}

	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	if _, err := s.requireUser(ctx, recipientID); err != nil {
		return nil, false, err
	}
	if err := s.checkNotBlocked(ctx, userID, recipientID); err != nil {
		return nil, false, err
	}
	return s.findOrCreate(ctx, userID, recipientID)
}

// ConversationRoom authorizes userID for a conversation and returns its room.
func (s *chatService) ConversationRoom(ctx context.Context, userID uint, conversationID uuid.UUID) (string, error) {
	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	conv, err := s.loadConversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	return roomOf(conv), nil
}

func (s *chatService) RoomsForUser(ctx context.Context, userID uint) ([]string, error) {
	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, errs.Internal("could not load conversations", err)
	}
	rooms := make([]string, 0, len(convs))
	for i := range convs {
		rooms = append(rooms, roomOf(&convs[i]))
	}
	return rooms, nil
}

func (s *chatService) History(ctx context.Context, userID uint, conversationID uuid.UUID, before, after *uuid.UUID, limit int) (*models.MessagePage, error) {
	if before != nil && after != nil {
		return nil, errs.InvalidInput("use either before or after, not both")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	conv, err := s.loadConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	cursor := models.MessageCursor{Limit: limit}
	for _, ref := range []struct {
		id   *uuid.UUID
		dest **models.Message
	}{{before, &cursor.Before}, {after, &cursor.After}} {
		if ref.id == nil {
			continue
		}
		msg, err := s.loadMessage(ctx, *ref.id)
		if err != nil {
			return nil, err
		}
		if msg.ConversationID != conv.ID {
			return nil, errs.InvalidInput("cursor message does not belong to this conversation")
		}
		*ref.dest = msg
	}

	msgs, hasMore, err := s.messages.History(ctx, conv.ID, cursor)
	if err != nil {
		return nil, errs.Internal("could not load messages", err)
	}

	page := &models.MessagePage{Messages: make([]models.Message, 0, len(msgs))}
	for _, m := range msgs {
		page.Messages = append(page.Messages, m.Redacted())
	}
	page.Cursor.HasMore = hasMore
	if len(msgs) > 0 {
		first, last := msgs[0].ID, msgs[len(msgs)-1].ID
		page.Cursor.Before = &first
		page.Cursor.After = &last
	}
	return page, nil
}

// ChatList returns the conversations of userID with partner profile, unread
// count and relationship flags. Archived partners are listed only when
// archived is true.
func (s *chatService) ChatList(ctx context.Context, userID uint, archived bool) ([]models.ChatListItem, error) {
	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, errs.Internal("could not load conversations", err)
	}
	rel, err := s.relationships.Relations(ctx, userID)
	if err != nil {
		return nil, err
	}

	partnerIDs := make([]uint, 0, len(convs))
	for i := range convs {
		partnerIDs = append(partnerIDs, convs[i].OtherParticipant(userID))
	}
	users, err := s.users.FindUsersByIDs(ctx, partnerIDs)
	if err != nil {
		return nil, errs.Internal("could not load chat partners", err)
	}
	byID := make(map[uint]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	items := make([]models.ChatListItem, 0, len(convs))
	for i := range convs {
		conv := convs[i]
		partnerID := conv.OtherParticipant(userID)
		if rel.Archived[partnerID] != archived {
			continue
		}
		partner := byID[partnerID]
		profile := partner.Response()
		profile.ID = partnerID
		profile.Online = s.hub.IsOnline(partnerID)

		items = append(items, models.ChatListItem{
			Conversation: conv,
			Partner:      profile,
			UnreadCount:  conv.UnreadCounts()[userID],
			IsBlocked:    rel.Blocked[partnerID],
			HasBlockedMe: rel.BlockedBy[partnerID],
			IsArchived:   rel.Archived[partnerID],
		})
	}
	return items, nil
}

func (s *chatService) UnreadTotal(ctx context.Context, userID uint) (int64, error) {
	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	total, err := s.conversations.UnreadTotal(ctx, userID)
	if err != nil {
		return 0, errs.Internal("could not count unread messages", err)
	}
	return total, nil
}

func (s *chatService) ReportMessage(ctx context.Context, userID uint, messageID uuid.UUID, reason string) (*models.MessageReport, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errs.InvalidInput("a reason is required")
	}

	ctx, cancel := s.persistCtx(ctx)
	defer cancel()

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == userID {
		return nil, errs.InvalidInput("you cannot report your own message")
	}
	if _, err := s.loadConversation(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}

	report := &models.MessageReport{MessageID: msg.ID, ReporterID: userID, Reason: reason}
	created, err := s.messages.CreateReport(ctx, report)
	if err != nil {
		return nil, errs.Internal("failed to report message", err)
	}
	if !created {
		return nil, errs.InvalidInput("you have already reported this message")
	}
	log.Printf("message %s reported by user %d", msg.ID, userID)
	return report, nil
}
