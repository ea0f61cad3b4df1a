package realtime

import (
	"encoding/json"
	"time"
)

// Inbound events.
const (
	EventGetNotificationCount     = "get_notification_count"
	EventSubscribeNotifications   = "subscribe_notifications"
	EventUnsubscribeNotifications = "unsubscribe_notifications"
	EventSendMessage              = "send_message"
	EventEditMessage              = "edit_message"
	EventDeleteMessage            = "delete_message"
	EventMarkAsRead               = "mark_as_read"
	EventTyping                   = "typing"
	EventJoinConversation         = "join_conversation"
	EventLeaveConversation        = "leave_conversation"
	EventGetOnlineUsers           = "get_online_users"
)

var inboundEvents = map[string]bool{
	EventGetNotificationCount:     true,
	EventSubscribeNotifications:   true,
	EventUnsubscribeNotifications: true,
	EventSendMessage:              true,
	EventEditMessage:              true,
	EventDeleteMessage:            true,
	EventMarkAsRead:               true,
	EventTyping:                   true,
	EventJoinConversation:         true,
	EventLeaveConversation:        true,
	EventGetOnlineUsers:           true,
}

// IsInbound reports whether event is one a client may send.
func IsInbound(event string) bool {
	return inboundEvents[event]
}

// Outbound events.
const (
	EventUserOnline              = "user_online"
	EventUserOffline             = "user_offline"
	EventOnlineUsersUpdated      = "online_users_updated"
	EventMessageReceived         = "message_received"
	EventMessageSent             = "message_sent"
	EventMessageNotification     = "message_notification"
	EventMessageUpdated          = "message_updated"
	EventMessageDeleted          = "message_deleted"
	EventMessagesSeen            = "messages_seen"
	EventUserTyping              = "user_typing"
	EventTypingStopped           = "typing_stopped"
	EventNotificationCountUpdate = "notification_count_update"
	EventConversationJoined      = "conversation_joined"
	EventConversationLeft        = "conversation_left"
	EventOnlineUsers             = "online_users"
	EventError                   = "error"
)

// Envelope is the frame written to clients.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Inbound is a frame read from a client. Data is decoded by the handler of
// the event.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound frame once so it can be fanned out to many
// clients.
func Encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}

type PresencePayload struct {
	UserID    uint      `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type OnlineUsersPayload struct {
	UserIDs []uint `json:"userIds"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         uint   `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type ErrorDetails struct {
	Kind   string            `json:"kind"`
	Event  string            `json:"event,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type ErrorPayload struct {
	Message string       `json:"message"`
	Details ErrorDetails `json:"details"`
}
