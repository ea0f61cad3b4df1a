package services

import (
	"time"

	"github.com/google/uuid"
)

// Payloads of the events the chat service broadcasts.

type MessageNotification struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	SenderID       uint      `json:"senderId"`
	Preview        string    `json:"preview"`
	UnreadCount    int       `json:"unreadCount"`
}

type MessagesSeen struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	SeenBy         uint        `json:"seenBy"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
	SeenAt         time.Time   `json:"seenAt"`
}

type NotificationCount struct {
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Count          int        `json:"count"`
	Total          int64      `json:"total"`
}

type MessageDeleted struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	DeletedAt      time.Time `json:"deletedAt"`
}
