package models

import (
	"github.com/google/uuid"
)

// SendMessageRequest is the input of the message pipeline. Exactly one of
// ConversationID and RecipientID identifies the target.
type SendMessageRequest struct {
	ConversationID uuid.UUID
	RecipientID    uint
	Content        string
	Type           MessageType
	Metadata       map[string]interface{}
}

type CreateConversationRequest struct {
	RecipientID uint `json:"recipient_id" binding:"required"`
}

type SendMessageBody struct {
	Content  string                 `json:"content" binding:"required,max=5000"`
	Type     MessageType            `json:"type" binding:"omitempty,oneof=text image file system"`
	Metadata map[string]interface{} `json:"metadata"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required,max=5000"`
}

type MarkReadRequest struct {
	LastReadMessageID string `json:"last_read_message_id" conform:"trim" binding:"omitempty,uuid"`
}

type ReportMessageRequest struct {
	Reason string `json:"reason" conform:"trim" binding:"required,max=500"`
}

type DeviceTokenRequest struct {
	Token    string `json:"token" conform:"trim" binding:"required"`
	Platform string `json:"platform" conform:"trim,lower" binding:"omitempty,oneof=android ios web"`
}

// ChatListItem is one row of a user's chat list.
type ChatListItem struct {
	Conversation Conversation `json:"conversation"`
	Partner      UserResponse `json:"partner"`
	UnreadCount  int          `json:"unread_count"`
	IsBlocked    bool         `json:"is_blocked"`
	HasBlockedMe bool         `json:"has_blocked_me"`
	IsArchived   bool         `json:"is_archived"`
}

type PageCursor struct {
	Before  *uuid.UUID `json:"before,omitempty"`
	After   *uuid.UUID `json:"after,omitempty"`
	HasMore bool       `json:"has_more"`
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	Cursor   PageCursor `json:"cursor"`
}

// ReadResult is what MarkRead changed.
type ReadResult struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	UnreadCount    int         `json:"unread_count"`
	UnreadTotal    int64       `json:"unread_total"`
}

// Attachment describes an uploaded file that a message can reference in its
// metadata.
type Attachment struct {
	URL          string      `json:"url"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	Name         string      `json:"name"`
	MimeType     string      `json:"mime_type"`
	Size         int64       `json:"size"`
	MessageType  MessageType `json:"message_type"`
}

func (a *Attachment) Metadata() map[string]interface{} {
	meta := map[string]interface{}{
		"url":       a.URL,
		"name":      a.Name,
		"mime_type": a.MimeType,
		"size":      a.Size,
	}
	if a.ThumbnailURL != "" {
		meta["thumbnail_url"] = a.ThumbnailURL
	}
	return meta
}
