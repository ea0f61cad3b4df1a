package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

type Message struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID         `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       uint              `gorm:"not null;index" json:"sender_id"`
	RecipientID    uint              `gorm:"not null;index:idx_messages_recipient_seen,priority:1" json:"recipient_id"`
	Content        string            `gorm:"type:text;not null" json:"content"`
	Type           MessageType       `gorm:"size:20;not null;default:text" json:"type"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index:idx_messages_conversation_created,priority:2" json:"created_at"`
	IsSeen         bool              `gorm:"not null;default:false;index:idx_messages_recipient_seen,priority:2" json:"is_seen"`
	SeenAt         *time.Time        `json:"seen_at,omitempty"`
	IsEdited       bool              `gorm:"not null;default:false" json:"is_edited"`
	EditedAt       *time.Time        `json:"edited_at,omitempty"`
	IsDeleted      bool              `gorm:"not null;default:false" json:"is_deleted"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	Receipts       []MessageReceipt  `gorm:"foreignKey:MessageID" json:"-"`
	ReadBy         []uint            `gorm:"-" json:"read_by"`
}

// MessageReceipt records that UserID has read MessageID.
type MessageReceipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey" json:"message_id"`
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	ReadAt    time.Time `gorm:"not null" json:"read_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// FillReadBy derives ReadBy from the loaded receipts.
func (m *Message) FillReadBy() {
	readBy := make([]uint, 0, len(m.Receipts))
	for _, r := range m.Receipts {
		readBy = append(readBy, r.UserID)
	}
	sort.Slice(readBy, func(i, j int) bool { return readBy[i] < readBy[j] })
	m.ReadBy = readBy
}

// Redacted returns a copy safe to show after a soft delete.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = ""
		m.Metadata = nil
	}
	return m
}

// DeletedPreview replaces the chat list preview of a deleted message.
const DeletedPreview = "message deleted"

// Preview is the short text used in notifications and the chat list.
func (m *Message) Preview() string {
	if m.IsDeleted {
		return DeletedPreview
	}
	switch m.Type {
	case MessageImage:
		return "sent a photo"
	case MessageFile:
		return "sent a file"
	}
	const max = 100
	r := []rune(m.Content)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return m.Content
}

// MessageCursor selects a page of history relative to a message.
type MessageCursor struct {
	Before *Message
	After  *Message
	Limit  int
}

// MessageReport is a user complaint about a message.
type MessageReport struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_report_message_reporter" json:"message_id"`
	ReporterID uint      `gorm:"not null;uniqueIndex:idx_report_message_reporter" json:"reporter_id"`
	Reason     string    `gorm:"type:text;not null" json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *MessageReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
