package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
)

type Conversation struct {
	ID            uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	Type          ConversationType          `gorm:"size:20;not null;default:direct" json:"type"`
	DirectKey     *string                   `gorm:"size:100;uniqueIndex" json:"-"`
	Participants  []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants"`
	LastMessage   string                    `gorm:"type:text" json:"last_message"`
	LastMessageID *uuid.UUID                `gorm:"type:uuid" json:"last_message_id,omitempty"`
	LastSenderID  uint                      `json:"last_sender_id,omitempty"`
	LastMessageAt *time.Time                `gorm:"index" json:"last_message_at,omitempty"`
	IsActive      bool                      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// ConversationParticipant holds the per participant aggregate state of a
// conversation. One row per participant.
type ConversationParticipant struct {
	ConversationID uuid.UUID  `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         uint       `gorm:"primaryKey;index" json:"user_id"`
	UnreadCount    int        `gorm:"not null;default:0;check:unread_count >= 0" json:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joined_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ParticipantIDs returns the participant user ids in ascending order.
func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Conversation) HasParticipant(userID uint) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the partner of userID in a direct conversation, or 0.
func (c *Conversation) OtherParticipant(userID uint) uint {
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p.UserID
		}
	}
	return 0
}

// UnreadCounts maps participant id to its unread counter.
func (c *Conversation) UnreadCounts() map[uint]int {
	counts := make(map[uint]int, len(c.Participants))
	for _, p := range c.Participants {
		counts[p.UserID] = p.UnreadCount
	}
	return counts
}
