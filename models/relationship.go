package models

import "time"

// Block is the directed edge "BlockerID has blocked BlockedID".
type Block struct {
	BlockerID uint      `gorm:"primaryKey" json:"blocker_id"`
	BlockedID uint      `gorm:"primaryKey;index" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive is the directed edge "UserID has archived the chat with ArchivedUserID".
type Archive struct {
	UserID         uint      `gorm:"primaryKey" json:"user_id"`
	ArchivedUserID uint      `gorm:"primaryKey" json:"archived_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}
