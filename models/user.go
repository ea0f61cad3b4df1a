package models

import "time"

// User is the part of the application's user record the chat subsystem reads
// and writes. Accounts are created elsewhere.
type User struct {
	Model
	Fullname     string     `json:"fullname"`
	Username     string     `json:"username"`
	Email        string     `json:"-" gorm:"unique"`
	ThumbNailURL string     `json:"thumbnail_url,omitempty"`
	IsBlocked    bool       `json:"-" gorm:"default:false"`
	Online       bool       `json:"online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

// UserResponse is the public profile embedded in chat lists.
type UserResponse struct {
	ID           uint       `json:"id"`
	Fullname     string     `json:"fullname"`
	Username     string     `json:"username"`
	ThumbNailURL string     `json:"thumbnail_url,omitempty"`
	Online       bool       `json:"online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}

func (u *User) Response() UserResponse {
	return UserResponse{
		ID:           u.ID,
		Fullname:     u.Fullname,
		Username:     u.Username,
		ThumbNailURL: u.ThumbNailURL,
		Online:       u.Online,
		LastSeenAt:   u.LastSeenAt,
	}
}
