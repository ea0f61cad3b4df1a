package models

// DeviceToken is a push notification token registered by a user's device.
type DeviceToken struct {
	Model
	UserID   uint   `json:"user_id" gorm:"not null;index"`
	Token    string `json:"token" gorm:"not null;uniqueIndex"`
	Platform string `json:"platform" gorm:"size:20"`
}
