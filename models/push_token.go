package models

import "time"

const PlatformIOS = "ios"

// PushToken is one registered device for a profile. A (user, token) pair
// appears at most once; rows are pruned when APNs reports the token dead.
type PushToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"size:36;not null;uniqueIndex:ux_push_tokens_user_token,priority:1;index"`
	Token     string    `json:"token" gorm:"size:200;not null;uniqueIndex:ux_push_tokens_user_token,priority:2"`
	Platform  string    `json:"platform" gorm:"size:16;not null;default:'ios'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PushToken) TableName() string {
	return "push_tokens"
}
