package models

import "time"

// NotificationClaim is a write-once dedup row for webhook triggers. WindowKey is
// "<subject>:<bucket>" or "friend-request:<id>"; the unique index is
// the claim.
type NotificationClaim struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;not null;index"`
	WindowKey string    `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (NotificationClaim) TableName() string {
	return "notification_log"
}

// ScheduleMatchClaim records that UserID was told about FriendID for one
// window occurrence.
type ScheduleMatchClaim struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     string    `gorm:"size:36;not null;uniqueIndex:ux_schedule_match_claim,priority:1"`
	FriendID   string    `gorm:"size:36;not null;uniqueIndex:ux_schedule_match_claim,priority:2"`
	WindowDate string    `gorm:"size:10;not null;uniqueIndex:ux_schedule_match_claim,priority:3"`
	StartTime  string    `gorm:"size:8;not null;uniqueIndex:ux_schedule_match_claim,priority:4"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (ScheduleMatchClaim) TableName() string {
	return "notified_schedule_matches"
}
