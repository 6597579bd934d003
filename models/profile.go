package models

import (
	"strings"
	"time"
)

// Profile is the subset of the app's profile row this service reads. The
// only fields written here are the availability fields, by the sweeper.
type Profile struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	DisplayName    string     `json:"display_name" gorm:"size:255"`
	Email          string     `json:"email" gorm:"size:255"`
	IsAvailable    bool       `json:"is_available" gorm:"not null;default:false;index"`
	AvailableUntil *time.Time `json:"available_until"`
	LastSeen       *time.Time `json:"last_seen"`

	EnablePushNotifications   bool  `json:"enable_push_notifications" gorm:"not null;default:true"`
	EnableEmailNotifications  *bool `json:"enable_email_notifications"`
	NotifyFriendRequests      bool  `json:"notify_friend_requests" gorm:"not null;default:true"`
	NotifyAvailabilityChanges bool  `json:"notify_availability_changes" gorm:"not null;default:true"`
	NotifyCallSuggestions     bool  `json:"notify_call_suggestions" gorm:"not null;default:true"`

	EnableQuietHours bool    `json:"enable_quiet_hours" gorm:"not null;default:false"`
	QuietHoursStart  *string `json:"quiet_hours_start" gorm:"size:8"`
	QuietHoursEnd    *string `json:"quiet_hours_end" gorm:"size:8"`
	Timezone         string  `json:"timezone" gorm:"size:64"`

	CreatedAt time.Time `json:"created_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// NotificationEvent names the per-event push toggles on a profile.
type NotificationEvent string

const (
	EventAvailabilityChange NotificationEvent = "availability_change"
	EventFriendRequest      NotificationEvent = "friend_request"
	EventScheduleMatch      NotificationEvent = "schedule_match"
)

// WantsPush reports whether the push channel and the given event toggle
// are both on.
func (p *Profile) WantsPush(event NotificationEvent) bool {
	if p == nil || !p.EnablePushNotifications {
		return false
	}
	switch event {
	case EventAvailabilityChange:
		return p.NotifyAvailabilityChanges
	case EventFriendRequest:
		return p.NotifyFriendRequests
	case EventScheduleMatch:
		return p.NotifyCallSuggestions
	default:
		return false
	}
}

// WantsEmail is true unless the email channel was explicitly switched off.
func (p *Profile) WantsEmail() bool {
	if p == nil || strings.TrimSpace(p.Email) == "" {
		return false
	}
	return p.EnableEmailNotifications == nil || *p.EnableEmailNotifications
}

// NameOr returns the display name, or fallback when it is blank.
func (p *Profile) NameOr(fallback string) string {
	if p == nil || strings.TrimSpace(p.DisplayName) == "" {
		return fallback
	}
	return p.DisplayName
}

// FirstNameOr returns the first word of the display name.
func (p *Profile) FirstNameOr(fallback string) string {
	fields := strings.Fields(p.NameOr(""))
	if len(fields) == 0 {
		return fallback
	}
	return fields[0]
}
