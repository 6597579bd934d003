package models

import "time"

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
)

// Friendship is an ordered pair: UserID sent the request to FriendID.
type Friendship struct {
	ID        uint64           `json:"id" gorm:"primaryKey"`
	UserID    string           `json:"user_id" gorm:"size:36;not null;index"`
	FriendID  string           `json:"friend_id" gorm:"size:36;not null;index"`
	Status    FriendshipStatus `json:"status" gorm:"size:16;not null;default:'pending';index"`
	IsMuted   bool             `json:"is_muted" gorm:"not null;default:false"`
	MutedBy   *string          `json:"muted_by" gorm:"size:36"`
	CreatedAt time.Time        `json:"created_at"`
}

func (Friendship) TableName() string {
	return "friendships"
}

// Other returns the endpoint that is not id.
func (f *Friendship) Other(id string) string {
	if f.UserID == id {
		return f.FriendID
	}
	return f.UserID
}

// Involves reports whether id is either endpoint.
func (f *Friendship) Involves(id string) bool {
	return f.UserID == id || f.FriendID == id
}

// MutedFor reports whether notifications delivered to recipient are
// suppressed by this row. A mute without muted_by belongs to the initiator.
func (f *Friendship) MutedFor(recipient string) bool {
	if !f.IsMuted {
		return false
	}
	muter := f.UserID
	if f.MutedBy != nil && *f.MutedBy != "" {
		muter = *f.MutedBy
	}
	return muter == recipient
}
