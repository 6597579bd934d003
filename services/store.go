package services

import (
	"context"
	"fmt"
	"time"

	"callme-notifier/models"
)

// TokenPruner removes device tokens APNs reported as permanently dead.
type TokenPruner interface {
	DeletePushTokens(ctx context.Context, tokens []string) (int64, error)
}

// Store is everything the notifiers and jobs read from or write to the
// database. Claim methods return false, nil when the claim already exists;
// that is the skip path, not an error.
type Store interface {
	TokenPruner

	GetProfiles(ctx context.Context, ids []string) ([]models.Profile, error)
	AcceptedFriendships(ctx context.Context, userID string) ([]models.Friendship, error)
	AcceptedFriendshipsAmong(ctx context.Context, ids []string) ([]models.Friendship, error)
	PushTokensFor(ctx context.Context, userIDs []string) ([]models.PushToken, error)
	WindowsForDays(ctx context.Context, days []int) ([]models.AvailabilityWindow, error)

	ClaimAvailability(ctx context.Context, userID, windowKey string) (bool, error)
	ClaimFriendRequest(ctx context.Context, recipientID, requestKey string) (bool, error)
	ClaimScheduleMatch(ctx context.Context, claim models.ScheduleMatchClaim) (bool, error)

	// ExpireAvailability switches off every profile whose available_until
	// is before now and returns the affected ids.
	ExpireAvailability(ctx context.Context, now time.Time) ([]string, error)
}

// AvailabilityWindowKey buckets now so every trigger for userID inside one
// bucket maps to the same claim.
func AvailabilityWindowKey(userID string, now time.Time, bucket time.Duration) string {
	ms := bucket.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return fmt.Sprintf("%s:%d", userID, now.UnixMilli()/ms)
}

// FriendRequestKey identifies one friend request for dedup. Rows without an
// id fall back to the ordered pair.
func FriendRequestKey(f models.Friendship) string {
	if f.ID != 0 {
		return fmt.Sprintf("friend-request:%d", f.ID)
	}
	return fmt.Sprintf("friend-request:%s:%s", f.UserID, f.FriendID)
}

func profilesByID(profiles []models.Profile) map[string]*models.Profile {
	out := make(map[string]*models.Profile, len(profiles))
	for i := range profiles {
		out[profiles[i].ID] = &profiles[i]
	}
	return out
}

func tokensByUser(tokens []models.PushToken) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		k := t.UserID + "\x00" + t.Token
		if t.Token == "" || seen[k] {
			continue
		}
		seen[k] = true
		out[t.UserID] = append(out[t.UserID], t.Token)
	}
	return out
}
