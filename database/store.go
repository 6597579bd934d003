package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"callme-notifier/models"
)

const pgUniqueViolation = "23505"

// Store is the gorm-backed implementation of services.Store.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetProfiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	var out []models.Profile
	if len(ids) == 0 {
		return out, nil
	}
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (s *Store) AcceptedFriendships(ctx context.Context, userID string) ([]models.Friendship, error) {
	var out []models.Friendship
	err := s.db.WithContext(ctx).
		Where("status = ?", models.FriendshipAccepted).
		Where("user_id = ? OR friend_id = ?", userID, userID).
		Find(&out).Error
	return out, err
}

func (s *Store) AcceptedFriendshipsAmong(ctx context.Context, ids []string) ([]models.Friendship, error) {
	var out []models.Friendship
	if len(ids) < 2 {
		return out, nil
	}
	err := s.db.WithContext(ctx).
		Where("status = ?", models.FriendshipAccepted).
		Where("user_id IN ? AND friend_id IN ?", ids, ids).
		Find(&out).Error
	return out, err
}

// PushTokensFor returns iOS tokens only; other platforms are not served.
func (s *Store) PushTokensFor(ctx context.Context, userIDs []string) ([]models.PushToken, error) {
	var out []models.PushToken
	if len(userIDs) == 0 {
		return out, nil
	}
	err := s.db.WithContext(ctx).
		Where("user_id IN ? AND platform = ?", userIDs, models.PlatformIOS).
		Find(&out).Error
	return out, err
}

// DeletePushTokens removes every row holding one of tokens, whichever
// user registered it.
func (s *Store) DeletePushTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&models.PushToken{})
	return res.RowsAffected, res.Error
}

func (s *Store) WindowsForDays(ctx context.Context, days []int) ([]models.AvailabilityWindow, error) {
	var out []models.AvailabilityWindow
	if len(days) == 0 {
		return out, nil
	}
	err := s.db.WithContext(ctx).Where("day_of_week IN ?", days).Find(&out).Error
	return out, err
}

func (s *Store) ClaimAvailability(ctx context.Context, userID, windowKey string) (bool, error) {
	return s.claim(ctx, &models.NotificationClaim{UserID: userID, WindowKey: windowKey})
}

func (s *Store) ClaimFriendRequest(ctx context.Context, recipientID, requestKey string) (bool, error) {
	return s.claim(ctx, &models.NotificationClaim{UserID: recipientID, WindowKey: requestKey})
}

func (s *Store) ClaimScheduleMatch(ctx context.Context, c models.ScheduleMatchClaim) (bool, error) {
	row := c
	row.ID = 0
	return s.claim(ctx, &row)
}

// claim inserts row and reports whether this call created it. A conflict
// on the unique index means another invocation already holds the claim.
func (s *Store) claim(ctx context.Context, row interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ExpireAvailability flips is_available off for profiles whose
// available_until is before now, clearing the deadline and stamping
// last_seen. Rows changed by someone else between the read and the write
// are left alone by the repeated predicate.
func (s *Store) ExpireAvailability(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := func(db *gorm.DB) *gorm.DB {
			return db.Where("is_available = ? AND available_until IS NOT NULL AND available_until < ?", true, now)
		}
		if err := tx.Model(&models.Profile{}).Scopes(expired).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Profile{}).
			Scopes(expired).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"is_available":    false,
				"available_until": nil,
				"last_seen":       now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
