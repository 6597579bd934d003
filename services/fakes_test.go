package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"callme-notifier/models"
	"callme-notifier/types"
)

// memStore is an in-memory Store with the same claim semantics as the
// database: the first insert of a key wins.
type memStore struct {
	mu          sync.Mutex
	profiles    map[string]models.Profile
	friendships []models.Friendship
	tokens      []models.PushToken
	windows     []models.AvailabilityWindow
	claims      map[string]bool
	matchClaims map[models.ScheduleMatchClaim]bool
	claimErr    error
}

func newMemStore() *memStore {
	return &memStore{
		profiles:    make(map[string]models.Profile),
		claims:      make(map[string]bool),
		matchClaims: make(map[models.ScheduleMatchClaim]bool),
	}
}

func (s *memStore) addProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *memStore) addToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, models.PushToken{UserID: userID, Token: token, Platform: models.PlatformIOS})
}

// befriend adds an accepted a->b row, muted by mutedBy when given.
func (s *memStore) befriend(a, b string, mutedBy ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := models.Friendship{
		ID:       uint64(len(s.friendships) + 1),
		UserID:   a,
		FriendID: b,
		Status:   models.FriendshipAccepted,
	}
	if len(mutedBy) > 0 {
		f.IsMuted = true
		f.MutedBy = strPtr(mutedBy[0])
	}
	s.friendships = append(s.friendships, f)
}

func (s *memStore) hasToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == token {
			return true
		}
	}
	return false
}

func (s *memStore) GetProfiles(_ context.Context, ids []string) ([]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Profile
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) AcceptedFriendships(_ context.Context, userID string) ([]models.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Friendship
	for _, f := range s.friendships {
		if f.Status == models.FriendshipAccepted && f.Involves(userID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memStore) AcceptedFriendshipsAmong(_ context.Context, ids []string) ([]models.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make(map[string]bool)
	for _, id := range ids {
		in[id] = true
	}
	var out []models.Friendship
	for _, f := range s.friendships {
		if f.Status == models.FriendshipAccepted && in[f.UserID] && in[f.FriendID] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memStore) PushTokensFor(_ context.Context, userIDs []string) ([]models.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make(map[string]bool)
	for _, id := range userIDs {
		in[id] = true
	}
	var out []models.PushToken
	for _, t := range s.tokens {
		if in[t.UserID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) DeletePushTokens(_ context.Context, tokens []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dead := make(map[string]bool)
	for _, t := range tokens {
		dead[t] = true
	}
	kept := s.tokens[:0]
	var n int64
	for _, t := range s.tokens {
		if dead[t.Token] {
			n++
			continue
		}
		kept = append(kept, t)
	}
	s.tokens = kept
	return n, nil
}

func (s *memStore) WindowsForDays(_ context.Context, days []int) ([]models.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make(map[int]bool)
	for _, d := range days {
		in[d] = true
	}
	var out []models.AvailabilityWindow
	for _, w := range s.windows {
		if in[w.DayOfWeek] {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *memStore) claim(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.claims[key] {
		return false, nil
	}
	s.claims[key] = true
	return true, nil
}

func (s *memStore) ClaimAvailability(_ context.Context, _ string, windowKey string) (bool, error) {
	return s.claim(windowKey)
}

func (s *memStore) ClaimFriendRequest(_ context.Context, _ string, requestKey string) (bool, error) {
	return s.claim(requestKey)
}

func (s *memStore) ClaimScheduleMatch(_ context.Context, c models.ScheduleMatchClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchClaims[c] {
		return false, nil
	}
	s.matchClaims[c] = true
	return true, nil
}

func (s *memStore) ExpireAvailability(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, p := range s.profiles {
		if !p.IsAvailable || p.AvailableUntil == nil || !p.AvailableUntil.Before(now) {
			continue
		}
		seen := now
		p.IsAvailable = false
		p.AvailableUntil = nil
		p.LastSeen = &seen
		s.profiles[id] = p
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// fakePusher answers per token from outcomes, defaulting to Delivered.
type fakePusher struct {
	mu       sync.Mutex
	outcomes map[string]types.DeliveryOutcome
	sent     []types.PushMessage
	auth     []string
}

func (p *fakePusher) Deliver(_ context.Context, msg types.PushMessage, authToken string) types.DeliveryResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	p.auth = append(p.auth, authToken)
	o, ok := p.outcomes[msg.Token]
	if !ok {
		o = types.Delivered
	}
	return types.DeliveryResult{Message: msg, Outcome: o, Attempts: 1}
}

func (p *fakePusher) messages() []types.PushMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.PushMessage(nil), p.sent...)
}

func (p *fakePusher) recipients() []string {
	var out []string
	for _, m := range p.messages() {
		out = append(out, m.UserID)
	}
	sort.Strings(out)
	return out
}

type fakeSigner struct {
	err   error
	calls int
}

func (s *fakeSigner) Sign(time.Time) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "signed.provider.token", nil
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []Email
}

func (m *fakeMailer) Send(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

var errBoom = errors.New("boom")

func newTestDispatcher(store Store, pusher Pusher) *Dispatcher {
	return NewDispatcher(&fakeSigner{}, pusher, store, zap.NewNop(), nil, 4)
}

func pushOn(id, name string) models.Profile {
	return models.Profile{
		ID:                        id,
		DisplayName:               name,
		EnablePushNotifications:   true,
		NotifyFriendRequests:      true,
		NotifyAvailabilityChanges: true,
		NotifyCallSuggestions:     true,
	}
}

func strPtr(s string) *string { return &s }
