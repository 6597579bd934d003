package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"callme-notifier/models"
	"callme-notifier/types"
)

// AvailabilityNotifier tells friends when someone goes available.
type AvailabilityNotifier struct {
	store      Store
	dispatcher *Dispatcher
	log        *zap.Logger
	metrics    *Metrics
	bucket     time.Duration
	now        func() time.Time
}

func NewAvailabilityNotifier(store Store, dispatcher *Dispatcher, log *zap.Logger, metrics *Metrics, bucket time.Duration) *AvailabilityNotifier {
	return &AvailabilityNotifier{
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		metrics:    metrics,
		bucket:     bucket,
		now:        time.Now,
	}
}

// Handle fans out one push per friend device on a false to true flip of
// is_available. Repeat triggers inside one dedup bucket are skipped.
func (n *AvailabilityNotifier) Handle(ctx context.Context, ev types.ProfileChangeEvent) Outcome {
	if !ev.AvailabilityRisingEdge() {
		return outcome(StatusIgnored)
	}
	userID := ev.New.ID
	log := n.log.With(zap.String("user_id", userID))

	key := AvailabilityWindowKey(userID, n.now(), n.bucket)
	claimed, err := n.store.ClaimAvailability(ctx, userID, key)
	if err != nil {
		log.Error("availability claim failed", zap.Error(err))
		return failed(err)
	}
	if !claimed {
		n.metrics.DedupSkip("availability")
		log.Debug("availability already notified in this window", zap.String("window_key", key))
		return outcome(StatusDuplicate)
	}

	friendships, err := n.store.AcceptedFriendships(ctx, userID)
	if err != nil {
		log.Error("load friendships failed", zap.Error(err))
		return failed(err)
	}
	candidates := availabilityRecipients(userID, friendships)
	if len(candidates) == 0 {
		return outcome(StatusNoRecipients)
	}

	profiles, err := n.store.GetProfiles(ctx, candidates)
	if err != nil {
		log.Error("load friend profiles failed", zap.Error(err))
		return failed(err)
	}
	var recipients []string
	for i := range profiles {
		if profiles[i].WantsPush(models.EventAvailabilityChange) {
			recipients = append(recipients, profiles[i].ID)
		}
	}
	if len(recipients) == 0 {
		return outcome(StatusNoRecipients)
	}

	tokens, err := n.store.PushTokensFor(ctx, recipients)
	if err != nil {
		log.Error("load push tokens failed", zap.Error(err))
		return failed(err)
	}
	if len(tokens) == 0 {
		return outcome(StatusNoRecipients)
	}

	name := ev.New.NameOr("A friend")
	msgs := make([]types.PushMessage, 0, len(tokens))
	for uid, list := range tokensByUser(tokens) {
		for _, tok := range list {
			msgs = append(msgs, types.PushMessage{
				UserID:     uid,
				Token:      tok,
				Title:      fmt.Sprintf("%s is free to talk 📞", name),
				Body:       "Tap to call them now",
				DeepLink:   "/friends/",
				CollapseID: "avail-" + userID,
			})
		}
	}

	sum, err := n.dispatcher.Send(ctx, msgs)
	if err != nil {
		return failed(err)
	}
	log.Info("availability fan-out done",
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", sum.Delivered),
		zap.Int("dead", sum.Dead),
		zap.Int("dropped", sum.Transient+sum.Failed))
	return Outcome{Status: StatusSent, Push: sum}
}

// availabilityRecipients returns the accepted friends of userID that have
// not muted them. A mute on any row between the pair wins.
func availabilityRecipients(userID string, friendships []models.Friendship) []string {
	muted := make(map[string]bool)
	var order []string
	for i := range friendships {
		f := &friendships[i]
		if f.Status != models.FriendshipAccepted || !f.Involves(userID) {
			continue
		}
		other := f.Other(userID)
		if other == userID {
			continue
		}
		if _, ok := muted[other]; !ok {
			order = append(order, other)
			muted[other] = false
		}
		if f.MutedFor(other) {
			muted[other] = true
		}
	}
	out := order[:0]
	for _, id := range order {
		if !muted[id] {
			out = append(out, id)
		}
	}
	return out
}
