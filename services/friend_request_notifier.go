package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callme-notifier/models"
	"callme-notifier/types"
	"callme-notifier/utils"
)

// FriendRequestNotifier pushes and emails the recipient of a new pending
// friend request.
type FriendRequestNotifier struct {
	store      Store
	dispatcher *Dispatcher
	mailer     Mailer
	log        *zap.Logger
	metrics    *Metrics
	quiet      utils.QuietHours
	defaultLoc *time.Location
	appURL     string
	now        func() time.Time
}

func NewFriendRequestNotifier(store Store, dispatcher *Dispatcher, mailer Mailer, log *zap.Logger, metrics *Metrics,
	quiet utils.QuietHours, defaultLoc *time.Location, appURL string) *FriendRequestNotifier {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &FriendRequestNotifier{
		store:      store,
		dispatcher: dispatcher,
		mailer:     mailer,
		log:        log,
		metrics:    metrics,
		quiet:      quiet,
		defaultLoc: defaultLoc,
		appURL:     appURL,
		now:        time.Now,
	}
}

// InQuietHours reports whether p asked not to be pushed at now. The range
// is evaluated on p's own wall clock.
func (n *FriendRequestNotifier) InQuietHours(p *models.Profile, now time.Time) bool {
	if p == nil || !p.EnableQuietHours {
		return false
	}
	q := n.quiet.Override(p.QuietHoursStart, p.QuietHoursEnd)
	return q.Contains(now, utils.LoadLocationOr(p.Timezone, n.defaultLoc))
}

// Handle notifies on pending inserts only. Push and email run side by
// side; a failure in one does not affect the other.
func (n *FriendRequestNotifier) Handle(ctx context.Context, ev types.FriendshipChangeEvent) Outcome {
	if !ev.IsNewPendingRequest() {
		return outcome(StatusIgnored)
	}
	senderID, recipientID := ev.New.UserID, ev.New.FriendID
	log := n.log.With(zap.String("sender_id", senderID), zap.String("recipient_id", recipientID))

	claimed, err := n.store.ClaimFriendRequest(ctx, recipientID, FriendRequestKey(ev.New))
	if err != nil {
		log.Error("friend request claim failed", zap.Error(err))
		return failed(err)
	}
	if !claimed {
		n.metrics.DedupSkip("friend_request")
		return outcome(StatusDuplicate)
	}

	profiles, err := n.store.GetProfiles(ctx, []string{senderID, recipientID})
	if err != nil {
		log.Error("load profiles failed", zap.Error(err))
		return failed(err)
	}
	byID := profilesByID(profiles)
	recipient := byID[recipientID]
	if recipient == nil {
		log.Warn("friend request recipient has no profile")
		return outcome(StatusNoRecipients)
	}
	senderName := byID[senderID].NameOr("Someone")

	now := n.now()
	wantPush := recipient.WantsPush(models.EventFriendRequest)
	if wantPush && n.InQuietHours(recipient, now) {
		log.Info("recipient in quiet hours, skipping push")
		wantPush = false
	}
	wantEmail := recipient.WantsEmail()
	if !wantPush && !wantEmail {
		return outcome(StatusNoRecipients)
	}

	res := Outcome{Status: StatusSent}
	var g errgroup.Group
	if wantPush {
		g.Go(func() error {
			sum, err := n.sendPush(ctx, recipientID, senderID, senderName)
			if err != nil {
				log.Error("friend request push failed", zap.Error(err))
			}
			res.Push = sum
			return nil
		})
	}
	if wantEmail {
		g.Go(func() error {
			if err := n.sendEmail(ctx, recipient, senderName, now); err != nil {
				log.Error("friend request email failed", zap.Error(err))
				return nil
			}
			res.Emailed = true
			return nil
		})
	}
	_ = g.Wait()

	log.Info("friend request notified",
		zap.Int("push_sent", res.Push.Delivered),
		zap.Bool("emailed", res.Emailed))
	return res
}

func (n *FriendRequestNotifier) sendPush(ctx context.Context, recipientID, senderID, senderName string) (DispatchSummary, error) {
	tokens, err := n.store.PushTokensFor(ctx, []string{recipientID})
	if err != nil {
		return DispatchSummary{}, fmt.Errorf("load push tokens: %w", err)
	}
	var msgs []types.PushMessage
	for _, tok := range tokensByUser(tokens)[recipientID] {
		msgs = append(msgs, types.PushMessage{
			UserID:     recipientID,
			Token:      tok,
			Title:      "New friend request 👋",
			Body:       fmt.Sprintf("%s wants to be your friend on CallMe", senderName),
			DeepLink:   "/friends/",
			CollapseID: "friend-request-" + senderID,
		})
	}
	return n.dispatcher.Send(ctx, msgs)
}

func (n *FriendRequestNotifier) sendEmail(ctx context.Context, recipient *models.Profile, senderName string, now time.Time) error {
	email, err := RenderFriendRequestEmail(recipient.Email, senderName, recipient.FirstNameOr("there"), n.appURL, now)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, email)
}
