package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"callme-notifier/models"
	"callme-notifier/types"
	"callme-notifier/utils"
)

// Occurrence is one dated instance of a weekly window that contains now.
// Date is the owner's local calendar date of Start, so a window running
// past midnight keeps the date it started on.
type Occurrence struct {
	UserID    string
	Date      string
	StartTime string
	Start     time.Time
	End       time.Time
}

// Match is one direction of an overlap: Recipient hears about Sender.
type Match struct {
	Recipient  string
	Sender     string
	Occurrence Occurrence
	OverlapEnd time.Time
}

// ActiveOccurrences resolves which users have a window containing now.
// Each window is evaluated on its owner's wall clock; owners without a
// usable timezone use defaultLoc. Yesterday's windows are checked too, for
// slots that end after midnight. A user with several active windows gets
// the earliest-starting one.
func ActiveOccurrences(now time.Time, windows []models.AvailabilityWindow, profiles map[string]*models.Profile, defaultLoc *time.Location) map[string]Occurrence {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	out := make(map[string]Occurrence)
	for _, w := range windows {
		startM, err := utils.ParseClock(w.StartTime)
		if err != nil {
			continue
		}
		endM, err := utils.ParseClock(w.EndTime)
		if err != nil || endM == startM {
			continue
		}

		loc := defaultLoc
		if p := profiles[w.UserID]; p != nil {
			loc = utils.LoadLocationOr(p.Timezone, defaultLoc)
		}
		today := utils.MidnightOf(now.In(loc))

		for _, back := range []int{0, -1} {
			day := today.AddDate(0, 0, back)
			if int(day.Weekday()) != w.DayOfWeek {
				continue
			}
			start := atMinute(day, startM)
			end := atMinute(day, endM)
			if endM < startM {
				end = atMinute(day.AddDate(0, 0, 1), endM)
			}
			if now.Before(start) || !now.Before(end) {
				continue
			}
			if cur, ok := out[w.UserID]; ok && !start.Before(cur.Start) {
				continue
			}
			out[w.UserID] = Occurrence{
				UserID:    w.UserID,
				Date:      day.Format("2006-01-02"),
				StartTime: utils.FormatClock(startM),
				Start:     start,
				End:       end,
			}
		}
	}
	return out
}

func atMinute(day time.Time, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, day.Location())
}

// MatchPairs expands accepted friendships whose endpoints are both active
// into one Match per direction. A direction is dropped when the recipient
// muted the sender. Output is sorted by recipient then sender.
func MatchPairs(active map[string]Occurrence, friendships []models.Friendship) []Match {
	type pair struct{ r, s string }
	muted := make(map[pair]bool)
	var order []pair
	for i := range friendships {
		f := &friendships[i]
		if f.Status != models.FriendshipAccepted || f.UserID == f.FriendID {
			continue
		}
		if _, ok := active[f.UserID]; !ok {
			continue
		}
		if _, ok := active[f.FriendID]; !ok {
			continue
		}
		for _, p := range []pair{{f.UserID, f.FriendID}, {f.FriendID, f.UserID}} {
			if _, ok := muted[p]; !ok {
				order = append(order, p)
				muted[p] = false
			}
			if f.MutedFor(p.r) {
				muted[p] = true
			}
		}
	}

	var out []Match
	for _, p := range order {
		if muted[p] {
			continue
		}
		ro, so := active[p.r], active[p.s]
		end := ro.End
		if so.End.Before(end) {
			end = so.End
		}
		out = append(out, Match{Recipient: p.r, Sender: p.s, Occurrence: ro, OverlapEnd: end})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Recipient != out[j].Recipient {
			return out[i].Recipient < out[j].Recipient
		}
		return out[i].Sender < out[j].Sender
	})
	return out
}

// FindMatches is ActiveOccurrences followed by MatchPairs.
func FindMatches(now time.Time, windows []models.AvailabilityWindow, profiles map[string]*models.Profile,
	friendships []models.Friendship, defaultLoc *time.Location) []Match {
	return MatchPairs(ActiveOccurrences(now, windows, profiles, defaultLoc), friendships)
}

// ScanReport summarises one scanner run.
type ScanReport struct {
	Active  int             `json:"active_users"`
	Matches int             `json:"matches"`
	Claimed int             `json:"claimed"`
	Skipped int             `json:"already_notified"`
	Push    DispatchSummary `json:"push"`
}

// ScheduleMatcher notifies friends whose weekly windows overlap now, once
// per recipient, sender and window occurrence.
type ScheduleMatcher struct {
	store      Store
	dispatcher *Dispatcher
	log        *zap.Logger
	metrics    *Metrics
	defaultLoc *time.Location
}

func NewScheduleMatcher(store Store, dispatcher *Dispatcher, log *zap.Logger, metrics *Metrics, defaultLoc *time.Location) *ScheduleMatcher {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &ScheduleMatcher{store: store, dispatcher: dispatcher, log: log, metrics: metrics, defaultLoc: defaultLoc}
}

// candidateDays covers every weekday that could be "today" or "yesterday"
// in some timezone at now.
func candidateDays(now time.Time) []int {
	seen := make(map[int]bool)
	var days []int
	for k := -2; k <= 1; k++ {
		d := int(now.UTC().Add(time.Duration(k) * 24 * time.Hour).Weekday())
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days
}

// Run is one scan tick. It is safe to run concurrently with itself; the
// per-occurrence claim decides who sends.
func (m *ScheduleMatcher) Run(ctx context.Context, now time.Time) (ScanReport, error) {
	var rep ScanReport

	windows, err := m.store.WindowsForDays(ctx, candidateDays(now))
	if err != nil {
		return rep, fmt.Errorf("load availability windows: %w", err)
	}
	if len(windows) == 0 {
		return rep, nil
	}

	owners := make([]string, 0, len(windows))
	seen := make(map[string]bool)
	for _, w := range windows {
		if !seen[w.UserID] {
			seen[w.UserID] = true
			owners = append(owners, w.UserID)
		}
	}
	profiles, err := m.store.GetProfiles(ctx, owners)
	if err != nil {
		return rep, fmt.Errorf("load profiles: %w", err)
	}
	byID := profilesByID(profiles)

	active := ActiveOccurrences(now, windows, byID, m.defaultLoc)
	rep.Active = len(active)
	if len(active) < 2 {
		return rep, nil
	}
	activeIDs := make([]string, 0, len(active))
	for id := range active {
		activeIDs = append(activeIDs, id)
	}
	sort.Strings(activeIDs)

	friendships, err := m.store.AcceptedFriendshipsAmong(ctx, activeIDs)
	if err != nil {
		return rep, fmt.Errorf("load friendships: %w", err)
	}
	matches := MatchPairs(active, friendships)
	rep.Matches = len(matches)
	if len(matches) == 0 {
		return rep, nil
	}

	var recipients []string
	wants := make(map[string]bool)
	for _, mt := range matches {
		if _, done := wants[mt.Recipient]; done {
			continue
		}
		ok := byID[mt.Recipient].WantsPush(models.EventScheduleMatch)
		wants[mt.Recipient] = ok
		if ok {
			recipients = append(recipients, mt.Recipient)
		}
	}
	if len(recipients) == 0 {
		return rep, nil
	}
	tokenRows, err := m.store.PushTokensFor(ctx, recipients)
	if err != nil {
		return rep, fmt.Errorf("load push tokens: %w", err)
	}
	tokens := tokensByUser(tokenRows)

	var msgs []types.PushMessage
	for _, mt := range matches {
		if !wants[mt.Recipient] || len(tokens[mt.Recipient]) == 0 {
			continue
		}
		claimed, err := m.store.ClaimScheduleMatch(ctx, models.ScheduleMatchClaim{
			UserID:     mt.Recipient,
			FriendID:   mt.Sender,
			WindowDate: mt.Occurrence.Date,
			StartTime:  mt.Occurrence.StartTime,
		})
		if err != nil {
			m.log.Error("schedule match claim failed",
				zap.String("recipient_id", mt.Recipient),
				zap.String("sender_id", mt.Sender),
				zap.Error(err))
			continue
		}
		if !claimed {
			rep.Skipped++
			m.metrics.DedupSkip("schedule_match")
			continue
		}
		rep.Claimed++

		until := mt.OverlapEnd.In(mt.Occurrence.Start.Location()).Format("15:04")
		senderName := byID[mt.Sender].FirstNameOr("A friend")
		for _, tok := range tokens[mt.Recipient] {
			msgs = append(msgs, types.PushMessage{
				UserID:     mt.Recipient,
				Token:      tok,
				Title:      fmt.Sprintf("%s is free to chat! 📞", senderName),
				Body:       fmt.Sprintf("You're both free until %s. Give them a call!", until),
				DeepLink:   "/schedule/",
				CollapseID: "match-" + mt.Sender,
			})
		}
	}

	rep.Push, err = m.dispatcher.Send(ctx, msgs)
	if err != nil {
		return rep, err
	}
	m.log.Info("schedule match scan done",
		zap.Int("active_users", rep.Active),
		zap.Int("matches", rep.Matches),
		zap.Int("claimed", rep.Claimed),
		zap.Int("already_notified", rep.Skipped),
		zap.Int("sent", rep.Push.Delivered))
	return rep, nil
}
