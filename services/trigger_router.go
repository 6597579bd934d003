package services

import (
	"context"

	"callme-notifier/types"
)

// ProfileHandler reacts to profiles changes.
type ProfileHandler interface {
	Handle(ctx context.Context, ev types.ProfileChangeEvent) Outcome
}

// FriendshipHandler reacts to friendships changes.
type FriendshipHandler interface {
	Handle(ctx context.Context, ev types.FriendshipChangeEvent) Outcome
}

// TriggerRouter sends a raw change envelope to the notifier for its
// table. It backs sources that carry every table on one stream.
type TriggerRouter struct {
	Profiles    ProfileHandler
	Friendships FriendshipHandler
}

func (r TriggerRouter) Route(ctx context.Context, env types.Envelope) Outcome {
	switch env.Table {
	case "profiles":
		ev, err := env.ProfileEvent()
		if err != nil {
			return failed(err)
		}
		if env.Type != "" && env.Type != types.ChangeUpdate {
			return outcome(StatusIgnored)
		}
		return r.Profiles.Handle(ctx, ev)
	case "friendships":
		ev, err := env.FriendshipEvent()
		if err != nil {
			return failed(err)
		}
		return r.Friendships.Handle(ctx, ev)
	default:
		return outcome(StatusIgnored)
	}
}
