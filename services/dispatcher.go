package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callme-notifier/types"
)

// DispatchSummary tallies one fan-out batch by final outcome.
type DispatchSummary struct {
	Attempted int   `json:"attempted"`
	Delivered int   `json:"delivered"`
	Dead      int   `json:"dead"`
	Transient int   `json:"transient"`
	Failed    int   `json:"failed"`
	Pruned    int64 `json:"pruned"`
}

func (s *DispatchSummary) add(o types.DeliveryOutcome) {
	switch o {
	case types.Delivered:
		s.Delivered++
	case types.DeadToken:
		s.Dead++
	case types.TransientFailure:
		s.Transient++
	default:
		s.Failed++
	}
}

// Merge folds another batch into s.
func (s DispatchSummary) Merge(o DispatchSummary) DispatchSummary {
	s.Attempted += o.Attempted
	s.Delivered += o.Delivered
	s.Dead += o.Dead
	s.Transient += o.Transient
	s.Failed += o.Failed
	s.Pruned += o.Pruned
	return s
}

// Dispatcher signs one provider token per batch, delivers every message
// concurrently and prunes the tokens APNs reported dead once all
// deliveries have settled.
type Dispatcher struct {
	signer      Signer
	pusher      Pusher
	pruner      TokenPruner
	log         *zap.Logger
	metrics     *Metrics
	concurrency int
	now         func() time.Time
}

func NewDispatcher(signer Signer, pusher Pusher, pruner TokenPruner, log *zap.Logger, metrics *Metrics, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		signer:      signer,
		pusher:      pusher,
		pruner:      pruner,
		log:         log,
		metrics:     metrics,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Send returns an error only when the provider token cannot be signed.
// Individual delivery failures and prune failures are logged and counted.
func (d *Dispatcher) Send(ctx context.Context, msgs []types.PushMessage) (DispatchSummary, error) {
	var sum DispatchSummary
	if len(msgs) == 0 {
		return sum, nil
	}

	authToken, err := d.signer.Sign(d.now())
	if err != nil {
		d.log.Error("apns token signing failed", zap.Error(err))
		return sum, fmt.Errorf("sign provider token: %w", err)
	}

	results := make([]types.DeliveryResult, len(msgs))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			results[i] = d.pusher.Deliver(ctx, m, authToken)
			return nil
		})
	}
	_ = g.Wait()

	sum.Attempted = len(msgs)
	var dead []string
	seen := make(map[string]bool)
	for _, r := range results {
		sum.add(r.Outcome)
		d.metrics.Delivery(r.Outcome)
		if r.Outcome == types.DeadToken && !seen[r.Message.Token] {
			seen[r.Message.Token] = true
			dead = append(dead, r.Message.Token)
		}
	}

	if len(dead) > 0 {
		n, err := d.pruner.DeletePushTokens(ctx, dead)
		if err != nil {
			d.log.Error("failed to delete dead push tokens", zap.Int("count", len(dead)), zap.Error(err))
		} else {
			sum.Pruned = n
			d.log.Info("deleted dead push tokens", zap.Int64("deleted", n))
		}
	}
	return sum, nil
}
