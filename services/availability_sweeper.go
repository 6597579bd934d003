package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AvailabilitySweeper clears ad-hoc availability whose deadline passed
// without the client switching it off. It sends nothing.
type AvailabilitySweeper struct {
	store   Store
	log     *zap.Logger
	metrics *Metrics
}

func NewAvailabilitySweeper(store Store, log *zap.Logger, metrics *Metrics) *AvailabilitySweeper {
	return &AvailabilitySweeper{store: store, log: log, metrics: metrics}
}

func (s *AvailabilitySweeper) Run(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ExpireAvailability(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire availability: %w", err)
	}
	s.metrics.Expired(len(ids))
	if len(ids) > 0 {
		s.log.Info("expired stale availability", zap.Int("count", len(ids)), zap.Strings("user_ids", ids))
	}
	return len(ids), nil
}
