package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"callme-notifier/services"
)

// RunFunc is one tick of a scheduled component. The result is logged and
// returned to HTTP callers as-is.
type RunFunc func(ctx context.Context, now time.Time) (interface{}, error)

// IntervalJob runs a component on a fixed ticker. Every tick is an
// independent run; nothing is carried between ticks.
type IntervalJob struct {
	name     string
	interval time.Duration
	run      RunFunc
	log      *zap.Logger
	metrics  *services.Metrics

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewIntervalJob(name string, interval time.Duration, run RunFunc, log *zap.Logger, metrics *services.Metrics) *IntervalJob {
	return &IntervalJob{
		name:     name,
		interval: interval,
		run:      run,
		log:      log.With(zap.String("job", name)),
		metrics:  metrics,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *IntervalJob) Name() string {
	return j.name
}

// Start begins ticking in the background until Stop or ctx is done.
func (j *IntervalJob) Start(ctx context.Context) {
	go j.loop(ctx)
	j.log.Info("job started", zap.Duration("interval", j.interval))
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (j *IntervalJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	<-j.done
	j.log.Info("job stopped")
}

func (j *IntervalJob) loop(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, j.interval)
			_, _ = j.RunOnce(tickCtx, now)
			cancel()
		case <-j.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single tick. It is also what the HTTP job endpoints
// and the -run-once flag call.
func (j *IntervalJob) RunOnce(ctx context.Context, now time.Time) (res interface{}, err error) {
	started := time.Now()
	defer j.metrics.ObserveJob(j.name, started)
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("job run panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = nil, fmt.Errorf("job %s panicked: %v", j.name, r)
		}
	}()

	res, err = j.run(ctx, now)
	if err != nil {
		j.log.Error("job run failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		return res, err
	}
	j.log.Debug("job run done", zap.Any("result", res), zap.Duration("took", time.Since(started)))
	return res, nil
}

// Sweeper is the expiry sweep as seen by the scheduler.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// Scanner is the schedule-match scan as seen by the scheduler.
type Scanner interface {
	Run(ctx context.Context, now time.Time) (services.ScanReport, error)
}

const (
	SweepJobName = "expire-availability"
	ScanJobName  = "notify-schedule-matches"
)

func NewSweepJob(s Sweeper, interval time.Duration, log *zap.Logger, metrics *services.Metrics) *IntervalJob {
	return NewIntervalJob(SweepJobName, interval, func(ctx context.Context, now time.Time) (interface{}, error) {
		n, err := s.Run(ctx, now)
		return map[string]int{"expired": n}, err
	}, log, metrics)
}

func NewScanJob(s Scanner, interval time.Duration, log *zap.Logger, metrics *services.Metrics) *IntervalJob {
	return NewIntervalJob(ScanJobName, interval, func(ctx context.Context, now time.Time) (interface{}, error) {
		return s.Run(ctx, now)
	}, log, metrics)
}
