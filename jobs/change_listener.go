package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callme-notifier/services"
	"callme-notifier/types"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingEvery    = 90 * time.Second

	// listenerHandleTimeout bounds one notification's fan-out.
	listenerHandleTimeout = 30 * time.Second
	listenerMaxInFlight   = 16
)

// Router routes a change envelope to its notifier.
type Router interface {
	Route(ctx context.Context, env types.Envelope) services.Outcome
}

// ChangeListener consumes pg_notify payloads carrying the same envelope as
// the database webhooks. Each notification is handled independently; the
// claims make a webhook and a notification for the same change safe.
type ChangeListener struct {
	dsn     string
	channel string
	router  Router
	log     *zap.Logger
}

func NewChangeListener(dsn, channel string, router Router, log *zap.Logger) *ChangeListener {
	return &ChangeListener{
		dsn:     dsn,
		channel: channel,
		router:  router,
		log:     log.With(zap.String("channel", channel)),
	}
}

// Run blocks until ctx is done.
func (l *ChangeListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				l.log.Info("change listener connected")
			case pq.ListenerEventDisconnected:
				l.log.Warn("change listener disconnected", zap.Error(err))
			case pq.ListenerEventReconnected:
				l.log.Info("change listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				l.log.Warn("change listener connect failed", zap.Error(err))
			}
		})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}

	ping := time.NewTicker(listenerPingEvery)
	defer ping.Stop()

	// In-flight notifications finish before Run returns.
	var inFlight errgroup.Group
	inFlight.SetLimit(listenerMaxInFlight)
	defer func() { _ = inFlight.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; changes during the gap are lost and the
			// next organic trigger or scan covers them.
			if n == nil {
				continue
			}
			payload := []byte(n.Extra)
			inFlight.Go(func() error {
				l.Handle(ctx, payload)
				return nil
			})
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Warn("change listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// Handle processes one notification payload under its own timeout,
// detached from ctx's cancellation. Panics are logged and reported as an
// error outcome.
func (l *ChangeListener) Handle(ctx context.Context, payload []byte) (res services.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listenerHandleTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("change handling panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = services.Outcome{Status: services.StatusError, Err: fmt.Errorf("change handling panicked: %v", r)}
		}
	}()

	env, err := types.ParseEnvelope(payload)
	if err != nil {
		l.log.Warn("invalid change payload", zap.Error(err))
		return services.Outcome{Status: services.StatusError, Err: err}
	}
	res = l.router.Route(ctx, env)
	if res.Err != nil {
		l.log.Error("change handling failed", zap.String("table", env.Table), zap.String("type", env.Type), zap.Error(res.Err))
	} else {
		l.log.Debug("change handled", zap.String("table", env.Table), zap.String("status", string(res.Status)))
	}
	return res
}
