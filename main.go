package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"callme-notifier/config"
	"callme-notifier/database"
	"callme-notifier/jobs"
	"callme-notifier/logger"
	"callme-notifier/middleware"
	"callme-notifier/routes"
	"callme-notifier/services"
	"callme-notifier/utils"
)

func main() {
	runOnce := flag.String("run-once", "", "run a single job (sweep|scan) and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	store := database.NewStore(db)

	keyPEM, err := cfg.APNs.PrivateKeyPEM()
	if err != nil {
		log.Fatal("invalid APNs key", zap.Error(err))
	}
	signer, err := services.NewTokenSigner(keyPEM, cfg.APNs.KeyID, cfg.APNs.TeamID)
	if err != nil {
		log.Fatal("invalid APNs key", zap.Error(err))
	}

	quiet, err := utils.NewQuietHours(cfg.Jobs.QuietHoursStart, cfg.Jobs.QuietHoursEnd)
	if err != nil {
		log.Fatal("invalid quiet hours", zap.Error(err))
	}
	defaultLoc := utils.LoadLocationOr(cfg.Jobs.DefaultTZ, time.UTC)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(registry)

	pusher := services.NewAPNsClient(services.APNsClientConfig{
		Host:       services.APNsHost(cfg.APNs.Production),
		Topic:      cfg.APNs.BundleID,
		MaxRetries: cfg.Push.MaxRetries,
		RetryDelay: cfg.Push.RetryDelay,
		Expiration: cfg.Push.Expiration,
	}, services.NewAPNsHTTPClient(cfg.Push.Timeout), log.Named("apns"))
	dispatcher := services.NewDispatcher(signer, pusher, store, log, metrics, cfg.Push.Concurrency)

	availability := services.NewAvailabilityNotifier(store, dispatcher, log.Named("availability"), metrics, cfg.Jobs.DedupBucket)
	friendRequests := services.NewFriendRequestNotifier(store, dispatcher,
		services.NewMailer(cfg.Email.ResendAPIKey, cfg.Email.From, log),
		log.Named("friend_request"), metrics, quiet, defaultLoc, cfg.Email.AppURL)

	sweepJob := jobs.NewSweepJob(services.NewAvailabilitySweeper(store, log.Named("sweeper"), metrics),
		cfg.Jobs.SweepInterval, log, metrics)
	scanJob := jobs.NewScanJob(services.NewScheduleMatcher(store, dispatcher, log.Named("schedule"), metrics, defaultLoc),
		cfg.Jobs.ScanInterval, log, metrics)

	if *runOnce != "" {
		job := map[string]*jobs.IntervalJob{"sweep": sweepJob, "scan": scanJob}[*runOnce]
		if job == nil {
			log.Fatal("unknown -run-once job", zap.String("job", *runOnce))
		}
		if _, err := job.RunOnce(context.Background(), time.Now()); err != nil {
			log.Fatal("job failed", zap.String("job", job.Name()), zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepJob.Start(ctx)
	defer sweepJob.Stop()
	scanJob.Start(ctx)
	defer scanJob.Stop()

	if cfg.Realtime.Listen {
		router := services.TriggerRouter{Profiles: availability, Friendships: friendRequests}
		listener := jobs.NewChangeListener(cfg.Database.URL, cfg.Realtime.Channel, router, log.Named("listener"))
		go func() {
			if err := listener.Run(ctx); err != nil {
				log.Error("change listener stopped", zap.Error(err))
			}
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.Webhook.RatePerSec, cfg.Webhook.RateBurst)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Cleanup(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := routes.NewRouter(routes.Dependencies{
		Log:               log,
		Profiles:          availability,
		Friendships:       friendRequests,
		Sweep:             sweepJob,
		Scan:              scanJob,
		Gatherer:          registry,
		WebhookSecretHash: cfg.Webhook.SecretHash,
		RateLimiter:       limiter,
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
}
