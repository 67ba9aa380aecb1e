package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/aaron/tierhub/internal/acquisition"
	"github.com/aaron/tierhub/internal/config"
	"github.com/aaron/tierhub/internal/freshness"
	"github.com/aaron/tierhub/internal/handlers"
	"github.com/aaron/tierhub/internal/logging"
	"github.com/aaron/tierhub/internal/metrics"
	"github.com/aaron/tierhub/internal/middleware"
	"github.com/aaron/tierhub/internal/rankings"
	"github.com/aaron/tierhub/internal/telemetry"
	"github.com/aaron/tierhub/internal/tiers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log, err := logging.New(level, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.TracingEndpoint())
	if err != nil {
		log.WithError(err).Fatal("tracing setup failed")
	}

	clock := clockwork.NewRealClock()
	cache, err := freshness.New(clock, cfg.Policies())
	if err != nil {
		log.WithError(err).Fatal("cache setup failed")
	}
	classifier, err := tiers.NewClassifier(tiers.Options{
		MaxSize: cfg.TierMemoSize,
		TTL:     cfg.TierMemoTTL,
		Clock:   clock,
	})
	if err != nil {
		log.WithError(err).Fatal("classifier setup failed")
	}

	if cfg.RankingsAPIKey == "" {
		log.Warn("TIERHUB_RANKINGS_API_KEY not set, upstream calls will likely fail and queries will serve sample data")
	}
	client := rankings.NewClient(rankings.Options{
		BaseURL:    cfg.RankingsURL,
		APIKey:     cfg.RankingsAPIKey,
		Timeout:    cfg.RankingsTimeout,
		PageSize:   cfg.RankingsPageSize,
		MaxRetries: cfg.RankingsMaxRetries,
		MinBackoff: cfg.RankingsMinBackoff,
		Clock:      clock,
		Logger:     log,
	})

	warmKeys, _ := cfg.ParsedWarmKeys()
	orch := acquisition.New(cache, client, acquisition.Options{
		FetchTimeout:       cfg.FetchTimeout,
		FailureCooldown:    cfg.FailureCooldown,
		RefreshIntervals:   cfg.RefreshIntervals(),
		WarmKeys:           warmKeys,
		RefreshConcurrency: cfg.RefreshConcurrency,
		Clock:              clock,
		Logger:             log,
	})

	go metrics.Run(ctx, clock)
	go orch.Warm(ctx)
	if cfg.AutoRefresh {
		orch.StartAutoRefresh(ctx)
	}

	limiter := middleware.NewLimiter(middleware.LimiterOptions{
		Requests:       cfg.InboundRateLimit,
		Per:            cfg.InboundRateLimitPer,
		RetryAfterSec:  cfg.InboundRetryAfterSec,
		MaxStale:       cfg.InboundBucketMaxStale,
		EvictThreshold: cfg.InboundBucketEvictThreshold,
		Clock:          clock,
	})
	h := handlers.New(orch, classifier, cfg.DefaultTierCount, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.NewRouter(h, limiter, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("http shutdown")
		}
	}()

	log.WithField("addr", cfg.Addr).Info("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}
	<-drained

	orch.Stop()
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
	log.Info("server shutdown")
}
