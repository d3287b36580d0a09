package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/checker"
	"github.com/leozw/custom-domains/internal/config"
	"github.com/leozw/custom-domains/internal/metrics"
	"github.com/leozw/custom-domains/internal/provider"
	"github.com/leozw/custom-domains/internal/queue"
	"github.com/leozw/custom-domains/internal/scheduler"
	"github.com/leozw/custom-domains/internal/storage/postgres"
	"github.com/leozw/custom-domains/internal/storage/redis"
	"github.com/leozw/custom-domains/internal/verification"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database connection
	db, err := postgres.NewConnection(cfg.Database.URL, postgres.Options{
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(cfg.Redis.URL)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	cf, err := provider.NewCloudflare(provider.Options{
		APIToken:          cfg.Cloudflare.APIToken,
		ZoneID:            cfg.Cloudflare.ZoneID,
		RequestsPerSecond: cfg.Cloudflare.RequestsPerSecond,
		Burst:             cfg.Cloudflare.Burst,
	}, logger.Named("cloudflare"))
	if err != nil {
		logger.Fatal("Failed to create Cloudflare client", zap.Error(err))
	}

	txt := checker.NewTXTChecker(cfg.Verification.Nameservers, cfg.Verification.DNSTimeout, logger.Named("dns"))

	verifierOpts := []verification.VerifierOption{}
	if cfg.Redis.ResolveCacheTTL > 0 {
		verifierOpts = append(verifierOpts, verification.WithInvalidator(redis.NewResolutionCache(rdb, cfg.Redis.ResolveCacheTTL)))
	}
	verifier := verification.NewVerifier(db, txt, cf, collector, verification.Budget{
		MaxAttempts: cfg.Verification.MaxAttempts,
		Window:      cfg.Verification.Window,
		Interval:    cfg.Verification.Interval,
	}, logger.Named("verifier"), verifierOpts...)

	jobQueue := queue.NewRedisQueue(rdb.Client, cfg.Redis.QueueName)
	sched := scheduler.NewScheduler(db, verifier, jobQueue, collector, logger.Named("scheduler"), cfg.Verification)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()

	// Start metrics exporter
	remote := metrics.NewRemoteWriter(cfg.Mimir, reg, "custom-domains-worker", logger.Named("remote_write"))
	if remote.Enabled() {
		go remote.Start(ctx)
	}

	logger.Info("Worker started",
		zap.Duration("interval", cfg.Verification.Interval),
		zap.Int("workers", cfg.Verification.WorkerCount),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done

	if remote.Enabled() {
		if err := remote.Flush(context.Background()); err != nil {
			logger.Warn("Final metrics flush failed", zap.Error(err))
		}
	}
	logger.Info("Worker exited")
}
