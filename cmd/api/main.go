package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/api"
	"github.com/leozw/custom-domains/internal/config"
	"github.com/leozw/custom-domains/internal/metrics"
	"github.com/leozw/custom-domains/internal/provider"
	"github.com/leozw/custom-domains/internal/queue"
	"github.com/leozw/custom-domains/internal/resolver"
	"github.com/leozw/custom-domains/internal/storage/postgres"
	"github.com/leozw/custom-domains/internal/storage/redis"
	"github.com/leozw/custom-domains/internal/verification"
	"github.com/leozw/custom-domains/pkg/jwks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database
	db, err := postgres.NewConnection(cfg.Database.URL, postgres.Options{
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Redis
	rdb := redis.NewClient(cfg.Redis.URL)
	defer rdb.Close()

	jobQueue := queue.NewRedisQueue(rdb.Client, cfg.Redis.QueueName)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Edge provider
	cf, err := provider.NewCloudflare(provider.Options{
		APIToken:          cfg.Cloudflare.APIToken,
		ZoneID:            cfg.Cloudflare.ZoneID,
		RequestsPerSecond: cfg.Cloudflare.RequestsPerSecond,
		Burst:             cfg.Cloudflare.Burst,
	}, logger.Named("cloudflare"))
	if err != nil {
		logger.Fatal("Failed to create Cloudflare client", zap.Error(err))
	}

	var resolveCache resolver.Cache
	registrarOpts := []verification.RegistrarOption{verification.WithQueue(jobQueue)}
	if cfg.Redis.ResolveCacheTTL > 0 {
		rc := redis.NewResolutionCache(rdb, cfg.Redis.ResolveCacheTTL)
		resolveCache = rc
		registrarOpts = append(registrarOpts, verification.WithResolveCache(rc))
	}

	registrar := verification.NewRegistrar(db, cf, cfg.Domains.Brand, logger.Named("registrar"), registrarOpts...)
	resolveService := resolver.NewService(db, resolveCache, collector, logger.Named("resolver"))

	deps := api.Deps{
		DB:       db,
		Lookup:   db,
		Resolver: resolveService,
		Domains:  registrar,
		Jobs:     jobQueue,
		Gatherer: reg,
		Logger:   logger,
	}
	if cfg.Auth.JWKSURL != "" {
		deps.Keys = jwks.New(cfg.Auth.JWKSURL, time.Hour, logger.Named("jwks"))
	}
	if cfg.Auth.JWTSecret == "" && deps.Keys == nil {
		logger.Fatal("JWT_SECRET or JWKS_URL is required")
	}

	server := api.NewServer(cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := metrics.NewRemoteWriter(cfg.Mimir, reg, "custom-domains-api", logger.Named("remote_write"))
	if remote.Enabled() {
		go remote.Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
