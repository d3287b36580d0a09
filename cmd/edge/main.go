package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/config"
	"github.com/leozw/custom-domains/internal/edge"
	"github.com/leozw/custom-domains/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.Edge.TargetDomain == "" || cfg.Edge.BackendAPIURL == "" {
		logger.Fatal("TARGET_DOMAIN and BACKEND_API_URL are required")
	}

	gin.SetMode(cfg.Server.Mode)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	client := edge.NewResolverClient(cfg.Edge.BackendAPIURL, cfg.Edge.ResolverTimeout)
	router := edge.NewRouter(cfg.Edge, client, collector, logger.Named("edge"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every path belongs to custom hostnames, so metrics are pushed only.
	remote := metrics.NewRemoteWriter(cfg.Mimir, reg, "custom-domains-edge", logger.Named("remote_write"))
	if remote.Enabled() {
		go remote.Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Edge.Port,
		Handler:           router.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start edge server", zap.Error(err))
		}
	}()

	logger.Info("Edge router started",
		zap.String("port", cfg.Edge.Port),
		zap.String("target_domain", cfg.Edge.TargetDomain),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down edge router...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Edge router forced to shutdown", zap.Error(err))
	}

	logger.Info("Edge router exited")
}
