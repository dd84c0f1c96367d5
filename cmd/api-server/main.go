// Command api-server exposes the observability API: /admin/health,
// /admin/resolver/stats, /admin/exceptions, /admin/claimants, and /metrics
// over a resolver run in this same
// process (Resolver stats live in memory, so the API server that reports
// them must be the one driving the iterations). Adapted from the
// teacher's cmd/api-server entrypoint, trimmed with the HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maumercado/claim-resolver/internal/api"
	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/dependency"
	"github.com/maumercado/claim-resolver/internal/events"
	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/redisconn"
	"github.com/maumercado/claim-resolver/internal/resolver"
	"github.com/maumercado/claim-resolver/internal/store"
	"github.com/maumercado/claim-resolver/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "api-server",
		Short: "Run the resolver observability API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting api server")

	client, err := redisconn.New(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskStore := store.NewRedisTaskStore(client, &cfg.Queue)

	advisory, err := queue.NewRedisAdvisoryQueue(ctx, client, &cfg.Resolver)
	if err != nil {
		return fmt.Errorf("failed to build advisory queue: %w", err)
	}

	pending, err := queue.NewRedisPendingQueue(ctx, client, cfg.Queue.StreamPrefix, cfg.Queue.ConsumerGroup, cfg.Queue.BlockTimeout)
	if err != nil {
		return fmt.Errorf("failed to build pending queue: %w", err)
	}

	archive := queue.NewExceptionArchive(client, cfg.Queue.ArchiveStreamName, cfg.Queue.ArchiveSetName)

	publisher := events.NewRedisPubSub(client)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	tracker := dependency.NewRedisTracker(client)
	tel := telemetry.New()

	scheduler := queue.NewClaimExpiryScheduler(client, advisory, cfg.Resolver.ClaimSetName)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	res := resolver.New(taskStore, advisory, pending, publisher, tracker, tel, archive, &cfg.Resolver)
	driver := res.Driver()
	driver.Fatal = func(reason string) {
		log.Error().Str("reason", reason).Msg("resolver escalated to fatal; exiting")
		os.Exit(1)
	}
	driver.Start(ctx)
	defer driver.Terminate()

	server := api.NewServer(cfg, client, res, archive)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down api server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("api server stopped")
	return nil
}
