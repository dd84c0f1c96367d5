// Command resolver runs the claim expiration resolver: the iteration
// driver, poll fan-out, and message handler over one Redis-backed task
// store and claim-expiry queue. Adapted from the teacher's cmd/worker
// entrypoint shape (config load -> construct -> signal-wait -> graceful
// shutdown), with a small Cobra root command in front of it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

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
		Use:   "resolver",
		Short: "Run the claim expiration resolver",
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
	log.Info().Msg("starting resolver")

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
	defer publisher.Close()
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down resolver")
	driver.Terminate()
	log.Info().Msg("resolver stopped")
	return nil
}
