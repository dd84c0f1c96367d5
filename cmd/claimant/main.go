// Command claimant runs the claim simulator: an internal test/dev harness
// that claims activated runs, executes a handler, and either completes
// them or probabilistically vanishes, giving the resolver real
// claim-expirations to catch. Adapted from the teacher's cmd/worker
// entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maumercado/claim-resolver/internal/claimant"
	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/redisconn"
	"github.com/maumercado/claim-resolver/internal/store"
	"github.com/maumercado/claim-resolver/internal/task"
)

func main() {
	root := &cobra.Command{
		Use:   "claimant",
		Short: "Run the claim simulator",
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
	log.Info().Msg("starting claimant")

	client, err := redisconn.New(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskStore := store.NewRedisTaskStore(client, &cfg.Queue)

	pending, err := queue.NewRedisPendingQueue(ctx, client, cfg.Queue.StreamPrefix, cfg.Queue.ConsumerGroup, cfg.Queue.BlockTimeout)
	if err != nil {
		return fmt.Errorf("failed to build pending queue: %w", err)
	}

	advisory, err := queue.NewRedisAdvisoryQueue(ctx, client, &cfg.Resolver)
	if err != nil {
		return fmt.Errorf("failed to build advisory queue: %w", err)
	}
	scheduler := queue.NewClaimExpiryScheduler(client, advisory, cfg.Resolver.ClaimSetName)

	handlers := map[string]claimant.RunHandler{
		"echo":    echoHandler,
		"sleep":   claimant.DefaultHandler(cfg.Claimant.RunDuration),
		"compute": computeHandler,
		"fail":    failHandler,
	}

	c := claimant.New(taskStore, pending, scheduler, client, &cfg.Claimant, handlers)
	c.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down claimant")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Claimant.ShutdownTimeout)
	defer shutdownCancel()
	c.Stop(shutdownCtx)

	log.Info().Msg("claimant stopped")
	return nil
}

func echoHandler(ctx context.Context, t *task.Task, runID int) error {
	logger.WithRun(t.ID, runID).Info().Interface("payload", t.Payload).Msg("echo handler processing run")
	return nil
}

func computeHandler(ctx context.Context, t *task.Task, runID int) error {
	iterations := 1000000
	if i, ok := t.Payload["iterations"].(float64); ok {
		iterations = int(i)
	}

	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			sum += i
		}
	}
	return nil
}

func failHandler(ctx context.Context, t *task.Task, runID int) error {
	logger.WithRun(t.ID, runID).Info().Msg("fail handler processing run")
	return fmt.Errorf("intentional failure for testing")
}
