//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/claim-resolver/internal/api"
	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/dependency"
	"github.com/maumercado/claim-resolver/internal/events"
	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/resolver"
	"github.com/maumercado/claim-resolver/internal/store"
	"github.com/maumercado/claim-resolver/internal/task"
	"github.com/maumercado/claim-resolver/internal/telemetry"
)

func init() {
	logger.Init("error", false)
}

func testConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{
			Addr:         "localhost:6379",
			DB:           15,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Queue: config.QueueConfig{
			StreamPrefix:      "it_tasks",
			ConsumerGroup:     "it_consumers",
			BlockTimeout:      200 * time.Millisecond,
			ArchiveStreamName: "it_exceptions:archive",
			ArchiveSetName:    "it_exceptions:archive:set",
		},
		Resolver: config.ResolverConfig{
			PollingDelay:     50 * time.Millisecond,
			Parallelism:      2,
			BatchSize:        16,
			MaxFailures:      10,
			MaxIterationTime: time.Minute,
			ClaimSetName:     "it_claims:pending",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// resolverHarness wires a real Redis-backed Resolver plus the claim-expiry
// promotion scheduler, mirroring what cmd/resolver assembles.
type resolverHarness struct {
	client    *redis.Client
	store     store.TaskStore
	advisory  queue.AdvisoryQueue
	scheduler *queue.ClaimExpiryScheduler
	archive   *queue.ExceptionArchive
	res       *resolver.Resolver
}

func newResolverHarness(t *testing.T, ctx context.Context, cfg *config.Config) *resolverHarness {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())

	taskStore := store.NewRedisTaskStore(client, &cfg.Queue)

	advisory, err := queue.NewRedisAdvisoryQueue(ctx, client, &cfg.Resolver)
	require.NoError(t, err)

	pending, err := queue.NewRedisPendingQueue(ctx, client, cfg.Queue.StreamPrefix, cfg.Queue.ConsumerGroup, cfg.Queue.BlockTimeout)
	require.NoError(t, err)

	archive := queue.NewExceptionArchive(client, cfg.Queue.ArchiveStreamName, cfg.Queue.ArchiveSetName)
	publisher := events.NewRedisPubSub(client)
	tracker := dependency.NewRedisTracker(client)
	tel := telemetry.New()

	scheduler := queue.NewClaimExpiryScheduler(client, advisory, cfg.Resolver.ClaimSetName)
	scheduler.Start(ctx)

	res := resolver.New(taskStore, advisory, pending, publisher, tracker, tel, archive, &cfg.Resolver)

	return &resolverHarness{
		client:    client,
		store:     taskStore,
		advisory:  advisory,
		scheduler: scheduler,
		archive:   archive,
		res:       res,
	}
}

func (h *resolverHarness) cleanup(ctx context.Context) {
	h.scheduler.Stop()
	h.client.FlushDB(ctx)
	h.client.Close()
}

// runningIntegrationTask builds a task with one running run at TakenUntil,
// mirroring the resolver package's own runningTask test helper.
func runningIntegrationTask(id string, takenUntil, deadline time.Time, retriesLeft int) *task.Task {
	now := time.Now().UTC()
	return &task.Task{
		ID:          id,
		TaskGroupID: "it-group",
		SchedulerID: "it-scheduler",
		Type:        "integration-task",
		RetriesLeft: retriesLeft,
		Deadline:    deadline,
		TakenUntil:  takenUntil,
		CreatedAt:   now,
		UpdatedAt:   now,
		Runs: []task.Run{{
			State:       task.RunRunning,
			TakenUntil:  takenUntil,
			WorkerGroup: "it-wg",
			WorkerID:    "it-worker",
			Scheduled:   now,
		}},
	}
}

// TestResolverLifecycle_ExpiredClaimIsRequeued exercises S1: a run whose
// TakenUntil has already passed is promoted onto the claim queue, the
// resolver observes it, appends a retry run, and leaves TakenUntil intact.
func TestResolverLifecycle_ExpiredClaimIsRequeued(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	h := newResolverHarness(t, ctx, cfg)
	defer h.cleanup(ctx)

	takenUntil := time.Now().UTC().Add(-time.Minute)
	deadline := time.Now().UTC().Add(time.Hour)

	tk := runningIntegrationTask("it-task-1", takenUntil, deadline, 3)
	require.NoError(t, h.store.Put(ctx, tk))

	require.NoError(t, h.scheduler.ScheduleClaim(ctx, tk.ID, 0, takenUntil))

	driver := h.res.Driver()
	driver.Start(ctx)
	defer driver.Terminate()

	require.Eventually(t, func() bool {
		got, err := h.store.Query(ctx, tk.ID, takenUntil)
		return err == nil && len(got.Runs) == 2
	}, 5*time.Second, 50*time.Millisecond)

	got, err := h.store.Query(ctx, tk.ID, takenUntil)
	require.NoError(t, err)
	assert.True(t, takenUntil.Equal(got.TakenUntil), "TakenUntil must not be cleared")
	assert.Len(t, got.Runs, 2)
}

// TestResolverLifecycle_TerminalExhaustionArchives exercises S2/S5: a run
// with no retries left that expires is archived instead of requeued.
func TestResolverLifecycle_TerminalExhaustionArchives(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	h := newResolverHarness(t, ctx, cfg)
	defer h.cleanup(ctx)

	takenUntil := time.Now().UTC().Add(-time.Minute)
	deadline := time.Now().UTC().Add(time.Hour)

	tk := runningIntegrationTask("it-task-2", takenUntil, deadline, 0)
	require.NoError(t, h.store.Put(ctx, tk))

	require.NoError(t, h.scheduler.ScheduleClaim(ctx, tk.ID, 0, takenUntil))

	driver := h.res.Driver()
	driver.Start(ctx)
	defer driver.Terminate()

	require.Eventually(t, func() bool {
		size, err := h.archive.Size(ctx)
		return err == nil && size >= 1
	}, 5*time.Second, 50*time.Millisecond)

	counts := h.res.Telemetry().Counts()
	assert.GreaterOrEqual(t, counts.TaskException, int64(1))
}

// TestAdminAPI_ResolverStats confirms the observability API reads off a
// live Resolver in the same process, per the api-server entrypoint shape.
func TestAdminAPI_ResolverStats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	h := newResolverHarness(t, ctx, cfg)
	defer h.cleanup(ctx)

	driver := h.res.Driver()
	driver.Start(ctx)
	defer driver.Terminate()

	server := api.NewServer(cfg, h.client, h.res, h.archive)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/admin/resolver/stats", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return false
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		iterations, _ := resp["iterations"].(float64)
		return iterations >= 1
	}, 5*time.Second, 50*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
