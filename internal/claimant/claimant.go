// Package claimant implements the claim simulator: an internal harness
// (never an HTTP endpoint) that claims activated runs, executes them, and
// either completes them or — probabilistically, for realistic testing —
// vanishes without completing or reclaiming, so the resolver has real
// claim-expirations to catch. Adapted from the teacher's internal/worker
// pool+heartbeat+executor trio.
package claimant

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/store"
	"github.com/maumercado/claim-resolver/internal/task"
)

// State mirrors the teacher's worker.State, trimmed to what a claim
// simulator actually uses (no Paused: nothing external ever pauses it).
type State int

const (
	StateIdle State = iota
	StateBusy
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// workerGroup identifies this component to the task store/state machine,
// distinct from the per-process claimant ID used for heartbeats and
// pending-queue consumer identity.
const workerGroup = "claimants"

// Claimant claims activated runs from the pending queue, executes them,
// and resolves or abandons them. Grounded on worker.Pool's
// goroutine-per-slot + concurrencySem shape.
type Claimant struct {
	id        string
	pending   queue.PendingConsumer
	store     store.TaskStore
	scheduler *queue.ClaimExpiryScheduler
	executor  *Executor
	heartbeat *Heartbeat
	cfg       *config.ClaimantConfig

	state          State
	stateMu        sync.RWMutex
	concurrencySem chan struct{}
	wg             sync.WaitGroup
	stopCh         chan struct{}

	claimed   int64
	completed int64
	failed    int64
	vanished  int64
	countMu   sync.Mutex
}

// New builds a Claimant over its adapters. handlers maps task type to the
// RunHandler simulating that type's work; see DefaultHandler for types
// with no registered simulation. hbClient is optional: pass nil (as unit
// tests do) to skip Redis-backed liveness reporting entirely.
func New(s store.TaskStore, pending queue.PendingConsumer, scheduler *queue.ClaimExpiryScheduler, hbClient *redis.Client, cfg *config.ClaimantConfig, handlers map[string]RunHandler) *Claimant {
	id := cfg.ID
	if id == "" {
		id = fmt.Sprintf("claimant-%s", uuid.New().String()[:8])
	}

	c := &Claimant{
		id:             id,
		pending:        pending,
		store:          s,
		scheduler:      scheduler,
		executor:       NewExecutor(handlers, DefaultHandler(cfg.RunDuration)),
		cfg:            cfg,
		state:          StateIdle,
		concurrencySem: make(chan struct{}, cfg.Concurrency),
		stopCh:         make(chan struct{}),
	}
	if hbClient != nil {
		c.heartbeat = NewHeartbeat(hbClient, id, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	}
	return c
}

// Start begins cfg.Concurrency worker goroutines pulling from the pending
// queue.
func (c *Claimant) Start(ctx context.Context) {
	c.stateMu.Lock()
	c.state = StateBusy
	c.stateMu.Unlock()

	if c.heartbeat != nil {
		c.heartbeat.Start(ctx)
	}

	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}

	logger.Info().Str("claimant_id", c.id).Int("concurrency", c.cfg.Concurrency).Msg("claimant started")
}

// Stop requests graceful shutdown and waits for in-flight runs.
func (c *Claimant) Stop(ctx context.Context) {
	c.stateMu.Lock()
	c.state = StateShuttingDown
	c.stateMu.Unlock()

	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownTimeout):
		logger.Warn().Str("claimant_id", c.id).Msg("claimant shutdown timed out")
	case <-ctx.Done():
	}

	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}

	logger.Info().Str("claimant_id", c.id).Msg("claimant stopped")
}

// ID returns the claimant's unique identifier.
func (c *Claimant) ID() string { return c.id }

// State returns the claimant's current operational state.
func (c *Claimant) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Stats is a point-in-time activity snapshot, useful for tests and local
// dev logging.
type Stats struct {
	Claimed   int64
	Completed int64
	Failed    int64
	Vanished  int64
}

// Stats returns a snapshot of run outcomes since the claimant started.
func (c *Claimant) Stats() Stats {
	c.countMu.Lock()
	defer c.countMu.Unlock()
	return Stats{Claimed: c.claimed, Completed: c.completed, Failed: c.failed, Vanished: c.vanished}
}

func (c *Claimant) worker(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		select {
		case c.concurrencySem <- struct{}{}:
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}

		if err := c.processNext(ctx); err != nil {
			logger.Error().Err(err).Str("claimant_id", c.id).Msg("error processing pending run")
		}

		<-c.concurrencySem
	}
}

// processNext dequeues one activated run and claims/executes/resolves it.
// A nil message (nothing available) is not an error: the caller loops and
// tries again.
func (c *Claimant) processNext(ctx context.Context) error {
	msg, err := c.pending.DequeuePending(ctx, c.id)
	if err != nil {
		return fmt.Errorf("failed to dequeue pending run: %w", err)
	}
	if msg == nil {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-c.stopCh:
		case <-ctx.Done():
		}
		return nil
	}

	if err := c.pending.AcknowledgePending(ctx, msg); err != nil {
		logger.Error().Err(err).Str("task_id", msg.TaskID).Int("run_id", msg.RunID).Msg("failed to acknowledge pending message")
	}

	t, takenUntil, claimed, err := c.claimRun(ctx, msg.TaskID, msg.RunID)
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}
	if !claimed {
		// Lost the race (another claimant claimed it first) or the run is
		// no longer pending (stale message); nothing to do.
		return nil
	}

	c.countMu.Lock()
	c.claimed++
	c.countMu.Unlock()

	if c.scheduler != nil {
		if err := c.scheduler.ScheduleClaim(ctx, t.ID, msg.RunID, takenUntil); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Int("run_id", msg.RunID).Msg("failed to schedule claim-expiry advisory")
		}
	}

	log := logger.WithRun(t.ID, msg.RunID)

	if rand.Float64() < c.cfg.VanishProbability {
		log.Warn().Msg("claimant vanishing without resolving run (simulated crash)")
		c.countMu.Lock()
		c.vanished++
		c.countMu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.ClaimDuration)
	execErr := c.executor.Execute(runCtx, t, msg.RunID)
	cancel()

	if execErr != nil {
		c.countMu.Lock()
		c.failed++
		c.countMu.Unlock()
		return c.resolveRun(ctx, t.ID, msg.RunID, takenUntil, false)
	}

	c.countMu.Lock()
	c.completed++
	c.countMu.Unlock()
	return c.resolveRun(ctx, t.ID, msg.RunID, takenUntil, true)
}

// claimRun transitions runID from pending to running under compare-and-
// swap, returning false (not an error) if another claimant already won
// the race or the run is no longer pending.
func (c *Claimant) claimRun(ctx context.Context, taskID string, runID int) (*task.Task, time.Time, bool, error) {
	var (
		takenUntil time.Time
		claimedNow bool
	)

	updated, err := c.store.Modify(ctx, taskID, func(t *task.Task) error {
		r := t.Run(runID)
		if r == nil || r.State != task.RunPending {
			return nil
		}

		sm, err := task.NewStateMachine(t, runID)
		if err != nil {
			return err
		}
		takenUntil = time.Now().UTC().Add(c.cfg.ClaimDuration)
		if err := sm.Start(workerGroup, c.id, takenUntil); err != nil {
			return err
		}
		claimedNow = true
		return nil
	})
	if err != nil {
		return nil, time.Time{}, false, err
	}

	return updated, takenUntil, claimedNow, nil
}

// resolveRun transitions runID to its terminal state (completed or
// failed) and cancels the now-unnecessary claim-expiry advisory, since the
// run resolved itself before its claim could expire.
func (c *Claimant) resolveRun(ctx context.Context, taskID string, runID int, takenUntil time.Time, success bool) error {
	_, err := c.store.Modify(ctx, taskID, func(t *task.Task) error {
		r := t.Run(runID)
		if r == nil || r.State != task.RunRunning {
			return nil
		}
		sm, err := task.NewStateMachine(t, runID)
		if err != nil {
			return err
		}
		if success {
			return sm.Complete()
		}
		return sm.Fail()
	})
	if err != nil {
		return fmt.Errorf("failed to resolve run: %w", err)
	}

	if c.scheduler != nil {
		if err := c.scheduler.CancelClaim(ctx, taskID, runID, takenUntil); err != nil {
			logger.Error().Err(err).Str("task_id", taskID).Int("run_id", runID).Msg("failed to cancel claim-expiry advisory")
		}
	}
	return nil
}
