package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/metrics"
)

// Driver is the Iteration Driver: it calls poll() at a bounded cadence,
// bounds per-iteration time, and escalates repeated failure. Grounded on
// the teacher's queue.Scheduler ticker/stopCh/wg lifecycle and
// worker.Heartbeat's Start/Stop shape. It never calls os.Exit itself — that
// stays in cmd/resolver, matching the teacher's convention of keeping
// internal packages free of direct process-exit calls (see pool.go, which
// only logs and returns errors up to main.go).
type Driver struct {
	resolver *Resolver

	pollingDelay     time.Duration
	maxIterationTime time.Duration
	maxFailures      int

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	iterations          int64
	lastIterationMillis int64
	consecutiveFailures int32
	messagesReceived    int64
	messagesFailed      int64

	// Fatal is invoked once, from the iteration goroutine, when
	// consecutiveFailures reaches maxFailures. cmd/resolver wires this to
	// an os.Exit(1) after a final telemetry.Alert; the Driver itself never
	// terminates the process.
	Fatal func(reason string)
}

// NewDriver builds a Driver over resolver using cfg's iteration settings.
func NewDriver(r *Resolver, cfg *config.ResolverConfig) *Driver {
	return &Driver{
		resolver:         r,
		pollingDelay:     cfg.PollingDelay,
		maxIterationTime: cfg.MaxIterationTime,
		maxFailures:      cfg.MaxFailures,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins iterating. It returns once the iteration goroutine is
// confirmed running; that goroutine starts the first iteration at once
// (the teacher's pattern of Start returning only after its goroutines are
// launched, see worker.Pool.Start).
func (d *Driver) Start(ctx context.Context) {
	d.wg.Add(1)
	running := make(chan struct{})
	go func() {
		close(running)
		d.loop(ctx)
	}()
	<-running
	logger.Info().
		Dur("polling_delay", d.pollingDelay).
		Int("max_failures", d.maxFailures).
		Msg("resolver iteration driver started")
}

// Terminate requests graceful shutdown: the current iteration (if any)
// completes and no further iterations begin.
func (d *Driver) Terminate() {
	close(d.stopCh)
	d.wg.Wait()
	logger.Info().Msg("resolver iteration driver stopped")
}

func (d *Driver) loop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.doneCh)

	ticker := time.NewTicker(d.pollingDelay)
	defer ticker.Stop()

	if d.runIteration(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if d.runIteration(ctx) {
				return // Fatal was invoked; stop iterating
			}
		}
	}
}

// runIteration bounds one poll() call with maxIterationTime, tallies
// failure/success, and returns true if the Driver should stop iterating
// because it just escalated to Fatal.
func (d *Driver) runIteration(ctx context.Context) (fatal bool) {
	iterCtx, cancel := context.WithTimeout(ctx, d.maxIterationTime)
	defer cancel()

	start := time.Now()
	resultCh := make(chan fanOutResult, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- errIterationPanic
			}
		}()
		resultCh <- d.resolver.poll(iterCtx)
	}()

	var (
		result fanOutResult
		failed bool
	)

	select {
	case result = <-resultCh:
		if result.pollErrors > 0 {
			failed = true
		}
	case <-errCh:
		failed = true
	case <-iterCtx.Done():
		failed = true
		logger.Warn().Dur("max_iteration_time", d.maxIterationTime).Msg("resolver iteration exceeded its time bound")
	}

	elapsed := time.Since(start)
	atomic.AddInt64(&d.iterations, 1)
	atomic.StoreInt64(&d.lastIterationMillis, elapsed.Milliseconds())
	atomic.AddInt64(&d.messagesReceived, int64(result.received))
	atomic.AddInt64(&d.messagesFailed, int64(result.failed))
	metrics.RecordIteration(!failed, elapsed.Seconds())

	if failed {
		n := atomic.AddInt32(&d.consecutiveFailures, 1)
		if int(n) >= d.maxFailures {
			reason := "resolver reached max consecutive iteration failures"
			d.resolver.tel.Alert(reason, map[string]interface{}{"consecutive_failures": n})
			if d.Fatal != nil {
				d.Fatal(reason)
			}
			return true
		}
		return false
	}

	atomic.StoreInt32(&d.consecutiveFailures, 0)
	return false
}

// Stats returns a point-in-time snapshot for the observability API.
func (d *Driver) Stats() Stats {
	return Stats{
		Iterations:          atomic.LoadInt64(&d.iterations),
		LastIterationMillis: atomic.LoadInt64(&d.lastIterationMillis),
		ConsecutiveFailures: int(atomic.LoadInt32(&d.consecutiveFailures)),
		MessagesReceived:    atomic.LoadInt64(&d.messagesReceived),
		MessagesFailed:      atomic.LoadInt64(&d.messagesFailed),
	}
}
