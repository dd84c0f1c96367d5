package claimant

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/maumercado/claim-resolver/internal/logger"
	"github.com/maumercado/claim-resolver/internal/task"
)

// RunHandler simulates the work a real worker would do for one run. It
// returns an error to make the claimant fail the run instead of completing
// it; the default handler (see DefaultHandler) just sleeps for a
// configured duration and succeeds.
type RunHandler func(ctx context.Context, t *task.Task, runID int) error

// Executor dispatches to a RunHandler by task type, adapted from the
// teacher's worker.Executor: same panic-recovery-into-error shape, same
// handler-not-found/timeout/canceled error mapping.
type Executor struct {
	handlers map[string]RunHandler
	fallback RunHandler
}

// NewExecutor builds an Executor. fallback runs for any task type with no
// registered handler, so the claimant never stalls on an unrecognized type
// during local dev or integration tests.
func NewExecutor(handlers map[string]RunHandler, fallback RunHandler) *Executor {
	if handlers == nil {
		handlers = make(map[string]RunHandler)
	}
	if fallback == nil {
		fallback = DefaultHandler(0)
	}
	return &Executor{handlers: handlers, fallback: fallback}
}

// RegisterHandler registers a handler for a task type.
func (e *Executor) RegisterHandler(taskType string, handler RunHandler) {
	e.handlers[taskType] = handler
}

// Execute runs the handler registered for t.Type (or the fallback),
// recovering panics into an error the caller treats like any other
// handler failure.
func (e *Executor) Execute(ctx context.Context, t *task.Task, runID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error().
				Str("task_id", t.ID).
				Int("run_id", runID).
				Str("type", t.Type).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("run handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	handler, ok := e.handlers[t.Type]
	if !ok {
		handler = e.fallback
	}

	log := logger.WithRun(t.ID, runID)
	start := time.Now()
	err = handler(ctx, t, runID)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("duration", duration).Msg("run timed out")
			return ErrRunTimeout
		}
		if errors.Is(err, context.Canceled) {
			log.Warn().Dur("duration", duration).Msg("run canceled")
			return ErrRunCanceled
		}
		log.Error().Err(err).Dur("duration", duration).Msg("run failed")
		return err
	}

	log.Debug().Dur("duration", duration).Msg("run executed successfully")
	return nil
}

// DefaultHandler returns a RunHandler that sleeps for d (or returns
// immediately if d is zero) and always succeeds, standing in for a real
// workload in local dev and integration tests.
func DefaultHandler(d time.Duration) RunHandler {
	return func(ctx context.Context, _ *task.Task, _ int) error {
		if d <= 0 {
			return nil
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var (
	ErrRunTimeout  = errors.New("claimant: run execution timed out")
	ErrRunCanceled = errors.New("claimant: run execution canceled")
)
