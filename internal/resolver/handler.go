// Package resolver implements the claim-expiration resolver: the iteration
// driver, its poll fan-out, and the message handler that performs the
// guarded run transition and its post-mutation notifications.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/maumercado/claim-resolver/internal/dependency"
	"github.com/maumercado/claim-resolver/internal/events"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/store"
	"github.com/maumercado/claim-resolver/internal/task"
	"github.com/maumercado/claim-resolver/internal/telemetry"
)

// Handler is the core claim-expiration algorithm: conditional load, guarded
// compare-and-swap mutation, and ownership-gated notification fan-out.
// Grounded on the teacher's worker.Pool.processNextTask/handleTaskFailure
// shape, generalized from "one task, one terminal state" to "one run
// inside a task's run history".
type Handler struct {
	store      store.TaskStore
	pending    queue.PendingQueue
	publisher  events.Publisher
	dependency dependency.Tracker
	telemetry  telemetry.Telemetry
	archive    queue.ExceptionArchiver
}

// NewHandler wires a Handler from its collaborators. archive may be nil,
// in which case the terminal path skips archival (e.g. a resolver running
// without the observability API's audit trail configured).
func NewHandler(s store.TaskStore, p queue.PendingQueue, pub events.Publisher, dep dependency.Tracker, tel telemetry.Telemetry, archive queue.ExceptionArchiver) *Handler {
	return &Handler{store: s, pending: p, publisher: pub, dependency: dep, telemetry: tel, archive: archive}
}

// mutationOutcome is the side-channel the Step 2 modifier records for Step 3
// to inspect, since store.Modifier's signature only returns an error and the
// modifier may run more than once under CAS retry.
type mutationOutcome struct {
	transitioned bool
	runNotLatest bool
}

// Handle processes one advisory message: spec.md §4.C, steps 1-4.
func (h *Handler) Handle(ctx context.Context, msg *queue.AdvisoryMessage) error {
	// Step 1 — conditional load.
	loaded, err := h.store.Query(ctx, msg.TaskID, msg.TakenUntil)
	if errors.Is(err, store.ErrNoMatch) {
		return msg.Remove(ctx)
	}
	if err != nil {
		return err
	}

	if !loaded.TakenUntil.Equal(msg.TakenUntil) {
		h.telemetry.ReportError(
			NewDataIntegrityError("taken-until-mismatch", "conditional load predicate was not honored"),
			telemetry.SeverityError,
			map[string]interface{}{
				"kind":          "taken-until-mismatch",
				"task_id":       msg.TaskID,
				"message_taken": msg.TakenUntil,
				"loaded_taken":  loaded.TakenUntil,
			},
		)
		return msg.Remove(ctx)
	}

	// Step 2 — guarded mutation.
	outcome := &mutationOutcome{}
	modifier := h.modifier(msg, outcome)

	updated, err := h.store.Modify(ctx, msg.TaskID, modifier)
	if err != nil {
		return err
	}

	if outcome.runNotLatest {
		h.telemetry.ReportError(
			NewDataIntegrityError("run-not-latest", "resolved run was not task.runs[length-1] at transition time"),
			telemetry.SeverityWarning,
			map[string]interface{}{"kind": "run-not-latest", "task_id": msg.TaskID, "run_id": msg.RunID},
		)
		return msg.Remove(ctx)
	}

	// Step 3 — post-mutation fan-out, gated on ownership of the transition.
	run := updated.Run(msg.RunID)
	owns := outcome.transitioned &&
		run != nil &&
		run.State == task.RunException &&
		run.ReasonResolved == task.ReasonClaimExpired

	if !owns {
		return msg.Remove(ctx)
	}

	if updated.LastRunID()-1 > msg.RunID {
		// Open question resolution: more than the one optional retry run
		// appeared beyond the resolved run. A second actor must have
		// mutated this task's run history concurrently with us.
		h.telemetry.ReportError(
			NewDataIntegrityError("unexpected-run-growth", "more runs appended than this transition's optional retry accounts for"),
			telemetry.SeverityWarning,
			map[string]interface{}{"kind": "unexpected-run-growth", "task_id": msg.TaskID, "run_id": msg.RunID},
		)
		return msg.Remove(ctx)
	}

	newRunID := msg.RunID + 1
	newRun := updated.Run(newRunID)

	isRetry := newRun != nil &&
		newRunID == updated.LastRunID() &&
		newRun.State == task.RunPending &&
		newRun.ReasonCreated == task.ReasonRetry

	if isRetry {
		if err := h.pending.PutPendingMessage(ctx, updated, newRunID); err != nil {
			return err
		}
		if err := h.publisher.TaskPending(ctx, updated.ID, events.TaskPendingPayload{
			Status: task.RunPending.String(),
			RunID:  newRunID,
		}, updated.Routes); err != nil {
			return err
		}
		h.telemetry.TaskPending(updated.ID, newRunID)
	} else {
		if err := h.dependency.ResolveTask(ctx, updated.ID, updated.TaskGroupID, updated.SchedulerID, dependency.ResolutionException); err != nil {
			return err
		}
		if err := h.publisher.TaskException(ctx, updated.ID, events.TaskExceptionPayload{
			Status:      task.RunException.String(),
			RunID:       msg.RunID,
			WorkerGroup: run.WorkerGroup,
			WorkerID:    run.WorkerID,
		}, updated.Routes); err != nil {
			return err
		}
		h.telemetry.TaskException(updated.ID, msg.RunID)
		if h.archive != nil {
			if err := h.archive.Add(ctx, updated, msg.RunID, "claim-expired, no retries left"); err != nil {
				return err
			}
		}
	}

	return msg.Remove(ctx)
}

// modifier implements spec.md §4.C step 2's compare-and-swap body.
func (h *Handler) modifier(msg *queue.AdvisoryMessage, outcome *mutationOutcome) store.Modifier {
	return func(t *task.Task) error {
		outcome.transitioned = false
		outcome.runNotLatest = false

		run := t.Run(msg.RunID)
		if run == nil {
			return nil // the claim never actually created the run
		}

		if run.State != task.RunRunning || !run.TakenUntil.Equal(msg.TakenUntil) {
			return nil // a concurrent reclaim or resolution won the race
		}

		if !t.Deadline.After(time.Now().UTC()) {
			return nil // the deadline path is authoritative; suppress claim-expired
		}

		sm, err := task.NewStateMachine(t, msg.RunID)
		if err != nil {
			return err
		}
		if err := sm.ExpireClaim(); err != nil {
			return err
		}
		outcome.transitioned = true

		if msg.RunID != t.LastRunID() {
			outcome.runNotLatest = true
			return nil // make no further changes; the outer handler reports this
		}

		if t.RetriesLeft > 0 {
			t.AppendRetryRun()
		}

		return nil
	}
}
