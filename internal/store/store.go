// Package store provides the conditional-load / compare-and-swap task
// storage contract the resolver reads and mutates through. It never hands
// out a live pointer into storage: every Query and every modifier callback
// sees its own snapshot, so a modifier can be retried safely under
// optimistic concurrency.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/maumercado/claim-resolver/internal/task"
)

// ErrNoMatch is returned by Query when no task matches both the key and
// the takenUntil predicate. This is the benign-miss outcome of spec step 1.
var ErrNoMatch = errors.New("store: no task matches key and predicate")

// ErrConflict names a lost compare-and-swap race. Neither store returns it:
// both retry a lost race inside Modify.
var ErrConflict = errors.New("store: version conflict")

// Modifier mutates a task snapshot in place. It must be a pure function of
// the snapshot handed to it: the store may call it more than once if a
// concurrent writer wins the race.
type Modifier func(t *task.Task) error

// TaskStore is the adapter the resolver's message handler uses to load and
// mutate task records.
type TaskStore interface {
	// Query loads the task at taskID only if its current TakenUntil equals
	// takenUntil exactly. Returns ErrNoMatch otherwise (including when the
	// task does not exist).
	Query(ctx context.Context, taskID string, takenUntil time.Time) (*task.Task, error)

	// Modify applies modifier to the task at taskID under compare-and-swap,
	// retrying when a concurrent writer wins the race, up to maxCASAttempts
	// attempts. The snapshot is written back with its Version bumped even
	// when the modifier changed nothing. Returns the post-modification
	// snapshot.
	Modify(ctx context.Context, taskID string, modifier Modifier) (*task.Task, error)

	// Put inserts or overwrites a task record unconditionally. Used by
	// callers seeding tasks (the claimant, test setup) rather than by the
	// resolver's own guarded-mutation path.
	Put(ctx context.Context, t *task.Task) error
}

// maxCASAttempts bounds the modify retry loop so a pathologically hot key
// cannot spin a handler goroutine forever.
const maxCASAttempts = 10
