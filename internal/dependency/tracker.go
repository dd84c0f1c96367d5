// Package dependency notifies downstream schedulers that a task has
// resolved, so tasks blocked on it can be unblocked. Scheduling those
// downstream tasks is out of scope here (spec.md §1's non-goals); this
// package only emits the one-way notification.
package dependency

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/logger"
)

const resolvedChannel = "taskqueue:dependency:resolved"

// Resolution is the terminal outcome a task reached.
type Resolution string

const (
	ResolutionCompleted Resolution = "completed"
	ResolutionFailed    Resolution = "failed"
	ResolutionException Resolution = "exception"
)

// ResolvedEvent is published whenever a task reaches a terminal resolution.
type ResolvedEvent struct {
	TaskID      string     `json:"task_id"`
	TaskGroupID string     `json:"task_group_id"`
	SchedulerID string     `json:"scheduler_id"`
	Resolution  Resolution `json:"resolution"`
}

// Tracker is the adapter the message handler notifies on the terminal path.
type Tracker interface {
	ResolveTask(ctx context.Context, taskID, taskGroupID, schedulerID string, resolution Resolution) error
}

// RedisTracker publishes resolution events over the same Redis pub/sub
// instance the rest of the adapter layer uses, following the teacher's
// events.RedisPubSub fan-out shape (this package has no teacher analogue of
// its own — it is modeled on the one mechanism the teacher already had for
// one-way notification).
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker returns a Tracker backed by client.
func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func (t *RedisTracker) ResolveTask(ctx context.Context, taskID, taskGroupID, schedulerID string, resolution Resolution) error {
	evt := ResolvedEvent{
		TaskID:      taskID,
		TaskGroupID: taskGroupID,
		SchedulerID: schedulerID,
		Resolution:  resolution,
	}

	payload, err := marshalEvent(evt)
	if err != nil {
		return fmt.Errorf("marshal resolved event: %w", err)
	}

	if err := t.client.Publish(ctx, resolvedChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish resolved event: %w", err)
	}

	logger.Debug().
		Str("task_id", taskID).
		Str("task_group_id", taskGroupID).
		Str("resolution", string(resolution)).
		Msg("dependency.resolveTask")

	return nil
}
