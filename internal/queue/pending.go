package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/task"
)

// PendingQueue activates a retry run for pickup by claimants. It is not a
// task-submission API: it only ever enqueues runId+1 of a task that
// already exists, the retry-run activation path of the message handler's
// Step 3.
type PendingQueue interface {
	PutPendingMessage(ctx context.Context, t *task.Task, runID int) error
}

// PendingMessage is one activated run reference read off the pending queue
// by a claimant.
type PendingMessage struct {
	TaskID    string
	RunID     int
	messageID string
	priority  task.Priority
}

// PendingConsumer is implemented by pending-queue backends the claimant can
// read from. Kept separate from PendingQueue since the Message Handler only
// ever needs the write side.
type PendingConsumer interface {
	DequeuePending(ctx context.Context, consumerID string) (*PendingMessage, error)
	AcknowledgePending(ctx context.Context, msg *PendingMessage) error
}

// RedisPendingQueue wraps the teacher's priority-stream Enqueue/Dequeue
// mechanics, publishing and reading a lightweight {task_id, run_id}
// reference rather than the teacher's {task_id, type} reference (no handler
// dispatch happens here; the claimant reads the run, not the stream
// message, for its payload).
type RedisPendingQueue struct {
	client        *redis.Client
	streamPrefix  string
	consumerGroup string
	blockTimeout  time.Duration
}

var pendingPriorities = []task.Priority{
	task.PriorityCritical,
	task.PriorityHigh,
	task.PriorityNormal,
	task.PriorityLow,
}

// NewRedisPendingQueue builds a pending queue over client, using
// streamPrefix the same way the teacher's priority streams do, creating
// each priority stream's consumer group up front (mirrors
// RedisQueue.initStreams).
func NewRedisPendingQueue(ctx context.Context, client *redis.Client, streamPrefix, consumerGroup string, blockTimeout time.Duration) (*RedisPendingQueue, error) {
	q := &RedisPendingQueue{
		client:        client,
		streamPrefix:  streamPrefix,
		consumerGroup: consumerGroup,
		blockTimeout:  blockTimeout,
	}

	for _, p := range pendingPriorities {
		streamName := p.StreamName(streamPrefix)
		err := client.XGroupCreateMkStream(ctx, streamName, consumerGroup, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return nil, fmt.Errorf("failed to create consumer group for %s: %w", streamName, err)
		}
	}

	return q, nil
}

func (q *RedisPendingQueue) PutPendingMessage(ctx context.Context, t *task.Task, runID int) error {
	streamName := t.Priority.StreamName(q.streamPrefix)
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{
			"task_id": t.ID,
			"run_id":  fmt.Sprintf("%d", runID),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue pending message: %w", err)
	}
	return nil
}

// DequeuePending reads the next activated run, checking priority streams
// from highest to lowest and blocking up to blockTimeout on each stream in
// turn, so one call can wait up to four blockTimeouts. Returns nil, nil
// when no stream yielded a message, grounded on RedisQueue.DequeueBlocking's
// per-priority XReadGroup loop.
func (q *RedisPendingQueue) DequeuePending(ctx context.Context, consumerID string) (*PendingMessage, error) {
	for _, p := range pendingPriorities {
		streamName := p.StreamName(q.streamPrefix)

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.consumerGroup,
			Consumer: consumerID,
			Streams:  []string{streamName, ">"},
			Count:    1,
			Block:    q.blockTimeout,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read pending stream %s: %w", streamName, err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		msg := streams[0].Messages[0]
		pm, ok := parsePendingMessage(msg, p)
		if !ok {
			q.client.XAck(ctx, streamName, q.consumerGroup, msg.ID)
			continue
		}
		return pm, nil
	}
	return nil, nil
}

// AcknowledgePending acknowledges msg against the priority stream it was
// read from.
func (q *RedisPendingQueue) AcknowledgePending(ctx context.Context, msg *PendingMessage) error {
	streamName := msg.priority.StreamName(q.streamPrefix)
	return q.client.XAck(ctx, streamName, q.consumerGroup, msg.messageID).Err()
}

func parsePendingMessage(msg redis.XMessage, priority task.Priority) (*PendingMessage, bool) {
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		return nil, false
	}
	runIDStr, ok := msg.Values["run_id"].(string)
	if !ok {
		return nil, false
	}
	var runID int
	if _, err := fmt.Sscanf(runIDStr, "%d", &runID); err != nil {
		return nil, false
	}
	return &PendingMessage{TaskID: taskID, RunID: runID, messageID: msg.ID, priority: priority}, true
}
