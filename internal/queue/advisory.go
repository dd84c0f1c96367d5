// Package queue provides the Redis-backed advisory queue (claim-expiry
// notifications with visibility delay), the pending queue (retry-run
// activation), and the exception archive (terminal-resolution record),
// adapted from the teacher's Redis Streams priority queue.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/config"
)

// acker acknowledges a delivered message by ID. RedisAdvisoryQueue and
// MemoryAdvisoryQueue each implement it so AdvisoryMessage.Remove stays
// backend-agnostic.
type acker interface {
	ack(ctx context.Context, messageID string) error
}

// AdvisoryMessage is one claim-expiry notification: the potential
// expiration event for (TaskID, RunID, TakenUntil), plus an idempotent
// Remove to acknowledge it.
type AdvisoryMessage struct {
	TaskID     string
	RunID      int
	TakenUntil time.Time

	messageID string
	acker     acker
}

// Remove acknowledges the message. Idempotent: acking an already-acked
// message ID is a harmless no-op in Redis Streams.
func (m *AdvisoryMessage) Remove(ctx context.Context) error {
	return m.acker.ack(ctx, m.messageID)
}

// AdvisoryQueue is the claim-expiry queue the poll fan-out reads from.
type AdvisoryQueue interface {
	// PollClaimQueue returns up to batchSize advisory messages that have
	// become visible (i.e. whose TakenUntil has passed).
	PollClaimQueue(ctx context.Context, consumerID string, batchSize int64) ([]*AdvisoryMessage, error)
}

// RedisAdvisoryQueue implements AdvisoryQueue over a consumer-group stream,
// grounded on the teacher's XReadGroup/XAck usage in redis_streams.go.
type RedisAdvisoryQueue struct {
	client        *redis.Client
	streamName    string
	consumerGroup string
	blockTimeout  time.Duration
}

// NewRedisAdvisoryQueue creates the claim-expiry stream and its consumer
// group if they don't already exist.
func NewRedisAdvisoryQueue(ctx context.Context, client *redis.Client, cfg *config.ResolverConfig) (*RedisAdvisoryQueue, error) {
	q := &RedisAdvisoryQueue{
		client:        client,
		streamName:    cfg.ClaimStreamName,
		consumerGroup: cfg.ConsumerGroup,
		blockTimeout:  -1,
	}

	err := client.XGroupCreateMkStream(ctx, q.streamName, q.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, fmt.Errorf("failed to create consumer group for %s: %w", q.streamName, err)
	}

	return q, nil
}

// PollClaimQueue reads up to batchSize new messages for consumerID,
// non-blocking: an empty slice with a nil error means there was nothing
// to do this round.
func (q *RedisAdvisoryQueue) PollClaimQueue(ctx context.Context, consumerID string, batchSize int64) ([]*AdvisoryMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.consumerGroup,
		Consumer: consumerID,
		Streams:  []string{q.streamName, ">"},
		Count:    batchSize,
		Block:    q.blockTimeout,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read claim-expiry stream: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	messages := make([]*AdvisoryMessage, 0, len(streams[0].Messages))
	for _, msg := range streams[0].Messages {
		am, ok := q.parseMessage(msg)
		if !ok {
			// Malformed entry: acknowledge so it never blocks the group.
			q.client.XAck(ctx, q.streamName, q.consumerGroup, msg.ID)
			continue
		}
		messages = append(messages, am)
	}

	return messages, nil
}

func (q *RedisAdvisoryQueue) ack(ctx context.Context, messageID string) error {
	return q.client.XAck(ctx, q.streamName, q.consumerGroup, messageID).Err()
}

func (q *RedisAdvisoryQueue) parseMessage(msg redis.XMessage) (*AdvisoryMessage, bool) {
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		return nil, false
	}
	runIDStr, ok := msg.Values["run_id"].(string)
	if !ok {
		return nil, false
	}
	takenUntilStr, ok := msg.Values["taken_until"].(string)
	if !ok {
		return nil, false
	}

	var runID int
	if _, err := fmt.Sscanf(runIDStr, "%d", &runID); err != nil {
		return nil, false
	}

	takenUntilUnixNano, err := parseUnixNano(takenUntilStr)
	if err != nil {
		return nil, false
	}

	return &AdvisoryMessage{
		TaskID:     taskID,
		RunID:      runID,
		TakenUntil: time.Unix(0, takenUntilUnixNano).UTC(),
		messageID:  msg.ID,
		acker:      q,
	}, true
}

func parseUnixNano(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// EnqueueClaimExpiry publishes a claim-expiry advisory message directly to
// the stream, bypassing the delay set; used when the caller already knows
// the message is due (e.g. the claim-expiry scheduler's promotion loop).
func (q *RedisAdvisoryQueue) EnqueueClaimExpiry(ctx context.Context, taskID string, runID int, takenUntil time.Time) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamName,
		Values: map[string]interface{}{
			"task_id":     taskID,
			"run_id":      fmt.Sprintf("%d", runID),
			"taken_until": fmt.Sprintf("%d", takenUntil.UnixNano()),
		},
	}).Result()
	return err
}
