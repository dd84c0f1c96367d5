package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/task"
)

// RedisTaskStore stores one task per key, versioned for optimistic
// concurrency via WATCH/MULTI/EXEC, the go-redis analogue of a row-version
// CAS over a relational store.
type RedisTaskStore struct {
	client            *redis.Client
	keyPrefix         string
	taskRetentionDays int
}

// NewRedisTaskStore builds a task store over an existing Redis client,
// following the same connection-config shape the rest of the queue layer
// uses.
func NewRedisTaskStore(client *redis.Client, cfg *config.QueueConfig) *RedisTaskStore {
	return &RedisTaskStore{
		client:            client,
		keyPrefix:         "task",
		taskRetentionDays: cfg.TaskRetentionDays,
	}
}

func (s *RedisTaskStore) key(taskID string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, taskID)
}

// Query loads the task at taskID, returning ErrNoMatch unless its current
// TakenUntil equals takenUntil exactly (spec step 1's conditional load).
func (s *RedisTaskStore) Query(ctx context.Context, taskID string, takenUntil time.Time) (*task.Task, error) {
	t, err := s.load(ctx, s.client, taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil, ErrNoMatch
		}
		return nil, err
	}
	if !t.TakenUntil.Equal(takenUntil) {
		return nil, ErrNoMatch
	}
	return t, nil
}

// Modify applies modifier under CAS, retrying on conflicting writers.
func (s *RedisTaskStore) Modify(ctx context.Context, taskID string, modifier Modifier) (*task.Task, error) {
	key := s.key(taskID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var result *task.Task

		txf := func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, taskID)
			if err != nil {
				return err
			}

			snapshot := current.Clone()
			if err := modifier(snapshot); err != nil {
				return err
			}

			beforeVersion := current.Version
			snapshot.Version = beforeVersion + 1
			data, err := snapshot.ToJSON()
			if err != nil {
				return fmt.Errorf("marshal task: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return s.setWithRetention(ctx, pipe, key, data, snapshot)
			})
			if err != nil {
				return err
			}

			result = snapshot
			return nil
		}

		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, reload and retry
		}
		return nil, err
	}

	return nil, fmt.Errorf("store: modify exceeded %d CAS attempts on %s", maxCASAttempts, taskID)
}

// Put inserts or overwrites a task record unconditionally.
func (s *RedisTaskStore) Put(ctx context.Context, t *task.Task) error {
	key := s.key(t.ID)
	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return s.setWithRetention(ctx, s.client, key, data, t)
}

type redisCmdable interface {
	redis.Cmdable
}

func (s *RedisTaskStore) load(ctx context.Context, c redisCmdable, taskID string) (*task.Task, error) {
	data, err := c.Get(ctx, s.key(taskID)).Bytes()
	if err == redis.Nil {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t, err := task.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}

func (s *RedisTaskStore) setWithRetention(ctx context.Context, c redisCmdable, key string, data []byte, t *task.Task) error {
	if len(t.Runs) > 0 {
		last := t.Runs[t.LastRunID()]
		if last.State.IsTerminal() && s.taskRetentionDays > 0 {
			ttl := time.Duration(s.taskRetentionDays) * 24 * time.Hour
			return c.Set(ctx, key, data, ttl).Err()
		}
	}
	return c.Set(ctx, key, data, 0).Err()
}
