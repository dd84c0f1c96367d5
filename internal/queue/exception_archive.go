package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/task"
)

// ExceptionArchiver records a run's terminal exception resolution. The
// Message Handler depends on this interface, not *ExceptionArchive
// directly, so unit tests can substitute MemoryExceptionArchive.
type ExceptionArchiver interface {
	Add(ctx context.Context, t *task.Task, runID int, reason string) error
}

// ExceptionArchive records the terminal outcome of runs resolved
// claim-expired with no retries left, for operator inspection through the
// observability API. Adapted from the teacher's dead-letter queue: same
// stream-plus-set dual storage, repurposed from "failed task awaiting
// manual retry" to "resolved-exception audit trail" (the resolver never
// requeues from here; spec.md's Non-goals exclude worker-facing
// claim/reclaim endpoints, which this would otherwise resemble).
type ExceptionArchive struct {
	client     *redis.Client
	streamName string
	setName    string
}

// NewExceptionArchive builds an archive backed by streamName/setName.
func NewExceptionArchive(client *redis.Client, streamName, setName string) *ExceptionArchive {
	return &ExceptionArchive{client: client, streamName: streamName, setName: setName}
}

// ArchiveEntry is one recorded terminal exception.
type ArchiveEntry struct {
	Task      *task.Task `json:"task"`
	RunID     int        `json:"run_id"`
	Reason    string     `json:"reason"`
	ArchivedAt time.Time `json:"archived_at"`
	MessageID string     `json:"message_id,omitempty"`
}

// Add records t's terminal exception resolution for runID.
func (a *ExceptionArchive) Add(ctx context.Context, t *task.Task, runID int, reason string) error {
	entry := ArchiveEntry{
		Task:       t,
		RunID:      runID,
		Reason:     reason,
		ArchivedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal archive entry: %w", err)
	}

	_, err = a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.streamName,
		Values: map[string]interface{}{
			"task_id": t.ID,
			"run_id":  fmt.Sprintf("%d", runID),
			"data":    string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add to exception archive: %w", err)
	}

	return a.client.SAdd(ctx, a.setName, t.ID).Err()
}

// List returns up to count archived entries starting at offset (an XRange
// cursor, "-" for the beginning).
func (a *ExceptionArchive) List(ctx context.Context, count int64, offset string) ([]ArchiveEntry, error) {
	if offset == "" {
		offset = "-"
	}

	messages, err := a.client.XRange(ctx, a.streamName, offset, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read exception archive: %w", err)
	}

	entries := make([]ArchiveEntry, 0, len(messages))
	for i, msg := range messages {
		if count > 0 && int64(i) >= count {
			break
		}

		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var entry ArchiveEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entry.MessageID = msg.ID
		entries = append(entries, entry)
	}

	return entries, nil
}

// Size returns the number of tasks recorded in the archive.
func (a *ExceptionArchive) Size(ctx context.Context) (int64, error) {
	return a.client.SCard(ctx, a.setName).Result()
}
