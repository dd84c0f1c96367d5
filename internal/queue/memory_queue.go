package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maumercado/claim-resolver/internal/task"
)

// MemoryAdvisoryQueue is an in-process AdvisoryQueue for resolver unit
// tests: messages are delivered in FIFO order and Remove records the
// message ID in a set of acked IDs, letting tests assert which messages
// were acknowledged without a real Redis consumer group. A repeated Remove
// of the same message is not counted twice.
type MemoryAdvisoryQueue struct {
	mu       sync.Mutex
	pending  []*AdvisoryMessage
	acked    map[string]bool
	delivery int
}

// NewMemoryAdvisoryQueue returns an empty queue.
func NewMemoryAdvisoryQueue() *MemoryAdvisoryQueue {
	return &MemoryAdvisoryQueue{acked: make(map[string]bool)}
}

// Deliver appends a message to the queue, simulating the claim-expiry
// scheduler's promotion of a due claim.
func (q *MemoryAdvisoryQueue) Deliver(taskID string, runID int, takenUntil time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.delivery++
	q.pending = append(q.pending, &AdvisoryMessage{
		TaskID:     taskID,
		RunID:      runID,
		TakenUntil: takenUntil,
		messageID:  fmt.Sprintf("%s:%d:%d", taskID, runID, q.delivery),
		acker:      q,
	})
}

// PollClaimQueue returns and clears up to batchSize currently pending
// messages.
func (q *MemoryAdvisoryQueue) PollClaimQueue(_ context.Context, _ string, batchSize int64) ([]*AdvisoryMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int64(len(q.pending))
	if batchSize > 0 && n > batchSize {
		n = batchSize
	}

	batch := make([]*AdvisoryMessage, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]

	return batch, nil
}

func (q *MemoryAdvisoryQueue) ack(_ context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked[messageID] = true
	return nil
}

// Acked reports whether messageID has been acknowledged, for test
// assertions.
func (q *MemoryAdvisoryQueue) Acked(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked[messageID]
}

// AckedCount returns how many distinct messages have been acknowledged.
func (q *MemoryAdvisoryQueue) AckedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

// Len reports the number of messages still pending delivery.
func (q *MemoryAdvisoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// MemoryPendingQueue is an in-process PendingQueue for resolver unit
// tests, recording every activated retry run for assertion.
type MemoryPendingQueue struct {
	mu           sync.Mutex
	entries      []PendingEntry
	available    []*PendingMessage
	ackedPending []string
}

// PendingEntry records one PutPendingMessage call.
type PendingEntry struct {
	TaskID string
	RunID  int
}

// NewMemoryPendingQueue returns an empty queue.
func NewMemoryPendingQueue() *MemoryPendingQueue {
	return &MemoryPendingQueue{}
}

// PutPendingMessage records the activation of runID for t and makes it
// available to DequeuePending, simulating the priority stream.
func (q *MemoryPendingQueue) PutPendingMessage(_ context.Context, t *task.Task, runID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, PendingEntry{TaskID: t.ID, RunID: runID})
	q.available = append(q.available, &PendingMessage{
		TaskID:    t.ID,
		RunID:     runID,
		messageID: fmt.Sprintf("%s:%d", t.ID, runID),
	})
	return nil
}

// Entries returns every PutPendingMessage call recorded so far.
func (q *MemoryPendingQueue) Entries() []PendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// DequeuePending pops the oldest available pending message, FIFO.
func (q *MemoryPendingQueue) DequeuePending(_ context.Context, _ string) (*PendingMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.available) == 0 {
		return nil, nil
	}
	msg := q.available[0]
	q.available = q.available[1:]
	return msg, nil
}

// AcknowledgePending records msg's ID as acknowledged.
func (q *MemoryPendingQueue) AcknowledgePending(_ context.Context, msg *PendingMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ackedPending = append(q.ackedPending, msg.messageID)
	return nil
}

// AckedPending returns every AcknowledgePending message ID recorded so far.
func (q *MemoryPendingQueue) AckedPending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.ackedPending))
	copy(out, q.ackedPending)
	return out
}

// MemoryExceptionArchive is an in-process ExceptionArchiver for resolver
// unit tests.
type MemoryExceptionArchive struct {
	mu      sync.Mutex
	entries []ArchiveEntry
}

// NewMemoryExceptionArchive returns an empty archive.
func NewMemoryExceptionArchive() *MemoryExceptionArchive {
	return &MemoryExceptionArchive{}
}

// Add records t's terminal exception resolution for runID.
func (a *MemoryExceptionArchive) Add(_ context.Context, t *task.Task, runID int, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, ArchiveEntry{Task: t, RunID: runID, Reason: reason})
	return nil
}

// Entries returns every Add call recorded so far.
func (a *MemoryExceptionArchive) Entries() []ArchiveEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ArchiveEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
