package dependency

import (
	"context"
	"sync"
)

// MemoryTracker records ResolveTask calls in-process for resolver unit
// tests, in place of a real Redis pub/sub round-trip.
type MemoryTracker struct {
	mu     sync.Mutex
	Events []ResolvedEvent
}

// NewMemoryTracker returns an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{}
}

func (m *MemoryTracker) ResolveTask(_ context.Context, taskID, taskGroupID, schedulerID string, resolution Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ResolvedEvent{
		TaskID:      taskID,
		TaskGroupID: taskGroupID,
		SchedulerID: schedulerID,
		Resolution:  resolution,
	})
	return nil
}

// Count returns the number of ResolveTask calls recorded so far.
func (m *MemoryTracker) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}
