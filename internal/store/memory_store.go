package store

import (
	"context"
	"sync"
	"time"

	"github.com/maumercado/claim-resolver/internal/task"
)

// MemoryTaskStore is an in-process TaskStore used by resolver unit tests to
// exercise CAS races deterministically without a real Redis instance.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task

	// ModifyHook, if set, runs once per Modify call before the CAS attempt,
	// letting tests inject a conflicting concurrent write or a transient
	// error (S3, S5).
	ModifyHook func(taskID string, attempt int) error
}

// NewMemoryTaskStore returns an empty in-memory store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*task.Task)}
}

func (s *MemoryTaskStore) Query(_ context.Context, taskID string, takenUntil time.Time) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || !t.TakenUntil.Equal(takenUntil) {
		return nil, ErrNoMatch
	}
	return t.Clone(), nil
}

func (s *MemoryTaskStore) Modify(_ context.Context, taskID string, modifier Modifier) (*task.Task, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if s.ModifyHook != nil {
			if err := s.ModifyHook(taskID, attempt); err != nil {
				return nil, err
			}
		}

		s.mu.Lock()
		current, ok := s.tasks[taskID]
		if !ok {
			s.mu.Unlock()
			return nil, task.ErrTaskNotFound
		}
		beforeVersion := current.Version
		snapshot := current.Clone()
		s.mu.Unlock()

		if err := modifier(snapshot); err != nil {
			return nil, err
		}
		snapshot.Version = beforeVersion + 1

		s.mu.Lock()
		latest := s.tasks[taskID]
		if latest.Version != beforeVersion {
			s.mu.Unlock()
			continue // lost the race; reload and retry, mirroring RedisTaskStore
		}
		s.tasks[taskID] = snapshot
		s.mu.Unlock()
		return snapshot, nil
	}
	return nil, task.ErrTaskNotFound
}

func (s *MemoryTaskStore) Put(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get is a test convenience accessor bypassing the conditional predicate.
func (s *MemoryTaskStore) Get(taskID string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}
