package events

import (
	"context"
	"sync"
)

// TaskPendingCall records one TaskPending invocation on MemoryPublisher.
type TaskPendingCall struct {
	TaskID  string
	Payload TaskPendingPayload
	Routes  []string
}

// TaskExceptionCall records one TaskException invocation on MemoryPublisher.
type TaskExceptionCall struct {
	TaskID  string
	Payload TaskExceptionPayload
	Routes  []string
}

// MemoryPublisher is an in-process Publisher for resolver unit tests,
// recording every call instead of round-tripping through Redis pub/sub.
type MemoryPublisher struct {
	mu         sync.Mutex
	Published  []*Event
	Pending    []TaskPendingCall
	Exceptions []TaskExceptionCall
	closed     bool
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Published = append(p.Published, event)
	return nil
}

func (p *MemoryPublisher) Subscribe(_ context.Context, _ ...EventType) (<-chan *Event, error) {
	ch := make(chan *Event)
	close(ch)
	return ch, nil
}

func (p *MemoryPublisher) TaskPending(_ context.Context, taskID string, payload TaskPendingPayload, routes []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pending = append(p.Pending, TaskPendingCall{TaskID: taskID, Payload: payload, Routes: routes})
	return nil
}

func (p *MemoryPublisher) TaskException(_ context.Context, taskID string, payload TaskExceptionPayload, routes []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Exceptions = append(p.Exceptions, TaskExceptionCall{TaskID: taskID, Payload: payload, Routes: routes})
	return nil
}

func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// PendingCount returns the number of TaskPending calls recorded.
func (p *MemoryPublisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Pending)
}

// ExceptionCount returns the number of TaskException calls recorded.
func (p *MemoryPublisher) ExceptionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Exceptions)
}
