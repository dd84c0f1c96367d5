package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Resolver notification events, emitted only on the ownership-confirmed
	// post-mutation path of the message handler.
	EventTaskPending   EventType = "task.pending"
	EventTaskException EventType = "task.exception"
)

// Event represents a system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event.
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// TaskPendingPayload is the body of a task-pending notification, emitted on
// the retry path of the message handler.
type TaskPendingPayload struct {
	Status string `json:"status"`
	RunID  int    `json:"run_id"`
}

// TaskExceptionPayload is the body of a task-exception notification,
// emitted on the terminal path of the message handler.
type TaskExceptionPayload struct {
	Status      string `json:"status"`
	RunID       int    `json:"run_id"`
	WorkerGroup string `json:"worker_group"`
	WorkerID    string `json:"worker_id"`
}

// Publisher is the event-publishing adapter the resolver depends on.
// TaskPending and TaskException fan out to the event-type channel plus one
// channel per route (spec.md's "routes" notification metadata).
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	TaskPending(ctx context.Context, taskID string, payload TaskPendingPayload, routes []string) error
	TaskException(ctx context.Context, taskID string, payload TaskExceptionPayload, routes []string) error
	Close() error
}

// Subscriber represents an event subscriber.
type Subscriber interface {
	OnEvent(event *Event)
	EventTypes() []EventType
}

func taskPendingData(taskID string, payload TaskPendingPayload) map[string]interface{} {
	return map[string]interface{}{
		"task_id": taskID,
		"status":  payload.Status,
		"run_id":  payload.RunID,
	}
}

func taskExceptionData(taskID string, payload TaskExceptionPayload) map[string]interface{} {
	return map[string]interface{}{
		"task_id":      taskID,
		"status":       payload.Status,
		"run_id":       payload.RunID,
		"worker_group": payload.WorkerGroup,
		"worker_id":    payload.WorkerID,
	}
}
