// Package task defines the Task/Run record that the resolver and its
// collaborators operate on: a task is a unit of work addressed by taskId,
// and a run is one attempt at executing it.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority levels for task ordering, kept as-is from the queue this
// resolver sits alongside: retry runs re-enter the same priority stream
// the task was originally submitted on.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (p Priority) StreamName(prefix string) string {
	return prefix + ":" + p.String()
}

func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "normal":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// NoTakenUntil is the sentinel value for Task.TakenUntil when no run is
// currently running (invariant 1 in spec.md §3).
var NoTakenUntil = time.Unix(0, 0).UTC()

// Task is a persistent record keyed by ID, carrying the full run history.
type Task struct {
	ID          string                 `json:"id"`
	TaskGroupID string                 `json:"task_group_id"`
	SchedulerID string                 `json:"scheduler_id"`
	Type        string                 `json:"type"`
	Payload     map[string]interface{} `json:"payload"`
	Priority    Priority               `json:"priority"`
	Deadline    time.Time              `json:"deadline"`
	RetriesLeft int                    `json:"retries_left"`
	// TakenUntil mirrors the running run's TakenUntil (invariant 1);
	// NoTakenUntil when no run is running. Used as the conditional-load
	// predicate by the store.
	TakenUntil time.Time         `json:"taken_until"`
	Runs       []Run             `json:"runs"`
	Routes     []string          `json:"routes,omitempty"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// New creates a new Task with a single scheduled pending run.
func New(taskGroupID, schedulerID, taskType string, payload map[string]interface{}, priority Priority, deadline time.Time, maxRetries int) *Task {
	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.New().String(),
		TaskGroupID: taskGroupID,
		SchedulerID: schedulerID,
		Type:        taskType,
		Payload:     payload,
		Priority:    priority,
		Deadline:    deadline,
		RetriesLeft: maxRetries,
		TakenUntil:  NoTakenUntil,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    make(map[string]string),
	}
	t.Runs = []Run{{
		State:         RunPending,
		ReasonCreated: ReasonScheduled,
		Scheduled:     now,
	}}
	return t
}

// LastRunID returns the index of the most recently created run.
func (t *Task) LastRunID() int {
	return len(t.Runs) - 1
}

// Run returns a pointer to the run at runID, or nil if out of range.
func (t *Task) Run(runID int) *Run {
	if runID < 0 || runID >= len(t.Runs) {
		return nil
	}
	return &t.Runs[runID]
}

// RunningRun returns the index and pointer of the unique running run, if any.
func (t *Task) RunningRun() (int, *Run) {
	for i := range t.Runs {
		if t.Runs[i].State == RunRunning {
			return i, &t.Runs[i]
		}
	}
	return -1, nil
}

// Clone returns a deep-enough copy of the task suitable for a CAS modifier
// to mutate without affecting the caller's original snapshot.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Runs = make([]Run, len(t.Runs))
	copy(clone.Runs, t.Runs)
	clone.Routes = append([]string(nil), t.Routes...)
	if t.Metadata != nil {
		clone.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// ToJSON serializes the task to JSON.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task from JSON.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
