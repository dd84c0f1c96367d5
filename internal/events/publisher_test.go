package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("task.pending"), EventTaskPending)
	assert.Equal(t, EventType("task.exception"), EventTaskException)
}

func TestNewEvent(t *testing.T) {
	data := map[string]interface{}{
		"task_id": "task-123",
		"run_id":  1,
	}

	event := NewEvent(EventTaskPending, data)

	assert.Equal(t, EventTaskPending, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventTaskException,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"task_id": "task-456",
			"run_id":  0,
		},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "task.exception", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "task.exception",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"task_id": "task-789", "run_id": 0}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, EventTaskException, event.Type)
	assert.Equal(t, "task-789", event.Data["task_id"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventTaskPending, map[string]interface{}{
		"task_id": "task-1",
		"run_id":  1,
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["task_id"], restored.Data["task_id"])
}

func TestTaskPendingData(t *testing.T) {
	data := taskPendingData("task-123", TaskPendingPayload{Status: "pending", RunID: 1})

	assert.Equal(t, "task-123", data["task_id"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, 1, data["run_id"])
}

func TestTaskExceptionData(t *testing.T) {
	data := taskExceptionData("task-456", TaskExceptionPayload{
		Status:      "exception",
		RunID:       0,
		WorkerGroup: "wg1",
		WorkerID:    "w1",
	})

	assert.Equal(t, "task-456", data["task_id"])
	assert.Equal(t, "exception", data["status"])
	assert.Equal(t, 0, data["run_id"])
	assert.Equal(t, "wg1", data["worker_group"])
	assert.Equal(t, "w1", data["worker_id"])
}
