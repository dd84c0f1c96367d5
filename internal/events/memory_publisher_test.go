package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_TaskPendingAndException(t *testing.T) {
	p := NewMemoryPublisher()

	require.NoError(t, p.TaskPending(context.Background(), "task-1", TaskPendingPayload{Status: "pending", RunID: 1}, []string{"route.a"}))
	require.NoError(t, p.TaskException(context.Background(), "task-2", TaskExceptionPayload{Status: "exception", RunID: 0}, nil))

	assert.Equal(t, 1, p.PendingCount())
	assert.Equal(t, 1, p.ExceptionCount())
	assert.Equal(t, "task-1", p.Pending[0].TaskID)
	assert.Equal(t, []string{"route.a"}, p.Pending[0].Routes)
}

func TestMemoryPublisher_PublishAndClose(t *testing.T) {
	p := NewMemoryPublisher()

	require.NoError(t, p.Publish(context.Background(), NewEvent(EventTaskPending, nil)))
	assert.Len(t, p.Published, 1)

	ch, err := p.Subscribe(context.Background(), EventTaskPending)
	require.NoError(t, err)
	_, ok := <-ch
	assert.False(t, ok)

	require.NoError(t, p.Close())
	assert.True(t, p.closed)
}
