package dependency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker_ResolveTask(t *testing.T) {
	tr := NewMemoryTracker()

	err := tr.ResolveTask(context.Background(), "task-1", "tg-1", "sched-1", ResolutionException)
	require.NoError(t, err)

	require.Len(t, tr.Events, 1)
	assert.Equal(t, "task-1", tr.Events[0].TaskID)
	assert.Equal(t, "tg-1", tr.Events[0].TaskGroupID)
	assert.Equal(t, "sched-1", tr.Events[0].SchedulerID)
	assert.Equal(t, ResolutionException, tr.Events[0].Resolution)
	assert.Equal(t, 1, tr.Count())
}

func TestMemoryTracker_MultipleCalls(t *testing.T) {
	tr := NewMemoryTracker()

	_ = tr.ResolveTask(context.Background(), "t1", "g1", "s1", ResolutionCompleted)
	_ = tr.ResolveTask(context.Background(), "t2", "g1", "s1", ResolutionFailed)

	assert.Equal(t, 2, tr.Count())
}

func TestMarshalEvent(t *testing.T) {
	data, err := marshalEvent(ResolvedEvent{
		TaskID:      "t1",
		TaskGroupID: "g1",
		SchedulerID: "s1",
		Resolution:  ResolutionException,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resolution":"exception"`)
}
