package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunState_String(t *testing.T) {
	tests := []struct {
		s        RunState
		expected string
	}{
		{RunPending, "pending"},
		{RunRunning, "running"},
		{RunCompleted, "completed"},
		{RunFailed, "failed"},
		{RunException, "exception"},
		{RunState(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.s.String())
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	terminal := []RunState{RunCompleted, RunFailed, RunException}
	nonTerminal := []RunState{RunPending, RunRunning}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestRunState_CanTransitionTo(t *testing.T) {
	assert.True(t, RunPending.CanTransitionTo(RunRunning))
	assert.False(t, RunPending.CanTransitionTo(RunCompleted))
	assert.True(t, RunRunning.CanTransitionTo(RunException))
	assert.False(t, RunCompleted.CanTransitionTo(RunPending))
	assert.False(t, RunException.CanTransitionTo(RunRunning))
}

func newTestTask() *Task {
	return New("tg", "sched", "build", nil, PriorityNormal, time.Now().Add(time.Hour), 2)
}

func TestNewStateMachine_RunNotFound(t *testing.T) {
	tk := newTestTask()
	_, err := NewStateMachine(tk, 5)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStateMachine_Start(t *testing.T) {
	tk := newTestTask()
	sm, err := NewStateMachine(tk, 0)
	require.NoError(t, err)

	takenUntil := time.Now().Add(30 * time.Second)
	require.NoError(t, sm.Start("wg1", "w1", takenUntil))

	run := tk.Run(0)
	assert.Equal(t, RunRunning, run.State)
	assert.Equal(t, "wg1", run.WorkerGroup)
	assert.Equal(t, "w1", run.WorkerID)
	assert.Equal(t, takenUntil, run.TakenUntil)
	assert.Equal(t, takenUntil, tk.TakenUntil)
	require.NotNil(t, run.Started)
}

func TestStateMachine_Start_InvalidFromRunning(t *testing.T) {
	tk := newTestTask()
	sm, _ := NewStateMachine(tk, 0)
	require.NoError(t, sm.Start("wg", "w", time.Now().Add(time.Minute)))

	err := sm.Start("wg", "w2", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStateMachine_Complete(t *testing.T) {
	tk := newTestTask()
	sm, _ := NewStateMachine(tk, 0)
	require.NoError(t, sm.Start("wg", "w", time.Now().Add(time.Minute)))
	require.NoError(t, sm.Complete())

	run := tk.Run(0)
	assert.Equal(t, RunCompleted, run.State)
	assert.Equal(t, ReasonCompleted, run.ReasonResolved)
	require.NotNil(t, run.Resolved)
}

func TestStateMachine_Fail(t *testing.T) {
	tk := newTestTask()
	sm, _ := NewStateMachine(tk, 0)
	require.NoError(t, sm.Start("wg", "w", time.Now().Add(time.Minute)))
	require.NoError(t, sm.Fail())

	run := tk.Run(0)
	assert.Equal(t, RunFailed, run.State)
	assert.Equal(t, ReasonFailed, run.ReasonResolved)
}

func TestStateMachine_ExpireClaim(t *testing.T) {
	tk := newTestTask()
	sm, _ := NewStateMachine(tk, 0)
	takenUntil := time.Now().Add(time.Minute)
	require.NoError(t, sm.Start("wg", "w", takenUntil))
	require.NoError(t, sm.ExpireClaim())

	run := tk.Run(0)
	assert.Equal(t, RunException, run.State)
	assert.Equal(t, ReasonClaimExpired, run.ReasonResolved)
	// taken_until on the task must remain intact (spec.md §9).
	assert.Equal(t, takenUntil, tk.TakenUntil)
}

func TestStateMachine_Resolve_InvalidFromPending(t *testing.T) {
	tk := newTestTask()
	sm, _ := NewStateMachine(tk, 0)
	assert.ErrorIs(t, sm.Complete(), ErrInvalidTransition)
	assert.ErrorIs(t, sm.ExpireClaim(), ErrInvalidTransition)
}

func TestStateMachine_Resolve_TerminalIsFinal(t *testing.T) {
	tk := newTestTask()
	sm, _ := NewStateMachine(tk, 0)
	require.NoError(t, sm.Start("wg", "w", time.Now().Add(time.Minute)))
	require.NoError(t, sm.ExpireClaim())

	assert.ErrorIs(t, sm.Complete(), ErrInvalidTransition)
	assert.ErrorIs(t, sm.Fail(), ErrInvalidTransition)
}

func TestTask_AppendRetryRun(t *testing.T) {
	tk := newTestTask()
	before := tk.RetriesLeft
	run := tk.AppendRetryRun()

	assert.Equal(t, before-1, tk.RetriesLeft)
	assert.Equal(t, RunPending, run.State)
	assert.Equal(t, ReasonRetry, run.ReasonCreated)
	assert.Equal(t, 1, tk.LastRunID())
}
