package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskStartsPending(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	assert.Equal(t, StatusPending, tk.GetStatus())
	assert.False(t, tk.GetStatus().IsTerminal())
}

func TestLegalTransitions(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	require.NoError(t, tk.Transition(StatusRunning))
	require.NoError(t, tk.Transition(StatusPaused))
	require.NoError(t, tk.Transition(StatusRunning))
	require.NoError(t, tk.Transition(StatusStopped))
	assert.True(t, tk.GetStatus().IsTerminal())
}

func TestIllegalTransitionRejected(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	err := tk.Transition(StatusCompleted)
	assert.Error(t, err)
	assert.Equal(t, StatusPending, tk.GetStatus())
}

func TestTerminalStateRejectsFurtherTransitions(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	require.NoError(t, tk.Transition(StatusRunning))
	require.NoError(t, tk.Complete(map[string]any{"signal": "BUY"}))
	assert.Error(t, tk.Transition(StatusRunning))
	assert.Error(t, tk.Fail("late error"))
}

func TestUpdateProgressMergesFields(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	tk.UpdateProgress(Progress{CurrentStep: 2, TotalSteps: 10, Percentage: 20, Message: "step 2"})
	snap := tk.Snapshot()
	assert.Equal(t, 2, snap.Progress.CurrentStep)
	assert.Equal(t, 10, snap.Progress.TotalSteps)
	assert.Equal(t, "step 2", snap.Progress.Message)

	tk.UpdateProgress(Progress{Percentage: 30, Message: "step 3"})
	snap = tk.Snapshot()
	assert.Equal(t, 2, snap.Progress.CurrentStep, "unset fields are not clobbered")
	assert.Equal(t, float64(30), snap.Progress.Percentage)
}

func TestHistoryLengthIsNPlusOne(t *testing.T) {
	tk := Initialize(Params{Symbol: "AAPL"})
	assert.Len(t, tk.GetHistoryStates(), 1, "Initialize seeds one snapshot")

	require.NoError(t, tk.Transition(StatusRunning))
	tk.UpdateProgress(Progress{CurrentStep: 1, TotalSteps: 4})
	tk.SetCurrentStep(CurrentStep{Index: 1, Name: "market"})
	require.NoError(t, tk.Complete(map[string]any{"signal": "BUY"}))

	history := tk.GetHistoryStates()
	assert.Len(t, history, 5, "1 seed snapshot + 4 mutations")

	last := history[len(history)-1]
	assert.Equal(t, StatusRunning, last.Status, "last history entry is the state immediately before the final mutation")
	assert.Equal(t, StatusCompleted, tk.GetCurrentState().Status, "current state reflects the mutation, unlike the history entry")
}

func TestUpdateStateRejectsIllegalTransitionWithoutRecordingHistory(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	before := len(tk.GetHistoryStates())

	err := tk.UpdateState(Update{ToStatus: StatusCompleted})
	assert.Error(t, err)
	assert.Equal(t, StatusPending, tk.GetStatus())
	assert.Len(t, tk.GetHistoryStates(), before, "a rejected transition appends nothing to history")
}

func TestUpdateStateMergesProgressFieldWise(t *testing.T) {
	tk := New(Params{Symbol: "AAPL"})
	require.NoError(t, tk.Transition(StatusRunning))

	require.NoError(t, tk.UpdateState(Update{Progress: &Progress{CurrentStep: 2, TotalSteps: 10, Message: "step 2"}}))
	require.NoError(t, tk.UpdateState(Update{Progress: &Progress{Percentage: 50}}))

	snap := tk.Snapshot()
	assert.Equal(t, 2, snap.Progress.CurrentStep, "unset fields are not clobbered")
	assert.Equal(t, float64(50), snap.Progress.Percentage)
}

func TestInMemoryServiceCRUD(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService()

	tk, err := svc.Create(ctx, Params{Symbol: "MSFT"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, svc.Cancel(ctx, tk.ID))
	assert.Equal(t, StatusCancelled, got.GetStatus())

	err = svc.Cancel(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrTaskTerminal)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
