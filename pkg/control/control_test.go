package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLifecycle(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("task-1")

	assert.False(t, m.ShouldStop("task-1"))
	assert.False(t, m.ShouldPause("task-1"))

	changed, err := m.Pause("task-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.ShouldPause("task-1"))

	changed, err = m.Resume("task-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, m.ShouldPause("task-1"))

	require.NoError(t, m.Stop("task-1"))
	assert.True(t, m.ShouldStop("task-1"))
}

func TestPauseIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("task-1")

	changed, err := m.Pause("task-1")
	require.NoError(t, err)
	assert.True(t, changed, "first pause changes state")

	changed, err = m.Pause("task-1")
	require.NoError(t, err)
	assert.False(t, changed, "pausing an already-paused task is a no-op")
}

func TestResumeIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("task-1")

	changed, err := m.Resume("task-1")
	require.NoError(t, err)
	assert.False(t, changed, "resuming a never-paused task is a no-op")
}

func TestResumeRejectedAfterStop(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("task-1")

	require.NoError(t, m.Stop("task-1"))

	changed, err := m.Resume("task-1")
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, changed)
}

func TestPauseAfterStopIsRejected(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("task-1")

	_, err := m.Pause("task-1")
	require.NoError(t, err)
	require.NoError(t, m.Stop("task-1"))

	changed, err := m.Pause("task-1")
	require.NoError(t, err, "pause does not error on a stopped task")
	assert.False(t, changed, "pause is a no-op once stopped")
}

func TestUnknownTaskOperationsError(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Pause("ghost")
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.ErrorIs(t, m.Stop("ghost"), ErrUnknownTask)
	assert.False(t, m.ShouldStop("ghost"))
}

func TestWaitIfPausedReturnsOnResume(t *testing.T) {
	m := NewManager(nil, nil)
	m.pollInterval = 5 * time.Millisecond
	m.Register("task-1")
	_, err := m.Pause("task-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- m.WaitIfPaused(context.Background(), "task-1")
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = m.Resume("task-1")
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after resume")
	}
}

func TestWaitIfPausedReturnsErrStoppedOnStop(t *testing.T) {
	m := NewManager(nil, nil)
	m.pollInterval = 5 * time.Millisecond
	m.Register("task-1")
	_, err := m.Pause("task-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- m.WaitIfPaused(context.Background(), "task-1")
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Stop("task-1"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after stop")
	}
}

func TestUnregisterForgetsTask(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("task-1")
	m.Unregister("task-1")
	_, err := m.Pause("task-1")
	assert.ErrorIs(t, err, ErrUnknownTask)
}
