package checkpoint

import (
	"testing"
	"time"

	"github.com/kadirpekel/tradepipe/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageSaveLoadClear(t *testing.T) {
	storage := NewStorage(t.TempDir())

	state := New("task-1", "RUNNING", 3, "market_analyst").WithParams(map[string]any{"symbol": "AAPL"})
	require.NoError(t, storage.Save(state))

	loaded, err := storage.Load("task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.TaskID)
	assert.Equal(t, 3, loaded.CurrentStep)
	assert.Equal(t, "AAPL", loaded.Params["symbol"])

	require.NoError(t, storage.Clear("task-1"))
	_, err = storage.Load("task-1")
	assert.Error(t, err)
}

func TestStorageListAll(t *testing.T) {
	storage := NewStorage(t.TempDir())
	require.NoError(t, storage.Save(New("task-1", "RUNNING", 1, "a")))
	require.NoError(t, storage.Save(New("task-2", "PAUSED", 2, "b")))

	states, err := storage.ListAll()
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestCleanupExpired(t *testing.T) {
	storage := NewStorage(t.TempDir())
	state := New("old-task", "RUNNING", 1, "a")
	state.SavedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, storage.Save(state))
	require.NoError(t, storage.Save(New("fresh-task", "RUNNING", 1, "a")))

	removed, err := storage.CleanupExpired(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := storage.ListAll()
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "fresh-task", remaining[0].TaskID)
}

func TestManagerSaveIsBestEffort(t *testing.T) {
	cfg := &config.CheckpointConfig{Dir: t.TempDir(), MaxAge: time.Hour}
	mgr := NewManager(cfg)

	assert.NotPanics(t, func() {
		mgr.SaveCheckpoint(New("task-1", "RUNNING", 1, "a"))
	})

	loaded, err := mgr.LoadCheckpoint("task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.TaskID)

	mgr.ClearCheckpoint("task-1")
	_, err = mgr.LoadCheckpoint("task-1")
	assert.Error(t, err)
}

func TestNilManagerMethodsAreSafe(t *testing.T) {
	var mgr *Manager
	assert.NotPanics(t, func() {
		mgr.SaveCheckpoint(New("x", "RUNNING", 0, ""))
		mgr.ClearCheckpoint("x")
		mgr.CleanupExpired()
		_ = mgr.SaveOnPause()
	})
}
