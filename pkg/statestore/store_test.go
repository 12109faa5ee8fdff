package statestore

import (
	"context"
	"testing"

	"github.com/kadirpekel/tradepipe/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendSaveLoadCurrent(t *testing.T) {
	ctx := context.Background()
	cfg := &config.StateStoreConfig{Backend: "file", Dir: t.TempDir()}
	store, err := New(cfg, nil)
	require.NoError(t, err)

	doc := map[string]any{"status": "RUNNING", "current_step": float64(2)}
	require.NoError(t, store.SaveCurrent(ctx, "task-1", doc))

	loaded, err := store.LoadCurrent(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", loaded["status"])
}

func TestFileBackendHistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	store, err := New(&config.StateStoreConfig{Backend: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)

	require.NoError(t, store.AppendHistory(ctx, "task-1", map[string]any{"status": "PENDING"}))
	require.NoError(t, store.AppendHistory(ctx, "task-1", map[string]any{"status": "RUNNING"}))

	history, err := store.LoadHistory(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "PENDING", history[0]["status"])
	assert.Equal(t, "RUNNING", history[1]["status"])
}

func TestMemoryBackendIsolatesSnapshots(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	doc := map[string]any{"status": "RUNNING"}
	require.NoError(t, backend.SaveCurrent(ctx, "task-1", doc))
	doc["status"] = "mutated after save"

	loaded, err := backend.LoadCurrent(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", loaded["status"], "store must not alias the caller's map")
}

func TestFileBackendListCurrent(t *testing.T) {
	ctx := context.Background()
	store, err := New(&config.StateStoreConfig{Backend: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)

	require.NoError(t, store.SaveCurrent(ctx, "task-1", map[string]any{"status": "RUNNING"}))
	require.NoError(t, store.SaveCurrent(ctx, "task-2", map[string]any{"status": "PAUSED"}))

	docs, err := store.ListCurrent(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "RUNNING", docs["task-1"]["status"])
	assert.Equal(t, "PAUSED", docs["task-2"]["status"])
}

func TestMemoryBackendListCurrent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	require.NoError(t, backend.SaveCurrent(ctx, "task-1", map[string]any{"status": "RUNNING"}))

	docs, err := backend.ListCurrent(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "RUNNING", docs["task-1"]["status"])
}

func TestUnknownBackendRejected(t *testing.T) {
	_, err := New(&config.StateStoreConfig{Backend: "bogus"}, nil)
	assert.Error(t, err)
}

func TestMissingCurrentStateReturnsError(t *testing.T) {
	ctx := context.Background()
	store, err := New(&config.StateStoreConfig{Backend: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = store.LoadCurrent(ctx, "does-not-exist")
	assert.Error(t, err)
}
