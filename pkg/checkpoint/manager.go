// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"log/slog"
	"time"

	"github.com/kadirpekel/tradepipe/pkg/config"
)

// Manager orchestrates checkpoint persistence and garbage collection.
type Manager struct {
	cfg     *config.CheckpointConfig
	storage *Storage
}

// NewManager creates a new checkpoint Manager.
func NewManager(cfg *config.CheckpointConfig) *Manager {
	if cfg == nil {
		cfg = &config.CheckpointConfig{}
		cfg.SetDefaults()
	}
	return &Manager{
		cfg:     cfg,
		storage: NewStorage(cfg.Dir),
	}
}

// SaveCheckpoint persists a checkpoint. Failures are logged, never
// propagated to the caller — checkpointing is best-effort.
func (m *Manager) SaveCheckpoint(state *State) {
	if m == nil {
		return
	}
	if err := m.storage.Save(state); err != nil {
		slog.Warn("failed to save checkpoint", "task_id", state.TaskID, "error", err)
	}
}

// LoadCheckpoint retrieves a checkpoint by task ID.
func (m *Manager) LoadCheckpoint(taskID string) (*State, error) {
	return m.storage.Load(taskID)
}

// ClearCheckpoint removes a checkpoint.
func (m *Manager) ClearCheckpoint(taskID string) {
	if m == nil {
		return
	}
	if err := m.storage.Clear(taskID); err != nil {
		slog.Warn("failed to clear checkpoint", "task_id", taskID, "error", err)
	}
}

// ListPending returns every checkpoint currently on disk, for startup
// reconciliation.
func (m *Manager) ListPending() ([]*State, error) {
	return m.storage.ListAll()
}

// CleanupExpired removes checkpoints older than the configured max age.
// Intended to be run periodically from a background ticker.
func (m *Manager) CleanupExpired() {
	if m == nil {
		return
	}
	maxAge := m.cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	removed, err := m.storage.CleanupExpired(maxAge)
	if err != nil {
		slog.Warn("checkpoint cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("removed expired checkpoints", "count", removed)
	}
}

// SaveOnPause reports whether the engine is configured to checkpoint on
// every pause transition, in addition to its periodic cadence.
func (m *Manager) SaveOnPause() bool {
	return m != nil && m.cfg.SaveOnPause
}
