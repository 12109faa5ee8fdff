// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage manages checkpoint persistence as one JSON file per task under
// a configured directory: {dir}/state_{task_id}.json.
type Storage struct {
	dir string
}

// NewStorage creates a new checkpoint Storage rooted at dir.
func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

func (s *Storage) path(taskID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("state_%s.json", taskID))
}

// Save persists a checkpoint state.
func (s *Storage) Save(state *State) error {
	if state == nil {
		return fmt.Errorf("cannot save nil checkpoint state")
	}
	if state.TaskID == "" {
		return fmt.Errorf("task_id is required for checkpoint")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	data, err := state.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint state: %w", err)
	}

	if err := os.WriteFile(s.path(state.TaskID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	slog.Debug("saved checkpoint", "task_id", state.TaskID, "status", state.Status)
	return nil
}

// Load retrieves a checkpoint state for a task.
func (s *Storage) Load(taskID string) (*State, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		return nil, fmt.Errorf("no checkpoint found for task %s: %w", taskID, err)
	}

	state, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return state, nil
}

// Clear removes a checkpoint for a task.
func (s *Storage) Clear(taskID string) error {
	err := os.Remove(s.path(taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// ListAll returns every checkpoint currently persisted under dir.
func (s *Storage) ListAll() ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoint dir: %w", err)
	}

	var states []*State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "state_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Warn("failed to read checkpoint file", "file", entry.Name(), "error", err)
			continue
		}
		state, err := Deserialize(data)
		if err != nil {
			slog.Warn("failed to deserialize checkpoint file", "file", entry.Name(), "error", err)
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// CleanupExpired removes checkpoints older than maxAge, returning the
// number removed.
func (s *Storage) CleanupExpired(maxAge time.Duration) (int, error) {
	states, err := s.ListAll()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, state := range states {
		if state.IsExpired(maxAge) {
			if err := s.Clear(state.TaskID); err != nil {
				slog.Warn("failed to clear expired checkpoint", "task_id", state.TaskID, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
