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

// Package checkpoint persists enough of a running task's state to resume
// it after a process restart: which step it was on, its status, and its
// original parameters.
package checkpoint

import (
	"encoding/json"
	"time"
)

// State is a point-in-time snapshot of a task sufficient to resume it.
type State struct {
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	CurrentStep int             `json:"current_step"`
	StepName    string          `json:"step_name,omitempty"`
	Params      map[string]any  `json:"params,omitempty"`
	CacheReuse  map[string]bool `json:"cache_reuse,omitempty"`
	SavedAt     time.Time       `json:"saved_at"`
}

// New creates a checkpoint State for the given task.
func New(taskID, status string, currentStep int, stepName string) *State {
	return &State{
		TaskID:      taskID,
		Status:      status,
		CurrentStep: currentStep,
		StepName:    stepName,
		SavedAt:     time.Now(),
	}
}

// WithParams attaches the task's original parameters.
func (s *State) WithParams(params map[string]any) *State {
	s.Params = params
	return s
}

// WithCacheReuse attaches the task's cache-reuse configuration.
func (s *State) WithCacheReuse(cfg map[string]bool) *State {
	s.CacheReuse = cfg
	return s
}

// IsExpired reports whether the checkpoint is older than maxAge.
func (s *State) IsExpired(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return time.Since(s.SavedAt) > maxAge
}

// Serialize encodes the state as JSON.
func (s *State) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// Deserialize decodes a checkpoint State from JSON.
func Deserialize(data []byte) (*State, error) {
	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}
