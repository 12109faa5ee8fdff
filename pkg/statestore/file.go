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

package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend stores one {task_id}_current.json and one
// {task_id}_history.json file per task under a root directory.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates a file-backed Backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) currentPath(taskID string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_current.json", taskID))
}

func (b *FileBackend) historyPath(taskID string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_history.json", taskID))
}

func (b *FileBackend) SaveCurrent(_ context.Context, taskID string, doc map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state store dir: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal current state: %w", err)
	}
	return os.WriteFile(b.currentPath(taskID), data, 0o644)
}

func (b *FileBackend) LoadCurrent(_ context.Context, taskID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.currentPath(taskID))
	if err != nil {
		return nil, fmt.Errorf("no current state for task %s: %w", taskID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	return doc, nil
}

func (b *FileBackend) AppendHistory(_ context.Context, taskID string, doc map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state store dir: %w", err)
	}

	history, err := b.readHistoryLocked(taskID)
	if err != nil {
		return err
	}
	history = append(history, doc)

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return os.WriteFile(b.historyPath(taskID), data, 0o644)
}

func (b *FileBackend) LoadHistory(_ context.Context, taskID string) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readHistoryLocked(taskID)
}

// ListCurrent returns every task's current-state document, keyed by
// task ID, by globbing the current-state files under the store's
// directory.
func (b *FileBackend) ListCurrent(_ context.Context) (map[string]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(b.dir, "*_current.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list current-state files: %w", err)
	}

	out := make(map[string]map[string]any, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
		}
		base := filepath.Base(path)
		taskID := strings.TrimSuffix(base, "_current.json")
		out[taskID] = doc
	}
	return out, nil
}

func (b *FileBackend) readHistoryLocked(taskID string) ([]map[string]any, error) {
	data, err := os.ReadFile(b.historyPath(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var history []map[string]any
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return history, nil
}
