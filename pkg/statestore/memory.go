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
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory Backend, useful for tests and
// single-process deployments that don't need restart durability.
type MemoryBackend struct {
	mu      sync.RWMutex
	current map[string]map[string]any
	history map[string][]map[string]any
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		current: make(map[string]map[string]any),
		history: make(map[string][]map[string]any),
	}
}

func (b *MemoryBackend) SaveCurrent(_ context.Context, taskID string, doc map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current[taskID] = cloneDoc(doc)
	return nil
}

func (b *MemoryBackend) LoadCurrent(_ context.Context, taskID string) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.current[taskID]
	if !ok {
		return nil, fmt.Errorf("no current state for task %s", taskID)
	}
	return cloneDoc(doc), nil
}

func (b *MemoryBackend) AppendHistory(_ context.Context, taskID string, doc map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[taskID] = append(b.history[taskID], cloneDoc(doc))
	return nil
}

func (b *MemoryBackend) LoadHistory(_ context.Context, taskID string) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hist := b.history[taskID]
	out := make([]map[string]any, len(hist))
	for i, doc := range hist {
		out[i] = cloneDoc(doc)
	}
	return out, nil
}

// ListCurrent returns every task's current-state document, keyed by task
// ID, used by the Task Manager's startup reconciliation to rehydrate its
// in-memory task index after a process restart.
func (b *MemoryBackend) ListCurrent(_ context.Context) (map[string]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]map[string]any, len(b.current))
	for id, doc := range b.current {
		out[id] = cloneDoc(doc)
	}
	return out, nil
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
