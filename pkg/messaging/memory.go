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

package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryFabric dispatches messages synchronously in-process, guarded by
// a per-topic subscriber list. It is the default backend for tests and
// single-process deployments.
type MemoryFabric struct {
	mu          sync.RWMutex
	connected   bool
	subscribers map[string]map[string]Handler // topic -> subID -> handler
	metrics     fabricMetrics
}

// NewMemoryFabric creates a MemoryFabric.
func NewMemoryFabric(metrics fabricMetrics) *MemoryFabric {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &MemoryFabric{
		subscribers: make(map[string]map[string]Handler),
		metrics:     metrics,
	}
}

func (f *MemoryFabric) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *MemoryFabric) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *MemoryFabric) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *MemoryFabric) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.subscribers[topic]))
	for _, h := range f.subscribers[topic] {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	f.metrics.RecordPublish("memory", topic)
	for _, h := range handlers {
		h(topic, payload)
		f.metrics.RecordDeliver("memory", topic)
	}
	return nil
}

func (f *MemoryFabric) Subscribe(_ context.Context, topic string, handler Handler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers[topic] == nil {
		f.subscribers[topic] = make(map[string]Handler)
	}
	subID := uuid.NewString()
	f.subscribers[topic][subID] = handler
	return subID, nil
}

func (f *MemoryFabric) Unsubscribe(_ context.Context, topic, subID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if subs, ok := f.subscribers[topic]; ok {
		delete(subs, subID)
	}
	return nil
}

var _ Fabric = (*MemoryFabric)(nil)
