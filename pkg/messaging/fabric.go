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

// Package messaging implements the Message Fabric: a pub/sub layer that
// publishes progress and status events for subscribers (CLIs, dashboards,
// other services) to observe a task's execution in real time, without
// those subscribers sitting in the critical path of the worker producing
// the events.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/tradepipe/pkg/config"
)

// Well-known topic names.
const (
	TopicTaskProgress  = "task/progress"
	TopicTaskStatus    = "task/status"
	TopicModuleStart   = "module/start"
	TopicModuleComplete = "module/complete"
	TopicModuleError   = "module/error"
)

// ProgressMessage is published whenever a task's progress changes.
type ProgressMessage struct {
	TaskID     string    `json:"task_id"`
	StepIndex  int       `json:"step_index"`
	TotalSteps int       `json:"total_steps"`
	Percentage float64   `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusMessage is published whenever a task's lifecycle status changes.
type StatusMessage struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ModuleMessage is published on the module/start, module/complete, and
// module/error topics as a single pipeline step begins and ends,
// whether its output came from a fresh stage invocation or a
// result-reuse cache hit.
type ModuleMessage struct {
	TaskID     string    `json:"task_id"`
	ModuleName string    `json:"module_name"`
	Round      int       `json:"round,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Handler receives a delivered message payload.
type Handler func(topic string, payload []byte)

// Fabric is the Message Fabric abstraction; every backend implements it.
type Fabric interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (string, error)
	Unsubscribe(ctx context.Context, topic, subID string) error
	IsConnected() bool
}

// New builds a Fabric from configuration.
func New(cfg *config.MessageFabricConfig, metrics fabricMetrics) (Fabric, error) {
	if cfg == nil {
		cfg = &config.MessageFabricConfig{}
		cfg.SetDefaults()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryFabric(metrics), nil
	case "broadcast":
		return NewBroadcastFabric(cfg.BroadcastAddr, metrics)
	case "etcd":
		return NewEtcdFabric(cfg, metrics)
	default:
		return nil, fmt.Errorf("unknown message fabric backend %q", cfg.Backend)
	}
}

// fabricMetrics is the narrow metrics surface the fabric needs.
type fabricMetrics interface {
	RecordPublish(backend, topic string)
	RecordDeliver(backend, topic string)
}

type noopMetrics struct{}

func (noopMetrics) RecordPublish(string, string) {}
func (noopMetrics) RecordDeliver(string, string) {}

// PublishProgress marshals and publishes a ProgressMessage on the given
// topic. Publish failures are the caller's responsibility to log; the
// fabric never blocks the worker on a slow or absent subscriber.
func PublishProgress(ctx context.Context, f Fabric, topic string, msg ProgressMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}
	return f.Publish(ctx, topic, payload)
}

// PublishStatus marshals and publishes a StatusMessage on the given topic.
func PublishStatus(ctx context.Context, f Fabric, topic string, msg StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}
	return f.Publish(ctx, topic, payload)
}

// PublishModule marshals and publishes a ModuleMessage on the given topic.
func PublishModule(ctx context.Context, f Fabric, topic string, msg ModuleMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal module message: %w", err)
	}
	return f.Publish(ctx, topic, payload)
}
