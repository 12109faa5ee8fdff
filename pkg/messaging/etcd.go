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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kadirpekel/tradepipe/pkg/config"
)

// EtcdFabric implements pub/sub over etcd's watch API: Publish performs
// a Put under a monotonically increasing per-topic key, and Subscribe
// starts a Watch over that topic's key prefix, so deliveries to a single
// watcher arrive in the same order they were published (etcd's "watch
// one key range in revision order" is a native pub/sub primitive, used
// here instead of a bespoke queue).
type EtcdFabric struct {
	client  *clientv3.Client
	prefix  string
	metrics fabricMetrics
	seq     atomic.Uint64

	mu        sync.Mutex
	connected bool
	cancels   map[string]context.CancelFunc // subID -> watch cancel
}

// NewEtcdFabric dials etcd using the given configuration.
func NewEtcdFabric(cfg *config.MessageFabricConfig, metrics fabricMetrics) (*EtcdFabric, error) {
	client, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints})
	if err != nil {
		return nil, fmt.Errorf("failed to dial etcd message fabric: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "topics/"
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &EtcdFabric{
		client:  client,
		prefix:  prefix,
		metrics: metrics,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

func (f *EtcdFabric) topicPrefix(topic string) string {
	return f.prefix + topic + "/"
}

func (f *EtcdFabric) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *EtcdFabric) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cancel := range f.cancels {
		cancel()
	}
	f.cancels = make(map[string]context.CancelFunc)
	f.connected = false
	return f.client.Close()
}

func (f *EtcdFabric) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *EtcdFabric) Publish(ctx context.Context, topic string, payload []byte) error {
	seq := f.seq.Add(1)
	key := fmt.Sprintf("%s%020d", f.topicPrefix(topic), seq)
	if _, err := f.client.Put(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("etcd publish failed: %w", err)
	}
	f.metrics.RecordPublish("etcd", topic)
	return nil
}

func (f *EtcdFabric) Subscribe(ctx context.Context, topic string, handler Handler) (string, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	subID := uuid.NewString()

	f.mu.Lock()
	f.cancels[subID] = cancel
	f.mu.Unlock()

	watchCh := f.client.Watch(watchCtx, f.topicPrefix(topic), clientv3.WithPrefix())
	go func() {
		for resp := range watchCh {
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				handler(topic, ev.Kv.Value)
				f.metrics.RecordDeliver("etcd", topic)
			}
		}
	}()

	return subID, nil
}

func (f *EtcdFabric) Unsubscribe(_ context.Context, _ string, subID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel, ok := f.cancels[subID]; ok {
		cancel()
		delete(f.cancels, subID)
	}
	return nil
}

var _ Fabric = (*EtcdFabric)(nil)
