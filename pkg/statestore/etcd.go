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
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kadirpekel/tradepipe/pkg/config"
)

// EtcdBackend stores task state in etcd, using keys
// "{prefix}current/{task_id}" and "{prefix}history/{task_id}". Since
// etcd has no native list type, history is stored as a single
// re-serialized JSON array on every append, mirroring the file backend's
// read-modify-write behavior against etcd instead of disk.
type EtcdBackend struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdBackend dials etcd using the given configuration.
func NewEtcdBackend(cfg *config.StateStoreConfig) (*EtcdBackend, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial etcd: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tasks/"
	}

	return &EtcdBackend{client: client, prefix: prefix}, nil
}

func (b *EtcdBackend) currentKey(taskID string) string {
	return b.prefix + "current/" + taskID
}

func (b *EtcdBackend) historyKey(taskID string) string {
	return b.prefix + "history/" + taskID
}

func (b *EtcdBackend) SaveCurrent(ctx context.Context, taskID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal current state: %w", err)
	}
	_, err = b.client.Put(ctx, b.currentKey(taskID), string(data))
	if err != nil {
		return fmt.Errorf("etcd put failed: %w", err)
	}
	return nil
}

func (b *EtcdBackend) LoadCurrent(ctx context.Context, taskID string) (map[string]any, error) {
	resp, err := b.client.Get(ctx, b.currentKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("etcd get failed: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("no current state for task %s", taskID)
	}
	var doc map[string]any
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	return doc, nil
}

func (b *EtcdBackend) AppendHistory(ctx context.Context, taskID string, doc map[string]any) error {
	history, err := b.LoadHistory(ctx, taskID)
	if err != nil {
		return err
	}
	history = append(history, doc)

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	_, err = b.client.Put(ctx, b.historyKey(taskID), string(data))
	if err != nil {
		return fmt.Errorf("etcd put failed: %w", err)
	}
	return nil
}

func (b *EtcdBackend) LoadHistory(ctx context.Context, taskID string) ([]map[string]any, error) {
	resp, err := b.client.Get(ctx, b.historyKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("etcd get failed: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var history []map[string]any
	if err := json.Unmarshal(resp.Kvs[0].Value, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return history, nil
}

// ListCurrent returns every task's current-state document, keyed by
// task ID, via a prefix scan over the "{prefix}current/" keyspace.
func (b *EtcdBackend) ListCurrent(ctx context.Context) (map[string]map[string]any, error) {
	resp, err := b.client.Get(ctx, b.prefix+"current/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd get failed: %w", err)
	}

	out := make(map[string]map[string]any, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		taskID := strings.TrimPrefix(string(kv.Key), b.prefix+"current/")
		var doc map[string]any
		if err := json.Unmarshal(kv.Value, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current state for %s: %w", taskID, err)
		}
		out[taskID] = doc
	}
	return out, nil
}

// Close releases the underlying etcd client connection.
func (b *EtcdBackend) Close() error {
	return b.client.Close()
}
