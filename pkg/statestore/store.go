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

// Package statestore persists the current state and append-only history
// of every task so that progress survives process restarts and can be
// queried by the control plane independently of the worker goroutine
// driving it.
package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/tradepipe/pkg/config"
)

// Backend is the storage abstraction the Store delegates to.
type Backend interface {
	SaveCurrent(ctx context.Context, taskID string, doc map[string]any) error
	LoadCurrent(ctx context.Context, taskID string) (map[string]any, error)
	AppendHistory(ctx context.Context, taskID string, doc map[string]any) error
	LoadHistory(ctx context.Context, taskID string) ([]map[string]any, error)
	ListCurrent(ctx context.Context) (map[string]map[string]any, error)
}

// Store is the State Store component: a thin, metrics-instrumented
// wrapper around a pluggable Backend.
type Store struct {
	backend Backend
	metrics storeMetrics
}

// storeMetrics is the subset of observability.Metrics the store needs,
// kept narrow so tests can supply a no-op implementation.
type storeMetrics interface {
	RecordStoreOp(backend, op string, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordStoreOp(string, string, error) {}

// New builds a Store from configuration, selecting and constructing the
// configured backend. For the etcd backend, a construction failure falls
// back to the file backend when FallbackToFile is set, per the engine's
// availability contract.
func New(cfg *config.StateStoreConfig, metrics storeMetrics) (*Store, error) {
	if cfg == nil {
		cfg = &config.StateStoreConfig{}
		cfg.SetDefaults()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	var backend Backend
	var err error

	switch cfg.Backend {
	case "", "file":
		backend = NewFileBackend(cfg.Dir)
	case "memory":
		backend = NewMemoryBackend()
	case "etcd":
		backend, err = NewEtcdBackend(cfg)
		if err != nil {
			if !cfg.FallbackToFile {
				return nil, fmt.Errorf("failed to connect to etcd state store: %w", err)
			}
			slog.Warn("etcd state store unavailable, falling back to file backend", "error", err)
			backend = NewFileBackend(cfg.Dir)
		}
	default:
		return nil, fmt.Errorf("unknown state store backend %q", cfg.Backend)
	}

	return &Store{backend: backend, metrics: metrics}, nil
}

// SaveCurrent persists the task's current-state document.
func (s *Store) SaveCurrent(ctx context.Context, taskID string, doc map[string]any) error {
	err := s.backend.SaveCurrent(ctx, taskID, doc)
	s.metrics.RecordStoreOp(s.backendName(), "save_current", err)
	if err != nil {
		slog.Warn("failed to save task state", "task_id", taskID, "error", err)
	}
	return err
}

// LoadCurrent retrieves the task's current-state document.
func (s *Store) LoadCurrent(ctx context.Context, taskID string) (map[string]any, error) {
	doc, err := s.backend.LoadCurrent(ctx, taskID)
	s.metrics.RecordStoreOp(s.backendName(), "load_current", err)
	return doc, err
}

// AppendHistory appends a snapshot to the task's history.
func (s *Store) AppendHistory(ctx context.Context, taskID string, doc map[string]any) error {
	err := s.backend.AppendHistory(ctx, taskID, doc)
	s.metrics.RecordStoreOp(s.backendName(), "append_history", err)
	if err != nil {
		slog.Warn("failed to append task history", "task_id", taskID, "error", err)
	}
	return err
}

// LoadHistory retrieves the task's full history, oldest first.
func (s *Store) LoadHistory(ctx context.Context, taskID string) ([]map[string]any, error) {
	hist, err := s.backend.LoadHistory(ctx, taskID)
	s.metrics.RecordStoreOp(s.backendName(), "load_history", err)
	return hist, err
}

// ListCurrent returns every task's current-state document, keyed by
// task ID. Used at startup to rehydrate the in-memory task index from
// whatever a prior process last persisted, so restart reconciliation
// has something to reconcile.
func (s *Store) ListCurrent(ctx context.Context) (map[string]map[string]any, error) {
	docs, err := s.backend.ListCurrent(ctx)
	s.metrics.RecordStoreOp(s.backendName(), "list_current", err)
	return docs, err
}

func (s *Store) backendName() string {
	switch s.backend.(type) {
	case *EtcdBackend:
		return "etcd"
	case *FileBackend:
		return "file"
	default:
		return "memory"
	}
}

const defaultDialTimeout = 5 * time.Second
