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

// Command engine is the CLI for the stock-analysis orchestration engine.
//
// Usage:
//
//	engine submit --symbol AAPL --market 美股 --analysts market,news --depth 1
//	engine pause|resume|stop <task-id>
//	engine status <task-id>
//	engine history <task-id>
//	engine steps <task-id>
package main

import (
	"context"
	"fmt"

	"github.com/kadirpekel/tradepipe/pkg/cache"
	"github.com/kadirpekel/tradepipe/pkg/checkpoint"
	"github.com/kadirpekel/tradepipe/pkg/config"
	"github.com/kadirpekel/tradepipe/pkg/control"
	"github.com/kadirpekel/tradepipe/pkg/messaging"
	"github.com/kadirpekel/tradepipe/pkg/observability"
	"github.com/kadirpekel/tradepipe/pkg/runner"
	"github.com/kadirpekel/tradepipe/pkg/statestore"
	"github.com/kadirpekel/tradepipe/pkg/task"
	"github.com/kadirpekel/tradepipe/pkg/utils"
)

// engine bundles a fully wired Task Manager with the pieces a subcommand
// needs to close down cleanly.
type engine struct {
	manager *runner.Manager
	metrics *observability.Metrics
	fabric  messaging.Fabric
	obs     config.ObservabilityConfig
}

// buildEngine wires every component named in the Task Manager's Config
// from a loaded config.Config, the way a single engine process (the
// `serve` subcommand, or a short-lived one-shot subcommand sharing the
// same file-backed state) assembles itself at startup.
func buildEngine(cfg *config.Config) (*engine, error) {
	if cfg.StateStore.Backend == "file" {
		if err := utils.EnsureDir(cfg.StateStore.Dir); err != nil {
			return nil, err
		}
	}
	if err := utils.EnsureDir(cfg.Checkpoint.Dir); err != nil {
		return nil, err
	}

	metrics, err := observability.NewMetrics(&observability.MetricsConfig{
		Enabled:   cfg.Observability.Enabled,
		Namespace: observability.DefaultServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics: %w", err)
	}

	store, err := statestore.New(&cfg.StateStore, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build state store: %w", err)
	}

	fabric, err := messaging.New(&cfg.MessageFabric, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build message fabric: %w", err)
	}
	if err := fabric.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect message fabric: %w", err)
	}

	checkpoints := checkpoint.NewManager(&cfg.Checkpoint)
	ctrl := control.NewManager(checkpoints, metrics)
	reuseCache := cache.New(cfg.CacheReuse.SleepMin, cfg.CacheReuse.SleepMax)

	mgr, err := runner.New(runner.Config{
		Tasks:         task.NewInMemoryService(),
		Store:         store,
		Control:       ctrl,
		Cache:         reuseCache,
		Fabric:        fabric,
		Checkpoints:   checkpoints,
		Metrics:       metrics,
		Stages:        stageRegistry(),
		CacheReuse:    cfg.CacheReuse,
		ProgressTopic: cfg.MessageFabric.ProgressTopic,
		StatusTopic:   cfg.MessageFabric.StatusTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build task manager: %w", err)
	}

	if err := mgr.Rehydrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to rehydrate persisted tasks: %w", err)
	}

	return &engine{manager: mgr, metrics: metrics, fabric: fabric, obs: cfg.Observability}, nil
}

// close disconnects the message fabric. The task manager's workers are
// drained by the caller via manager.Wait() before this runs.
func (e *engine) close() {
	if e.fabric != nil {
		_ = e.fabric.Disconnect(context.Background())
	}
}

// loadEngineConfig reads the engine's configuration the way cmd/hector
// does: a config file path plus CLI-level overrides, falling back to
// engine defaults when no file is given.
func loadEngineConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}

	cfg, err := config.LoadConfig(config.LoaderOptions{
		Type: config.ConfigTypeFile,
		Path: path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}
