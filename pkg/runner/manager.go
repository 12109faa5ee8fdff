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

// Package runner implements the Task Manager / Pipeline Runner: the
// component that owns a task's worker goroutine from submission through
// a terminal status, mediating every access to the Task State Machine,
// Progress Tracker, Control Manager, Result-Reuse Cache, and Message
// Fabric on its behalf.
package runner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/tradepipe/pkg/cache"
	"github.com/kadirpekel/tradepipe/pkg/checkpoint"
	"github.com/kadirpekel/tradepipe/pkg/config"
	"github.com/kadirpekel/tradepipe/pkg/control"
	"github.com/kadirpekel/tradepipe/pkg/logger"
	"github.com/kadirpekel/tradepipe/pkg/messaging"
	"github.com/kadirpekel/tradepipe/pkg/observability"
	"github.com/kadirpekel/tradepipe/pkg/progress"
	"github.com/kadirpekel/tradepipe/pkg/statestore"
	"github.com/kadirpekel/tradepipe/pkg/task"
)

// Stages maps a generated step's name to the opaque callback that
// executes it. A step with no matching entry is treated as a no-op
// (useful for fixed prep/post steps that only gate state, not logic).
type Stages map[string]StageFunc

// Config configures a Manager.
type Config struct {
	Tasks       task.Service
	Store       *statestore.Store
	Control     *control.Manager
	Cache       *cache.Cache
	Fabric      messaging.Fabric
	Checkpoints *checkpoint.Manager
	Metrics     *observability.Metrics
	Stages      Stages

	CacheReuse    config.CacheReuseConfig
	ProgressTopic string
	StatusTopic   string
}

// entry tracks a single task's live worker-side state.
type entry struct {
	task    *task.Task
	tracker *progress.Tracker

	historyMu        sync.Mutex
	historyPersisted int
}

// Manager is the Task Manager.
type Manager struct {
	cfg Config
	mu  sync.Mutex
	live map[string]*entry
	wg   errgroup.Group
}

// New creates a Manager from Config.
func New(cfg Config) (*Manager, error) {
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task service is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Control == nil {
		return nil, fmt.Errorf("control manager is required")
	}
	if cfg.ProgressTopic == "" {
		cfg.ProgressTopic = messaging.TopicTaskProgress
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = messaging.TopicTaskStatus
	}
	return &Manager{cfg: cfg, live: make(map[string]*entry)}, nil
}

// StartTask validates params, creates a task record, and spawns its
// worker goroutine. Validation failures return synchronously and never
// produce a task record.
func (m *Manager) StartTask(ctx context.Context, params task.Params) (*task.Task, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	tk, err := m.cfg.Tasks.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if params.Extra != nil {
		if mode, ok := params.Extra["cache_reuse"].(string); ok {
			tk.CacheReuseConfig = config.ParseCacheReuseMode(mode)
		}
	}
	if tk.CacheReuseConfig == nil {
		tk.CacheReuseConfig = config.ParseCacheReuseMode(m.cfg.CacheReuse.Mode)
	}

	tracker := progress.New(params.Analysts, params.ResearchDepth)

	e := &entry{task: tk, tracker: tracker}
	m.mu.Lock()
	m.live[tk.ID] = e
	m.mu.Unlock()

	m.cfg.Control.Register(tk.ID)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTaskStarted(params.MarketType)
	}

	m.wg.Go(func() error {
		m.runWorker(e)
		return nil
	})

	return tk, nil
}

func validateParams(p task.Params) error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", task.ErrValidation)
	}
	if len(p.Analysts) == 0 {
		return fmt.Errorf("%w: at least one analyst is required", task.ErrValidation)
	}
	if p.ResearchDepth < 0 {
		return fmt.Errorf("%w: research_depth must be non-negative", task.ErrValidation)
	}
	return nil
}

// PauseTask requests a running task suspend at its next step boundary.
// A no-op on an already-paused task (reported by the control manager)
// still transitions cleanly; only a lookup or control-manager error is
// returned.
func (m *Manager) PauseTask(taskID string) error {
	e, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	changed, err := m.cfg.Control.Pause(taskID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.tracker.MarkPaused()
	_ = e.task.Transition(task.StatusPaused)
	m.persistHistory(context.Background(), e)
	if m.cfg.Checkpoints != nil && m.cfg.Checkpoints.SaveOnPause() {
		m.saveCheckpoint(e)
	}
	return nil
}

// ResumeTask clears a pause on a paused task. Rejects with
// control.ErrStopped if the task has already been stopped.
func (m *Manager) ResumeTask(taskID string) error {
	e, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	changed, err := m.cfg.Control.Resume(taskID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.tracker.MarkResumed()
	_ = e.task.Transition(task.StatusRunning)
	m.persistHistory(context.Background(), e)
	return nil
}

// StopTask requests a running or paused task terminate.
func (m *Manager) StopTask(taskID string) error {
	_, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	return m.cfg.Control.Stop(taskID)
}

// GetTaskStatus returns a snapshot of the task's current state.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID string) (task.Snapshot, error) {
	tk, err := m.cfg.Tasks.Get(ctx, taskID)
	if err != nil {
		return task.Snapshot{}, err
	}
	return tk.Snapshot(), nil
}

// GetTaskHistory returns the task's persisted state-transition history.
func (m *Manager) GetTaskHistory(ctx context.Context, taskID string) ([]map[string]any, error) {
	return m.cfg.Store.LoadHistory(ctx, taskID)
}

// GetTaskPlannedSteps returns the generated step list for a live task.
func (m *Manager) GetTaskPlannedSteps(taskID string) ([]progress.Step, error) {
	e, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	return e.tracker.Steps(), nil
}

// GetTaskCurrentStep returns the most recent step-history entry for a
// live task.
func (m *Manager) GetTaskCurrentStep(taskID string) (progress.StepHistoryEntry, error) {
	e, err := m.lookup(taskID)
	if err != nil {
		return progress.StepHistoryEntry{}, err
	}
	history := e.tracker.History()
	if len(history) == 0 {
		return progress.StepHistoryEntry{}, fmt.Errorf("task %s has not started any step", taskID)
	}
	return history[len(history)-1], nil
}

// persistHistory appends any task-state snapshots recorded since the
// last call to the state store's history ledger. Snapshots are the
// Task State Machine's pre-mutation copies (task.Snapshot), distinct
// from the Progress Tracker's per-step execution ledger.
func (m *Manager) persistHistory(ctx context.Context, e *entry) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	states := e.task.GetHistoryStates()
	for _, snap := range states[e.historyPersisted:] {
		if err := m.cfg.Store.AppendHistory(ctx, snap.ID, snapshotDoc(snap)); err != nil {
			logger.TaskLogger(snap.ID).Warn("failed to append task history", "error", err)
		}
	}
	e.historyPersisted = len(states)
}

// snapshotDoc converts a task.Snapshot into the document shape
// persisted to the state store's history ledger.
func snapshotDoc(snap task.Snapshot) map[string]any {
	return map[string]any{
		"id":                 snap.ID,
		"status":             string(snap.Status),
		"created_at":         snap.CreatedAt,
		"updated_at":         snap.UpdatedAt,
		"symbol":             snap.Params.Symbol,
		"market_type":        snap.Params.MarketType,
		"trade_date":         snap.Params.TradeDate,
		"analysts":           snap.Params.Analysts,
		"research_depth":     snap.Params.ResearchDepth,
		"current_step":       snap.CurrentStep.Index,
		"current_step_name":  snap.CurrentStep.Name,
		"percentage":         snap.Progress.Percentage,
		"result":             snap.Result,
		"error":              snap.Error,
	}
}

func (m *Manager) lookup(taskID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s is not live", taskID)
	}
	return e, nil
}

func (m *Manager) forget(taskID string) {
	m.mu.Lock()
	delete(m.live, taskID)
	m.mu.Unlock()
	m.cfg.Control.Unregister(taskID)
}

// BatchResult is one item's outcome from StartBatch.
type BatchResult struct {
	Params task.Params
	Task   *task.Task
	Err    error
}

// StartBatch submits every item independently; a per-item failure does
// not prevent the rest of the batch from starting.
func (m *Manager) StartBatch(ctx context.Context, items []task.Params) []BatchResult {
	results := make([]BatchResult, len(items))
	for i, params := range items {
		tk, err := m.StartTask(ctx, params)
		results[i] = BatchResult{Params: params, Task: tk, Err: err}
	}
	return results
}

// Rehydrate loads every task the state store has a current-state
// document for and restores it into the in-memory task index, so that
// GetTaskStatus and ReconcileOrphans see a prior process's tasks after
// a restart instead of an empty index. Call once at startup, before
// ReconcileOrphans.
func (m *Manager) Rehydrate(ctx context.Context) error {
	docs, err := m.cfg.Store.ListCurrent(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted tasks: %w", err)
	}

	for id, doc := range docs {
		tk, err := task.FromDoc(doc)
		if err != nil {
			logger.TaskLogger(id).Warn("failed to rehydrate persisted task", "error", err)
			continue
		}
		if err := m.cfg.Tasks.Restore(ctx, tk); err != nil {
			logger.TaskLogger(id).Warn("failed to restore rehydrated task", "error", err)
		}
	}
	return nil
}

// ReconcileOrphans transitions any task whose persisted status is
// RUNNING or PAUSED but has no live worker (e.g. after a process
// restart) to FAILED, publishing a status update. Call once at startup
// before accepting new submissions.
func (m *Manager) ReconcileOrphans(ctx context.Context) error {
	all, err := m.cfg.Tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks for reconciliation: %w", err)
	}

	for _, tk := range all {
		status := tk.GetStatus()
		if status != task.StatusRunning && status != task.StatusPaused {
			continue
		}
		m.mu.Lock()
		_, live := m.live[tk.ID]
		m.mu.Unlock()
		if live {
			continue
		}

		if err := tk.Fail("worker died"); err != nil {
			logger.TaskLogger(tk.ID).Warn("failed to mark orphaned task as failed", "error", err)
			continue
		}
		for _, snap := range tk.GetHistoryStates() {
			if err := m.cfg.Store.AppendHistory(ctx, snap.ID, snapshotDoc(snap)); err != nil {
				logger.TaskLogger(snap.ID).Warn("failed to append orphaned task history", "error", err)
			}
		}
		m.publishStatus(tk)
		logger.TaskLogger(tk.ID).Warn("reconciled orphaned task", "previous_status", status)
	}
	return nil
}

// Wait blocks until every worker goroutine started by this Manager has
// returned, for use during graceful shutdown.
func (m *Manager) Wait() error {
	return m.wg.Wait()
}
