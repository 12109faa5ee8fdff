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

package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/tradepipe/pkg/cache"
	"github.com/kadirpekel/tradepipe/pkg/checkpoint"
	"github.com/kadirpekel/tradepipe/pkg/control"
	"github.com/kadirpekel/tradepipe/pkg/logger"
	"github.com/kadirpekel/tradepipe/pkg/messaging"
	"github.com/kadirpekel/tradepipe/pkg/progress"
	"github.com/kadirpekel/tradepipe/pkg/task"
)

// runWorker drives a single task from RUNNING to a terminal status. It
// owns the task for its entire lifetime: nothing else mutates e.task or
// e.tracker concurrently with this goroutine, except Pause/Resume
// requests serialized through the Control Manager.
func (m *Manager) runWorker(e *entry) {
	tk, tracker := e.task, e.tracker
	defer m.forget(tk.ID)
	ctx := context.Background()

	if err := tk.Transition(task.StatusRunning); err != nil {
		logger.TaskLogger(tk.ID).Warn("worker could not start task", "error", err)
		return
	}
	m.publishStatus(tk)
	m.persistCurrent(ctx, tk, tracker)
	m.persistHistory(ctx, e)

	steps := tracker.Steps()
	for _, step := range steps {
		if err := m.cfg.Control.WaitIfPaused(ctx, tk.ID); err != nil {
			m.finishStopped(ctx, e, err)
			return
		}
		if m.cfg.Control.ShouldStop(tk.ID) {
			m.finishStopped(ctx, e, control.ErrStopped)
			return
		}

		tracker.StartStep(step.Index)
		tk.SetCurrentStep(task.CurrentStep{Index: step.Index, Name: step.Name})
		m.publishProgress(tk, tracker)

		output, err := m.executeStep(ctx, tk, tracker, step)
		if err != nil {
			if errors.Is(err, control.ErrStopped) || errors.Is(err, context.Canceled) {
				m.finishStopped(ctx, e, err)
				return
			}

			var agentErr *AgentError
			recoverable := errors.As(err, &agentErr) && agentErr.Recoverable
			tracker.FailStep(step.Index, err.Error())

			if !recoverable {
				_ = tk.Fail(err.Error())
				m.publishStatus(tk)
				m.persistCurrent(ctx, tk, tracker)
				m.persistHistory(ctx, e)
				if m.cfg.Metrics != nil {
					m.cfg.Metrics.RecordStep(step.Name, "failed", 0)
				}
				return
			}

			logger.StepLogger(tk.ID, step.Name).Warn("stage failed but is recoverable, continuing pipeline", "error", err)
			output = map[string]any{"error": err.Error()}
		} else {
			tracker.CompleteStep(step.Index, "ok")
		}

		mergeResult(tk, step.Name, output)
		m.persistHistory(ctx, e)
		m.publishProgress(tk, tracker)
	}

	snapshot := tk.Snapshot()
	if err := tk.Complete(snapshot.Result); err != nil {
		logger.TaskLogger(tk.ID).Warn("worker could not mark task complete", "error", err)
		return
	}
	m.publishStatus(tk)
	m.persistCurrent(ctx, tk, tracker)
	m.persistHistory(ctx, e)
	m.cfg.Control.ClearCheckpoint(tk.ID)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTaskFinished(tk.Params.MarketType, string(task.StatusCompleted), tracker.EffectiveElapsed())
	}
}

func mergeResult(tk *task.Task, stepName string, output map[string]any) {
	tk.MergeResult(stepName, output)
}

// finishStopped transitions a task that exited its loop early because it
// was stopped (by request or by context cancellation upstream).
func (m *Manager) finishStopped(ctx context.Context, e *entry, cause error) {
	tk, tracker := e.task, e.tracker
	if err := tk.Transition(task.StatusStopped); err != nil {
		logger.TaskLogger(tk.ID).Warn("worker could not mark task stopped", "cause", cause, "error", err)
	}
	m.publishStatus(tk)
	m.persistCurrent(ctx, tk, tracker)
	m.persistHistory(ctx, e)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTaskFinished(tk.Params.MarketType, string(task.StatusStopped), tracker.EffectiveElapsed())
	}
}

// executeStep runs one generated step, serving a result-reuse cache hit
// when the task's cache-reuse configuration enables it for this step and
// a matching prior entry exists, and otherwise invoking the registered
// StageFunc (or synthesizing an empty output when none is registered,
// for fixed steps that only gate state).
func (m *Manager) executeStep(ctx context.Context, tk *task.Task, tracker *progress.Tracker, step progress.Step) (map[string]any, error) {
	if err := (&StageContext{TaskID: tk.ID, StepName: step.Name, control: m.cfg.Control}).CheckControl(ctx); err != nil {
		return nil, err
	}

	m.publishModule(tk, messaging.TopicModuleStart, step, "")

	if m.cfg.Cache != nil && cacheEnabledFor(tk.CacheReuseConfig, step.Name) {
		key := cacheKeyFor(tk.Params.Symbol, tk.Params.TradeDate, step.Name)
		if entry, ok := m.cfg.Cache.Lookup(key, tk.Params.ResearchDepth, tk.Params.Analysts, tk.Params.MarketType); ok {
			if err := m.cfg.Cache.EmulateDelay(ctx, tk.ID, m.cfg.Control); err != nil {
				m.publishModule(tk, messaging.TopicModuleError, step, err.Error())
				return nil, err
			}
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.RecordCacheHit(step.Name)
			}
			output := cache.Splice(entry, uuid.NewString(), tk.ID, step.Round)
			m.publishModule(tk, messaging.TopicModuleComplete, step, "")
			return output, nil
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordCacheMiss(step.Name)
		}
	}

	stage, ok := m.cfg.Stages[step.Name]
	if !ok {
		m.publishModule(tk, messaging.TopicModuleComplete, step, "")
		return map[string]any{}, nil
	}

	sc := &StageContext{TaskID: tk.ID, StepName: step.Name, Round: step.Round, control: m.cfg.Control}
	start := time.Now()
	output, err := stage(ctx, sc)
	if m.cfg.Metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.cfg.Metrics.RecordStep(step.Name, outcome, time.Since(start))
	}
	if err != nil {
		m.publishModule(tk, messaging.TopicModuleError, step, err.Error())
		return nil, fmt.Errorf("stage %s: %w", step.Name, err)
	}

	if m.cfg.Cache != nil && isCacheablePhase(step.Phase) {
		m.cfg.Cache.Store(&cache.Entry{
			Key:           cacheKeyFor(tk.Params.Symbol, tk.Params.TradeDate, step.Name),
			ResearchDepth: tk.Params.ResearchDepth,
			Analysts:      tk.Params.Analysts,
			MarketType:    tk.Params.MarketType,
			Output:        output,
			AnalysisID:    uuid.NewString(),
			SessionID:     tk.ID,
			CreatedAt:     time.Now(),
		})
	}

	m.publishModule(tk, messaging.TopicModuleComplete, step, "")
	return output, nil
}

// publishModule publishes a module-level lifecycle event (start,
// complete, or error) for a single step, on both the cache hit and
// cache miss paths, per the Message Fabric's module/* topic contract.
func (m *Manager) publishModule(tk *task.Task, topic string, step progress.Step, errMsg string) {
	if m.cfg.Fabric == nil {
		return
	}
	msg := messaging.ModuleMessage{
		TaskID:     tk.ID,
		ModuleName: step.Name,
		Round:      step.Round,
		Error:      errMsg,
		Timestamp:  time.Now(),
	}
	if err := messaging.PublishModule(context.Background(), m.cfg.Fabric, topic, msg); err != nil {
		logger.StepLogger(tk.ID, step.Name).Warn("failed to publish module event", "topic", topic, "error", err)
	}
}

// cacheEnabledFor reports whether the task's cache-reuse configuration
// enables reuse for stepName, honoring the "all" wildcard key that
// config.ParseCacheReuseMode sets for a bare "true" mode.
func cacheEnabledFor(cfg map[string]bool, stepName string) bool {
	return cfg["all"] || cfg[stepName]
}

// isCacheablePhase reports whether a step's output is worth storing for
// future reuse; fixed prep/signal/post steps gate state rather than
// producing analytical output and are excluded.
func isCacheablePhase(phase progress.Phase) bool {
	switch phase {
	case progress.PhaseAnalysis, progress.PhaseDebate, progress.PhaseTrading, progress.PhaseRisk:
		return true
	default:
		return false
	}
}

func (m *Manager) publishStatus(tk *task.Task) {
	if m.cfg.Fabric == nil {
		return
	}
	snap := tk.Snapshot()
	msg := messaging.StatusMessage{
		TaskID:    snap.ID,
		Status:    string(snap.Status),
		Error:     snap.Error,
		Timestamp: time.Now(),
	}
	if err := messaging.PublishStatus(context.Background(), m.cfg.Fabric, m.cfg.StatusTopic, msg); err != nil {
		logger.TaskLogger(snap.ID).Warn("failed to publish task status", "error", err)
	}
}

func (m *Manager) publishProgress(tk *task.Task, tracker *progress.Tracker) {
	snap := tracker.Progress()
	tk.UpdateProgress(task.Progress{
		CurrentStep: snap.CurrentStep,
		TotalSteps:  snap.TotalSteps,
		Percentage:  snap.Percentage,
		Message:     snap.Message,
		AnalysisStartTime: snap.StartTime,
	})
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetTaskProgress(tk.ID, snap.Percentage)
	}
	if m.cfg.Fabric == nil {
		return
	}
	msg := messaging.ProgressMessage{
		TaskID:     tk.ID,
		StepIndex:  snap.CurrentStep,
		TotalSteps: snap.TotalSteps,
		Percentage: snap.Percentage,
		Message:    snap.Message,
		Timestamp:  time.Now(),
	}
	if err := messaging.PublishProgress(context.Background(), m.cfg.Fabric, m.cfg.ProgressTopic, msg); err != nil {
		logger.TaskLogger(tk.ID).Warn("failed to publish task progress", "error", err)
	}
}

// persistCurrent writes the task's full current-state document, in the
// shape task.FromDoc expects, so a restarted process can rehydrate the
// task from whatever was last written here.
func (m *Manager) persistCurrent(ctx context.Context, tk *task.Task, tracker *progress.Tracker) {
	snap := tk.Snapshot()
	doc := map[string]any{
		"id":                 snap.ID,
		"status":             string(snap.Status),
		"symbol":             snap.Params.Symbol,
		"market_type":        snap.Params.MarketType,
		"trade_date":         snap.Params.TradeDate,
		"analysts":           snap.Params.Analysts,
		"research_depth":     snap.Params.ResearchDepth,
		"current_step":       snap.CurrentStep.Index,
		"current_step_name":  snap.CurrentStep.Name,
		"percentage":         snap.Progress.Percentage,
		"message":            snap.Progress.Message,
		"result":             snap.Result,
		"error":              snap.Error,
		"created_at":         snap.CreatedAt,
		"updated_at":         snap.UpdatedAt,
	}
	if err := m.cfg.Store.SaveCurrent(ctx, snap.ID, doc); err != nil {
		logger.TaskLogger(snap.ID).Warn("failed to persist current task state", "error", err)
	}
}

func (m *Manager) saveCheckpoint(e *entry) {
	snap := e.task.Snapshot()
	params := map[string]any{
		"symbol":         snap.Params.Symbol,
		"market_type":    snap.Params.MarketType,
		"trade_date":     snap.Params.TradeDate,
		"analysts":       snap.Params.Analysts,
		"research_depth": snap.Params.ResearchDepth,
	}
	state := checkpoint.New(snap.ID, string(snap.Status), snap.CurrentStep.Index, snap.CurrentStep.Name).
		WithParams(params).
		WithCacheReuse(e.task.CacheReuseConfig)
	m.cfg.Control.SaveCheckpoint(state, "pause")
}
