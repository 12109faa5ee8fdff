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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tradepipe/pkg/cache"
	"github.com/kadirpekel/tradepipe/pkg/checkpoint"
	"github.com/kadirpekel/tradepipe/pkg/config"
	"github.com/kadirpekel/tradepipe/pkg/control"
	"github.com/kadirpekel/tradepipe/pkg/messaging"
	"github.com/kadirpekel/tradepipe/pkg/statestore"
	"github.com/kadirpekel/tradepipe/pkg/task"
)

func newTestManager(t *testing.T, stages Stages) *Manager {
	t.Helper()

	store, err := statestore.New(&config.StateStoreConfig{Backend: "memory"}, nil)
	require.NoError(t, err)

	ctrl := control.NewManager(checkpoint.NewManager(&config.CheckpointConfig{Dir: t.TempDir()}), nil)
	fabric := messaging.NewMemoryFabric(nil)
	require.NoError(t, fabric.Connect(context.Background()))

	mgr, err := New(Config{
		Tasks:   task.NewInMemoryService(),
		Store:   store,
		Control: ctrl,
		Cache:   cache.New(0, 0),
		Fabric:  fabric,
		Stages:  stages,
	})
	require.NoError(t, err)
	return mgr
}

func fastStage(output map[string]any) StageFunc {
	return func(_ context.Context, _ *StageContext) (map[string]any, error) {
		return output, nil
	}
}

func TestStartTaskRunsToCompletion(t *testing.T) {
	stages := Stages{
		"market_analyst": fastStage(map[string]any{"verdict": "buy"}),
		"trader":         fastStage(map[string]any{"action": "buy"}),
	}
	mgr := newTestManager(t, stages)

	tk, err := mgr.StartTask(context.Background(), task.Params{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-30",
		Analysts:      []string{"market"},
		ResearchDepth: 1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tk.GetStatus() == task.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	snap := tk.Snapshot()
	assert.InDelta(t, 100.0, snap.Progress.Percentage, 0.01)
	assert.Contains(t, snap.Result, "market_analyst")
}

func TestStartTaskRejectsInvalidParams(t *testing.T) {
	mgr := newTestManager(t, nil)
	_, err := mgr.StartTask(context.Background(), task.Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrValidation)
}

func TestFatalStageFailsTask(t *testing.T) {
	stages := Stages{
		"market_analyst": func(_ context.Context, _ *StageContext) (map[string]any, error) {
			return nil, Fatal(errors.New("data source unreachable"))
		},
	}
	mgr := newTestManager(t, stages)

	tk, err := mgr.StartTask(context.Background(), task.Params{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-30",
		Analysts:      []string{"market"},
		ResearchDepth: 1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tk.GetStatus() == task.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, tk.Snapshot().Error, "data source unreachable")
}

func TestRecoverableStageContinuesPipeline(t *testing.T) {
	stages := Stages{
		"market_analyst": func(_ context.Context, _ *StageContext) (map[string]any, error) {
			return nil, Recoverable(errors.New("rate limited"))
		},
		"trader": fastStage(map[string]any{"action": "hold"}),
	}
	mgr := newTestManager(t, stages)

	tk, err := mgr.StartTask(context.Background(), task.Params{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-30",
		Analysts:      []string{"market"},
		ResearchDepth: 1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tk.GetStatus().IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, task.StatusCompleted, tk.GetStatus())
}

func TestPauseBlocksWorkerUntilResume(t *testing.T) {
	blockedInMarket := make(chan struct{})
	release := make(chan struct{})
	var traderRan atomic.Bool

	stages := Stages{
		"market_analyst": func(_ context.Context, _ *StageContext) (map[string]any, error) {
			close(blockedInMarket)
			<-release
			return map[string]any{"verdict": "buy"}, nil
		},
		"trader": func(_ context.Context, _ *StageContext) (map[string]any, error) {
			traderRan.Store(true)
			return map[string]any{"action": "buy"}, nil
		},
	}
	mgr := newTestManager(t, stages)

	tk, err := mgr.StartTask(context.Background(), task.Params{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-30",
		Analysts:      []string{"market"},
		ResearchDepth: 1,
	})
	require.NoError(t, err)

	<-blockedInMarket
	require.NoError(t, mgr.PauseTask(tk.ID))
	close(release)

	// market_analyst's output is still absorbed, but the worker must
	// block at the next step boundary rather than run trader.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, traderRan.Load(), "trader stage must not run while paused")
	assert.Equal(t, task.StatusPaused, tk.GetStatus())

	require.NoError(t, mgr.ResumeTask(tk.ID))

	require.Eventually(t, func() bool {
		return tk.GetStatus() == task.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, traderRan.Load())
}

func TestStopTaskHaltsBeforeNextStep(t *testing.T) {
	blockedInMarket := make(chan struct{})
	release := make(chan struct{})
	var traderRan atomic.Bool

	stages := Stages{
		"market_analyst": func(_ context.Context, _ *StageContext) (map[string]any, error) {
			close(blockedInMarket)
			<-release
			return map[string]any{"verdict": "buy"}, nil
		},
		"trader": func(_ context.Context, _ *StageContext) (map[string]any, error) {
			traderRan.Store(true)
			return map[string]any{"action": "buy"}, nil
		},
	}
	mgr := newTestManager(t, stages)

	tk, err := mgr.StartTask(context.Background(), task.Params{
		Symbol:        "AAPL",
		TradeDate:     "2026-07-30",
		Analysts:      []string{"market"},
		ResearchDepth: 1,
	})
	require.NoError(t, err)

	<-blockedInMarket
	require.NoError(t, mgr.StopTask(tk.ID))
	close(release)

	require.Eventually(t, func() bool {
		return tk.GetStatus().IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, task.StatusStopped, tk.GetStatus())
	assert.False(t, traderRan.Load(), "trader stage must not run after the task is stopped")
}

func TestReconcileOrphansFailsDeadTasks(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	tk, err := mgr.cfg.Tasks.Create(ctx, task.Params{Symbol: "AAPL"})
	require.NoError(t, err)
	require.NoError(t, tk.Transition(task.StatusRunning))

	require.NoError(t, mgr.ReconcileOrphans(ctx))

	assert.Equal(t, task.StatusFailed, tk.GetStatus())
	assert.Equal(t, "worker died", tk.Snapshot().Error)
}

func TestStartBatchReportsPerItemFailure(t *testing.T) {
	mgr := newTestManager(t, Stages{"market_analyst": fastStage(map[string]any{})})

	results := mgr.StartBatch(context.Background(), []task.Params{
		{Symbol: "AAPL", TradeDate: "2026-07-30", Analysts: []string{"market"}, ResearchDepth: 1},
		{},
	})

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}
