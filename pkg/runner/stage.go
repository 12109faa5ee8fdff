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

	"github.com/kadirpekel/tradepipe/pkg/cache"
	"github.com/kadirpekel/tradepipe/pkg/control"
)

// StageFunc is the opaque callback a pipeline stage (an analyst,
// researcher, trader, or risk node) implements. The runner never looks
// inside it; it only reacts to the returned output or error.
type StageFunc func(ctx context.Context, sc *StageContext) (map[string]any, error)

// StageContext is handed to a StageFunc so it can report progress and
// cooperate with cancellation without importing the runner package.
type StageContext struct {
	TaskID   string
	StepName string
	Round    int

	control *control.Manager
}

// CheckControl blocks while the task is paused and returns a non-nil
// error if the task has been stopped, so a long-running stage can
// cooperate with cancellation mid-execution rather than only at its
// own entry/exit.
func (sc *StageContext) CheckControl(ctx context.Context) error {
	if sc.control == nil {
		return nil
	}
	if err := sc.control.WaitIfPaused(ctx, sc.TaskID); err != nil {
		return err
	}
	if sc.control.ShouldStop(sc.TaskID) {
		return control.ErrStopped
	}
	return nil
}

// AgentError carries whether a stage failure should be absorbed (with a
// synthesized placeholder output so the pipeline continues) or should
// fail the whole task.
type AgentError struct {
	Err         error
	Recoverable bool
}

func (e *AgentError) Error() string { return e.Err.Error() }
func (e *AgentError) Unwrap() error  { return e.Err }

// Recoverable builds a recoverable AgentError.
func Recoverable(err error) *AgentError {
	return &AgentError{Err: err, Recoverable: true}
}

// Fatal builds a non-recoverable AgentError.
func Fatal(err error) *AgentError {
	return &AgentError{Err: err, Recoverable: false}
}

// cacheKeyFor builds a cache.Key for a given task + step.
func cacheKeyFor(ticker, tradeDate, stepName string) cache.Key {
	return cache.Key{Ticker: ticker, TradeDate: tradeDate, NodeName: stepName}
}
