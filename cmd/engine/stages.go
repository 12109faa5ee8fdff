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

package main

import (
	"context"
	"time"

	"github.com/kadirpekel/tradepipe/pkg/runner"
)

// stageRegistry builds the engine's default Stages table. Each entry is
// an opaque placeholder: the runner only cares that a StageFunc returns
// output or an error, not how that output is produced. A real
// deployment replaces these with LLM-backed analyst/researcher/trader/
// risk-manager implementations; wiring those is outside this package.
func stageRegistry() runner.Stages {
	stages := runner.Stages{}
	for _, name := range []string{
		"market_analyst", "fundamentals_analyst", "news_analyst", "social_media_analyst",
		"bull_researcher", "bear_researcher",
		"trader",
		"risky_analyst", "safe_analyst", "neutral_analyst", "risk_manager", "risk_prompt",
		"signal_processor",
	} {
		stages[name] = placeholderStage(name)
	}
	return stages
}

// placeholderStage returns a StageFunc that simulates a small amount of
// work and reports a stub verdict, so the pipeline can be exercised
// end-to-end without a real agent behind it.
func placeholderStage(name string) runner.StageFunc {
	return func(ctx context.Context, sc *runner.StageContext) (map[string]any, error) {
		if err := sc.CheckControl(ctx); err != nil {
			return nil, err
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]any{
			"node":   name,
			"round":  sc.Round,
			"status": "stub",
		}, nil
	}
}
