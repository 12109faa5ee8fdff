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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/tradepipe/pkg/task"
)

// ValidateCmd loads and validates a configuration file, optionally
// printing the expanded configuration (defaults applied, env vars
// resolved) as YAML.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration."`
}

func (c *ValidateCmd) Run(*CLI) error {
	cfg, err := loadEngineConfig(c.Config)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	fmt.Println("configuration is valid")

	if c.PrintConfig {
		return yaml.NewEncoder(os.Stdout).Encode(cfg)
	}
	return nil
}

// SubmitCmd starts a new analysis task and, unless --async is set,
// blocks printing progress until the task reaches a terminal status.
type SubmitCmd struct {
	Symbol     string   `required:"" help:"Ticker symbol to analyze, e.g. AAPL."`
	Market     string   `name:"market" default:"us_equity" help:"Market type, e.g. us_equity, a_share."`
	TradeDate  string   `name:"trade-date" help:"Trade date (YYYY-MM-DD). Defaults to today."`
	Analysts   []string `help:"Analyst roles to run (comma-separated): market,fundamentals,news,social." default:"market"`
	Depth      int      `name:"depth" default:"1" help:"Research depth (0-3): controls debate rounds and risk panel size."`
	CacheReuse string   `name:"cache-reuse" help:"Override the default cache-reuse mode for this task (true, false, or a node list)."`
	Async      bool     `help:"Return immediately instead of waiting for completion."`
}

func (c *SubmitCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()

	params := task.Params{
		Symbol:        c.Symbol,
		MarketType:    c.Market,
		TradeDate:     c.TradeDate,
		Analysts:      splitAnalysts(c.Analysts),
		ResearchDepth: c.Depth,
	}
	if c.CacheReuse != "" {
		params.Extra = map[string]any{"cache_reuse": c.CacheReuse}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tk, err := e.manager.StartTask(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}
	fmt.Println(tk.ID)

	if c.Async {
		return nil
	}
	if err := waitForTerminal(ctx, e, tk.ID); err != nil {
		return err
	}
	return e.manager.Wait()
}

// splitAnalysts expands "market,news" into ["market","news"] while also
// accepting the kong-native repeated-flag form.
func splitAnalysts(analysts []string) []string {
	if len(analysts) != 1 {
		return analysts
	}
	return strings.Split(analysts[0], ",")
}

func waitForTerminal(ctx context.Context, e *engine, taskID string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := e.manager.GetTaskStatus(ctx, taskID)
			if err != nil {
				return err
			}
			fmt.Printf("\r%-10s %5.1f%%  %s", snap.Status, snap.Progress.Percentage, snap.CurrentStep.Name)
			if snap.Status.IsTerminal() {
				fmt.Println()
				return printSnapshot(snap)
			}
		}
	}
}

// PauseCmd requests a running task suspend at its next step boundary.
type PauseCmd struct {
	TaskID string `arg:"" help:"Task ID to pause."`
}

func (c *PauseCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()
	return e.manager.PauseTask(c.TaskID)
}

// ResumeCmd clears a pause on a paused task.
type ResumeCmd struct {
	TaskID string `arg:"" help:"Task ID to resume."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()
	return e.manager.ResumeTask(c.TaskID)
}

// StopCmd requests a running or paused task terminate.
type StopCmd struct {
	TaskID string `arg:"" help:"Task ID to stop."`
}

func (c *StopCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()
	return e.manager.StopTask(c.TaskID)
}

// StatusCmd prints a task's current state snapshot.
type StatusCmd struct {
	TaskID string `arg:"" help:"Task ID to inspect."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := e.manager.GetTaskStatus(context.Background(), c.TaskID)
	if err != nil {
		return err
	}
	return printSnapshot(snap)
}

// HistoryCmd prints a task's persisted step-transition history.
type HistoryCmd struct {
	TaskID string `arg:"" help:"Task ID to inspect."`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()

	history, err := e.manager.GetTaskHistory(context.Background(), c.TaskID)
	if err != nil {
		return err
	}
	return printJSON(history)
}

// StepsCmd prints a live task's generated step plan.
type StepsCmd struct {
	TaskID string `arg:"" help:"Task ID to inspect."`
}

func (c *StepsCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()

	steps, err := e.manager.GetTaskPlannedSteps(c.TaskID)
	if err != nil {
		return err
	}
	return printJSON(steps)
}

// ServeCmd runs a long-lived engine process: it reconciles any task left
// RUNNING or PAUSED by a prior process (a crash or restart), then blocks
// until interrupted so submit/pause/resume/stop issued against the same
// process can reach live workers.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	e, cleanup, err := cli.open()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	if err := e.manager.ReconcileOrphans(ctx); err != nil {
		return fmt.Errorf("failed to reconcile orphaned tasks: %w", err)
	}

	if e.metrics != nil && e.obs.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.metrics.Handler())
		metricsSrv := &http.Server{Addr: e.obs.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		defer metricsSrv.Close()
		fmt.Printf("engine: metrics listening on %s\n", e.obs.Addr)
	}

	fmt.Println("engine: ready")
	<-ctx.Done()
	fmt.Println("engine: shutting down, waiting for in-flight tasks...")
	return e.manager.Wait()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printSnapshot(snap task.Snapshot) error {
	return printJSON(snap)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
