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
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/tradepipe/pkg/config"
	"github.com/kadirpekel/tradepipe/pkg/logger"
	"github.com/kadirpekel/tradepipe/pkg/utils"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Run a long-lived engine process."`
	Submit  SubmitCmd  `cmd:"" help:"Submit a new analysis task."`
	Pause   PauseCmd   `cmd:"" help:"Pause a running task."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a paused task."`
	Stop    StopCmd    `cmd:"" help:"Stop a running or paused task."`
	Status  StatusCmd  `cmd:"" help:"Show a task's current status."`
	History HistoryCmd `cmd:"" help:"Show a task's state-transition history."`
	Steps   StepsCmd   `cmd:"" help:"Show a task's generated step plan."`

	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// open loads configuration and builds a fully wired engine for a single
// subcommand invocation. The returned cleanup disconnects the message
// fabric; it does not wait for in-flight workers to finish — callers
// that must not return while a worker is still running (submit without
// --async, serve) call manager.Wait() themselves first.
func (c *CLI) open() (*engine, func(), error) {
	cfg, err := loadEngineConfig(c.Config)
	if err != nil {
		return nil, nil, err
	}
	if c.LogLevel != "" {
		cfg.Logger.Level = c.LogLevel
	}

	e, err := buildEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	return e, e.close, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("engine"),
		kong.Description("Stock-analysis orchestration engine"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	out := os.Stderr
	if cli.LogFile != "" {
		if err := utils.EnsureParentDir(cli.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to prepare log file directory: %v\n", err)
			os.Exit(1)
		}
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		out = f
	}
	logger.Init(level, out, cli.LogFormat)

	_ = config.LoadEnvFiles()

	err = ctx.Run(&cli)
	if err != nil {
		slog.Error("command failed", "error", err)
	}
	ctx.FatalIfErrorf(err)
}
