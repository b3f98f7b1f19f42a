// Copyright 2025 Tom Barlow
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

// Package cliexec runs the headless coding CLI as a subprocess.
//
// The prompt travels on stdin so arbitrary text never hits argv or the
// shell. Output capture is bounded; a runaway process cannot balloon
// the execution record.
package cliexec

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/tombee/stagehand/internal/state"
)

// DefaultKillDelay is how long a timed-out process gets to exit after
// SIGTERM before SIGKILL.
const DefaultKillDelay = 5 * time.Second

// ErrEmptyCommand is returned when the runner is configured with no
// argv.
var ErrEmptyCommand = errors.New("cliexec: empty command")

// Result describes one finished subprocess run. Stdout and Stderr are
// already truncated to the capture ceiling.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Runner executes a fixed argv with per-run working directory, prompt,
// and timeout.
type Runner struct {
	command   []string
	killDelay time.Duration
	logger    *slog.Logger
}

// New creates a Runner for the given argv.
func New(command []string, logger *slog.Logger) *Runner {
	return &Runner{
		command:   command,
		killDelay: DefaultKillDelay,
		logger:    logger,
	}
}

// Run executes the command in dir with prompt on stdin, bounded by
// timeout. A timeout is not an error: the result carries TimedOut and
// whatever output was captured. The error return is reserved for
// failures to start at all.
func (r *Runner) Run(ctx context.Context, dir, prompt string, timeout time.Duration) (*Result, error) {
	if len(r.command) == 0 {
		return nil, ErrEmptyCommand
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.command[0], r.command[1:]...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewBufferString(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On context cancellation ask politely first; WaitDelay escalates
	// to SIGKILL if the process ignores SIGTERM.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killDelay

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   state.TruncateCapture(stdout.String()),
		Stderr:   state.TruncateCapture(stderr.String()),
		Duration: duration,
		TimedOut: runCtx.Err() != nil && ctx.Err() == nil,
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case result.TimedOut:
		result.ExitCode = -1
		if r.logger != nil {
			r.logger.Warn("subprocess timed out",
				"command", r.command[0], "timeout", timeout.String())
		}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Never started: missing binary, bad dir.
			return nil, err
		}
	}

	if r.logger != nil {
		r.logger.Debug("subprocess finished",
			"command", r.command[0],
			"exit_code", result.ExitCode,
			"duration", duration.String(),
			"timed_out", result.TimedOut)
	}
	return result, nil
}
