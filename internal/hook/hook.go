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

// Package hook emits the session summary when a coding session ends.
//
// The hook is a one-shot process on the session teardown path, so it is
// fail-open everywhere except the summary write itself: a broken
// validator, a non-repo workspace, or a missing duration marker all
// degrade into summary fields rather than a non-zero exit.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/gitinfo"
	"github.com/tombee/stagehand/internal/ids"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/lychee"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
)

// Options carries the per-invocation inputs.
type Options struct {
	// SessionID identifies the ended session. Required.
	SessionID string

	// WorkspacePath is the session's working directory. Required.
	WorkspacePath string

	// UserPrompt and LastResponse are the final conversation exchange,
	// already extracted from the transcript. Either may be empty.
	UserPrompt   string
	LastResponse string
}

// Emitter assembles and writes one session summary.
type Emitter struct {
	dirs     state.Dirs
	registry *registry.Registry
	lychee   *lychee.Runner
	store    *events.Store
	logger   *slog.Logger

	// ensureBot starts a detached bot process. Injectable for tests.
	ensureBot func() error
}

// New creates an Emitter. store may be nil; event logging is
// best-effort.
func New(dirs state.Dirs, reg *registry.Registry, ly *lychee.Runner, store *events.Store, logger *slog.Logger) *Emitter {
	e := &Emitter{
		dirs:     dirs,
		registry: reg,
		lychee:   ly,
		store:    store,
		logger:   logger,
	}
	e.ensureBot = e.spawnBot
	return e
}

// Run emits the summary for one ended session and makes sure a bot is
// around to consume it. Only a failed summary write returns an error.
func (e *Emitter) Run(ctx context.Context, opts Options) (*state.SessionSummary, error) {
	if opts.SessionID == "" || opts.WorkspacePath == "" {
		return nil, fmt.Errorf("hook requires session id and workspace path")
	}

	correlationID := ids.NewCorrelationID()
	workspaceID := ids.WorkspaceHash(opts.WorkspacePath)
	logger := log.WithSession(log.WithCorrelationID(e.logger, correlationID), opts.SessionID, workspaceID)

	recorder := events.NewRecorder(e.store, logger, events.ComponentHook, correlationID, workspaceID, opts.SessionID)
	recorder.Record(ctx, events.HookStarted, map[string]any{
		"workspace_path": opts.WorkspacePath,
	})

	duration := e.consumeDuration(opts.SessionID, logger)
	lycheeStatus := e.lychee.Run(ctx, opts.WorkspacePath)
	git := gitinfo.Collect(ctx, opts.WorkspacePath)

	summary := &state.SessionSummary{
		CorrelationID:   correlationID,
		SessionID:       opts.SessionID,
		WorkspacePath:   opts.WorkspacePath,
		WorkspaceID:     workspaceID,
		Timestamp:       state.Now(),
		DurationSeconds: duration,
		GitStatus: state.GitStatus{
			Branch:         git.Branch,
			ModifiedFiles:  git.ModifiedFiles,
			UntrackedFiles: git.UntrackedFiles,
			StagedFiles:    git.StagedFiles,
			AheadCommits:   git.AheadCommits,
			BehindCommits:  git.BehindCommits,
		},
		LycheeStatus: lycheeStatus,
		UserPrompt:   state.TruncateCapture(opts.UserPrompt),
		LastResponse: state.TruncateCapture(opts.LastResponse),
	}
	summary.AvailableWorkflows = e.registry.Eligible(summary)

	if err := e.dirs.EnsureLayout(); err != nil {
		return nil, err
	}
	summaryFile := e.dirs.SummaryFile(opts.SessionID, workspaceID)
	if err := state.WriteJSON(summaryFile, summary); err != nil {
		return nil, fmt.Errorf("failed to write session summary: %w", err)
	}
	logger.Info("session summary written",
		"file", summaryFile,
		"duration_seconds", duration,
		"workflows", len(summary.AvailableWorkflows))

	// hook.completed marks the end of collection; summary.created marks
	// the summary's visibility to the bot, so it comes last.
	recorder.Record(ctx, events.HookCompleted, nil)
	recorder.Record(ctx, events.SummaryCreated, map[string]any{
		"error_count":  lycheeStatus.ErrorCount,
		"summary_file": summaryFile,
	})

	if err := e.EnsureBotRunning(); err != nil {
		// The summary is on disk; the next bot start will pick it up
		// from the backlog scan.
		logger.Warn("failed to ensure bot is running", log.Error(err))
	}

	return summary, nil
}

// consumeDuration reads and unlinks the session start marker. The
// marker holds either a Unix-seconds value or an RFC 3339 timestamp.
// A missing or malformed marker yields zero.
func (e *Emitter) consumeDuration(sessionID string, logger *slog.Logger) float64 {
	path := e.dirs.SessionTimestampFile(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("session start marker missing, duration unknown", "file", path)
		return 0
	}
	defer os.Remove(path)

	raw := strings.TrimSpace(string(data))
	var start time.Time
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		start = time.Unix(int64(secs), 0)
	} else if t, err := time.Parse(time.RFC3339, raw); err == nil {
		start = t
	} else {
		logger.Warn("session start marker malformed", "file", path, "value", raw)
		return 0
	}

	duration := time.Since(start).Seconds()
	if duration < 0 {
		return 0
	}
	return duration
}

// WriteStartMarker records the session start time. Called by the
// session-start hook; the stop hook consumes the marker.
func WriteStartMarker(dirs state.Dirs, sessionID string) error {
	if err := dirs.EnsureLayout(); err != nil {
		return err
	}
	value := strconv.FormatInt(time.Now().Unix(), 10) + "\n"
	return os.WriteFile(dirs.SessionTimestampFile(sessionID), []byte(value), 0o644)
}
