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

// Package orchestrator executes the workflows of one selection file.
//
// One orchestrator process serves exactly one selection. Workflows run
// sequentially in selection order; a failed workflow is recorded and
// its siblings still run. The process exits non-zero only for faults
// that prevent orchestration itself, never for workflow failures.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/tombee/stagehand/internal/cliexec"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/ids"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
)

// SummaryTailLen caps the chat-facing digest extracted from workflow
// stdout.
const SummaryTailLen = 200

// Orchestrator runs the workflows of one selection.
type Orchestrator struct {
	dirs           state.Dirs
	registry       *registry.Registry
	runner         *cliexec.Runner
	store          *events.Store
	logger         *slog.Logger
	defaultTimeout time.Duration

	// progressInterval is the cadence of "waiting" progress updates
	// while the CLI runs.
	progressInterval time.Duration
}

// New creates an Orchestrator. store may be nil.
func New(dirs state.Dirs, reg *registry.Registry, runner *cliexec.Runner, store *events.Store, logger *slog.Logger, defaultTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		dirs:             dirs,
		registry:         reg,
		runner:           runner,
		store:            store,
		logger:           logger,
		defaultTimeout:   defaultTimeout,
		progressInterval: 5 * time.Second,
	}
}

// Run loads and executes the selection at path. The selection file is
// consumed (unlinked) once loaded. Only orchestrator-level faults
// return an error.
func (o *Orchestrator) Run(ctx context.Context, path string) error {
	var selection state.WorkflowSelection
	if err := state.ReadJSON(path, &selection); err != nil {
		return fmt.Errorf("failed to read selection: %w", err)
	}
	if err := selection.Validate(); err != nil {
		return fmt.Errorf("invalid selection: %w", err)
	}
	if err := o.dirs.EnsureLayout(); err != nil {
		return err
	}
	// Consume the selection up front; a crash mid-run must not cause a
	// re-execution on the next spawn.
	if err := state.Remove(path); err != nil {
		o.logger.Warn("failed to remove selection file", "file", path, log.Error(err))
	}

	logger := log.WithSession(
		log.WithCorrelationID(o.logger, selection.CorrelationID),
		selection.SessionID, selection.WorkspaceID)
	recorder := events.NewRecorder(o.store, logger, events.ComponentOrchestrator,
		selection.CorrelationID, selection.WorkspaceID, selection.SessionID)

	recorder.Record(ctx, events.SelectionReceived, map[string]any{
		"workflow_ids": selection.WorkflowIDs,
	})
	logger.Info("selection received", "workflows", selection.WorkflowIDs)

	completion := state.Completion{
		CorrelationID: selection.CorrelationID,
		SessionID:     selection.SessionID,
		WorkspaceID:   selection.WorkspaceID,
		Results:       make([]state.CompletionResult, 0, len(selection.WorkflowIDs)),
	}

	allOK := true
	for i, workflowID := range selection.WorkflowIDs {
		exec := o.runWorkflow(ctx, &selection, recorder, logger, workflowID, i, len(selection.WorkflowIDs))
		if exec.Status != state.StatusSuccess {
			allOK = false
		}

		file := o.dirs.ExecutionFile(selection.SessionID, selection.WorkspaceID, workflowID)
		if err := state.WriteJSON(file, exec); err != nil {
			logger.Error("failed to write execution record", "workflow", workflowID, log.Error(err))
		} else {
			recorder.Record(ctx, events.ExecutionCreated, map[string]any{
				"workflow_id":    workflowID,
				"execution_file": file,
			})
		}

		completion.Results = append(completion.Results, state.CompletionResult{
			WorkflowID:      exec.WorkflowID,
			WorkflowName:    exec.WorkflowName,
			Status:          exec.Status,
			DurationSeconds: exec.DurationSeconds,
			Summary:         exec.Summary,
		})
	}

	completion.Timestamp = state.Now()
	completionFile := o.dirs.CompletionFile(selection.SessionID, selection.WorkspaceID)
	if err := state.WriteJSON(completionFile, &completion); err != nil {
		return fmt.Errorf("failed to write completion: %w", err)
	}

	finalStatus := state.ProgressCompleted
	if !allOK {
		finalStatus = state.ProgressError
	}
	o.emitProgress(ctx, &selection, recorder, "", finalStatus, state.StageCompleted, 100, "all workflows finished")
	if err := state.Remove(o.dirs.ProgressFile(selection.SessionID, selection.WorkspaceID)); err != nil {
		logger.Warn("failed to remove progress file", log.Error(err))
	}

	logger.Info("orchestration finished", "workflows", len(completion.Results), "all_success", allOK)
	return nil
}

// runWorkflow executes one workflow end to end and always returns a
// full execution record, whatever failed.
func (o *Orchestrator) runWorkflow(ctx context.Context, sel *state.WorkflowSelection, recorder *events.Recorder, logger *slog.Logger, workflowID string, index, total int) *state.WorkflowExecution {
	startedAt := state.Now()
	exec := &state.WorkflowExecution{
		ExecutionID:   ids.NewExecutionID(),
		CorrelationID: sel.CorrelationID,
		SessionID:     sel.SessionID,
		WorkflowID:    workflowID,
		StartedAt:     startedAt,
	}
	fail := func(message string) *state.WorkflowExecution {
		exec.Status = state.StatusError
		exec.ExitCode = -1
		exec.CompletedAt = state.Now()
		exec.Summary = message
		logger.Error("workflow failed", "workflow", workflowID, "reason", message)
		return exec
	}

	base := float64(index) / float64(total) * 100
	span := 100 / float64(total)
	o.emitProgress(ctx, sel, recorder, workflowID, state.ProgressRunning, state.StageStarting, base, "starting "+workflowID)

	wf, ok := o.registry.Get(workflowID)
	if !ok {
		return fail(fmt.Sprintf("unknown workflow %q", workflowID))
	}
	exec.WorkflowName = wf.Name
	exec.Metadata = state.ExecutionMetadata{
		EstimatedDuration: wf.EstimatedDuration,
		RiskLevel:         wf.RiskLevel,
		Category:          wf.Category,
	}

	recorder.Record(ctx, events.WorkflowStarted, map[string]any{"workflow_id": workflowID})

	o.emitProgress(ctx, sel, recorder, workflowID, state.ProgressRunning, state.StageRendering, base+span*0.1, "rendering prompt")
	prompt, err := RenderPrompt(wf, sel)
	if err != nil {
		exec.CompletedAt = state.Now()
		result := fail(fmt.Sprintf("template error: %v", err))
		recorder.Record(ctx, events.WorkflowCompleted, map[string]any{
			"workflow_id": workflowID,
			"status":      result.Status,
		})
		return result
	}
	recorder.Record(ctx, events.TemplateRendered, map[string]any{
		"workflow_id": workflowID,
		"prompt_len":  len(prompt),
	})

	timeout := o.defaultTimeout
	if wf.TimeoutSeconds > 0 {
		timeout = time.Duration(wf.TimeoutSeconds) * time.Second
	}

	recorder.Record(ctx, events.ClaudeCLIStarted, map[string]any{
		"workflow_id": workflowID,
		"timeout":     timeout.String(),
	})
	o.emitProgress(ctx, sel, recorder, workflowID, state.ProgressRunning, state.StageExecuting, base+span*0.2, "running "+wf.Name)

	stopTicker := o.startWaitTicker(ctx, sel, recorder, workflowID, wf.Name, base+span*0.2)
	result, runErr := o.runner.Run(ctx, sel.WorkspacePath, prompt, timeout)
	stopTicker()

	if runErr != nil {
		recorder.Record(ctx, events.ClaudeCLICompleted, map[string]any{
			"workflow_id": workflowID,
			"error":       runErr.Error(),
		})
		res := fail(fmt.Sprintf("failed to start CLI: %v", runErr))
		recorder.Record(ctx, events.WorkflowCompleted, map[string]any{
			"workflow_id": workflowID,
			"status":      res.Status,
		})
		return res
	}

	exec.ExitCode = result.ExitCode
	exec.DurationSeconds = result.Duration.Seconds()
	exec.Stdout = result.Stdout
	exec.Stderr = result.Stderr
	exec.CompletedAt = state.Now()

	switch {
	case result.TimedOut:
		exec.Status = state.StatusTimeout
		exec.Summary = fmt.Sprintf("timed out after %s", timeout)
	case result.ExitCode == 0:
		exec.Status = state.StatusSuccess
		exec.Summary = state.TailSummary(result.Stdout, SummaryTailLen)
	default:
		exec.Status = state.StatusError
		exec.Summary = state.TailSummary(result.Stderr, SummaryTailLen)
		if exec.Summary == "" {
			exec.Summary = fmt.Sprintf("exit code %d", result.ExitCode)
		}
	}

	recorder.Record(ctx, events.ClaudeCLICompleted, map[string]any{
		"workflow_id": workflowID,
		"exit_code":   result.ExitCode,
		"timed_out":   result.TimedOut,
	})
	recorder.Record(ctx, events.WorkflowCompleted, map[string]any{
		"workflow_id": workflowID,
		"status":      exec.Status,
		"duration":    result.Duration.String(),
	})
	o.emitProgress(ctx, sel, recorder, workflowID, state.ProgressRunning, state.StageCompleted, base+span, wf.Name+" "+exec.Status)

	logger.Info("workflow finished",
		"workflow", workflowID,
		"status", exec.Status,
		"exit_code", exec.ExitCode,
		"duration_seconds", exec.DurationSeconds)
	return exec
}

// startWaitTicker emits periodic "waiting" progress while the CLI runs
// so the chat message keeps moving during long executions. The returned
// func stops the ticker.
func (o *Orchestrator) startWaitTicker(ctx context.Context, sel *state.WorkflowSelection, recorder *events.Recorder, workflowID, name string, percent float64) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.progressInterval)
		defer ticker.Stop()
		started := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(started).Round(time.Second)
				o.emitProgress(ctx, sel, recorder, workflowID,
					state.ProgressRunning, state.StageWaiting, percent,
					fmt.Sprintf("%s running for %s", name, elapsed))
			}
		}
	}()
	return func() { close(done) }
}

// emitProgress overwrites the per-session progress file atomically.
// Progress is observational; a failed write is logged and ignored.
func (o *Orchestrator) emitProgress(ctx context.Context, sel *state.WorkflowSelection, recorder *events.Recorder, workflowID, status, stage string, percent float64, message string) {
	update := state.ProgressUpdate{
		WorkspaceID:     sel.WorkspaceID,
		SessionID:       sel.SessionID,
		WorkflowID:      workflowID,
		Status:          status,
		Stage:           stage,
		ProgressPercent: percent,
		Message:         message,
		Timestamp:       state.Now(),
	}
	file := o.dirs.ProgressFile(sel.SessionID, sel.WorkspaceID)
	if err := state.WriteJSON(file, &update); err != nil {
		o.logger.Warn("failed to write progress", log.Error(err))
		return
	}
	recorder.Record(ctx, events.ProgressEmitted, map[string]any{
		"workflow_id": workflowID,
		"stage":       stage,
	})
}

// promptData is the template environment for prompt_template. Field
// names mirror the summary's JSON keys in exported form.
type promptData struct {
	WorkspacePath string
	SessionID     string
	CorrelationID string
	GitStatus     state.GitStatus
	LycheeStatus  state.LycheeStatus
	UserPrompt    string
	LastResponse  string
}

// RenderPrompt renders a workflow's prompt template against the
// selection's embedded summary. Unknown fields are render-time errors.
func RenderPrompt(wf *registry.Workflow, sel *state.WorkflowSelection) (string, error) {
	tmpl, err := template.New(wf.ID).Option("missingkey=error").Parse(wf.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	data := promptData{
		WorkspacePath: sel.WorkspacePath,
		SessionID:     sel.SessionID,
		CorrelationID: sel.CorrelationID,
		GitStatus:     sel.SummaryData.GitStatus,
		LycheeStatus:  sel.SummaryData.LycheeStatus,
		UserPrompt:    sel.SummaryData.UserPrompt,
		LastResponse:  sel.SummaryData.LastResponse,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt template: %w", err)
	}
	return buf.String(), nil
}
