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

// Package state defines the JSON state-file protocol that connects the
// hook, the bot, and the orchestrator.
//
// Every state file has exactly one producer and one consumer. The
// producer writes it atomically (temp file + fsync + rename on the same
// filesystem) and the consumer unlinks it after successful processing.
// Timestamps are RFC 3339 UTC with an explicit Z suffix.
package state

import (
	"errors"
	"fmt"
	"time"
)

// TimeFormat is the wire format for all state-file timestamps.
const TimeFormat = time.RFC3339

// Now returns the current time formatted for state files.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// GitStatus captures the git state of a workspace at session end.
// A non-repo workspace carries Branch "unknown" and zero counts.
type GitStatus struct {
	Branch         string `json:"branch"`
	ModifiedFiles  int    `json:"modified_files"`
	UntrackedFiles int    `json:"untracked_files"`
	StagedFiles    int    `json:"staged_files"`
	AheadCommits   int    `json:"ahead_commits"`
	BehindCommits  int    `json:"behind_commits"`
}

// LycheeStatus captures the outcome of the content validator run.
// Validator crashes are surfaced as errors (Ran true, ErrorCount > 0),
// never swallowed.
type LycheeStatus struct {
	Ran         bool   `json:"ran"`
	ErrorCount  int    `json:"error_count"`
	Details     string `json:"details"`
	ResultsFile string `json:"results_file"`
}

// SessionSummary is the hook's complete context snapshot for one ended
// session. It is the sole input to the bot's workflow menu.
type SessionSummary struct {
	CorrelationID      string       `json:"correlation_id"`
	SessionID          string       `json:"session_id"`
	WorkspacePath      string       `json:"workspace_path"`
	WorkspaceID        string       `json:"workspace_id"`
	Timestamp          string       `json:"timestamp"`
	DurationSeconds    float64      `json:"duration_seconds"`
	GitStatus          GitStatus    `json:"git_status"`
	LycheeStatus       LycheeStatus `json:"lychee_status"`
	AvailableWorkflows []string     `json:"available_workflows"`
	UserPrompt         string       `json:"user_prompt"`
	LastResponse       string       `json:"last_response"`
}

// Validate checks the required SessionSummary fields.
func (s *SessionSummary) Validate() error {
	var missing []string
	if s.CorrelationID == "" {
		missing = append(missing, "correlation_id")
	}
	if s.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if s.WorkspacePath == "" {
		missing = append(missing, "workspace_path")
	}
	if s.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("session summary missing required fields: %v", missing)
	}
	return nil
}

// SelectionType identifies the bot-to-orchestrator protocol in use.
// Only workflow selections are supported; the legacy notification
// protocol was retired.
const SelectionTypeWorkflows = "workflows"

// OrchestrationModeSequential runs selected workflows one after
// another in selection order. No other mode exists.
const OrchestrationModeSequential = "sequential"

// WorkflowSelection is written by the bot when the user taps a
// workflow button. SummaryData is embedded in full because the summary
// file may already have been consumed and unlinked by the bot; the
// orchestrator must never depend on it existing.
type WorkflowSelection struct {
	SelectionType     string         `json:"selection_type"`
	CorrelationID     string         `json:"correlation_id"`
	SessionID         string         `json:"session_id"`
	Timestamp         string         `json:"timestamp"`
	WorkflowIDs       []string       `json:"workflow_ids"`
	OrchestrationMode string         `json:"orchestration_mode"`
	WorkspacePath     string         `json:"workspace_path"`
	WorkspaceID       string         `json:"workspace_id"`
	SummaryData       SessionSummary `json:"summary_data"`
}

// Validate checks the required WorkflowSelection fields.
func (s *WorkflowSelection) Validate() error {
	var missing []string
	if s.CorrelationID == "" {
		missing = append(missing, "correlation_id")
	}
	if s.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if s.WorkspacePath == "" {
		missing = append(missing, "workspace_path")
	}
	if len(s.WorkflowIDs) == 0 {
		missing = append(missing, "workflow_ids")
	}
	if len(missing) > 0 {
		return fmt.Errorf("workflow selection missing required fields: %v", missing)
	}
	if s.SelectionType != "" && s.SelectionType != SelectionTypeWorkflows {
		return fmt.Errorf("unsupported selection_type %q", s.SelectionType)
	}
	return nil
}

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusAborted = "aborted"
)

// ExecutionMetadata carries registry metadata alongside an execution
// result for operator display.
type ExecutionMetadata struct {
	EstimatedDuration string `json:"estimated_duration,omitempty"`
	RiskLevel         string `json:"risk_level,omitempty"`
	Category          string `json:"category,omitempty"`
}

// WorkflowExecution is the orchestrator's full record of one workflow
// run. Stdout and Stderr are truncated to CaptureLimit bytes each.
type WorkflowExecution struct {
	ExecutionID     string            `json:"execution_id"`
	CorrelationID   string            `json:"correlation_id"`
	SessionID       string            `json:"session_id"`
	WorkflowID      string            `json:"workflow_id"`
	WorkflowName    string            `json:"workflow_name"`
	Status          string            `json:"status"`
	ExitCode        int               `json:"exit_code"`
	DurationSeconds float64           `json:"duration_seconds"`
	StartedAt       string            `json:"started_at"`
	CompletedAt     string            `json:"completed_at"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	Summary         string            `json:"summary"`
	Metadata        ExecutionMetadata `json:"metadata"`
}

// Completion is the compact per-session result file the bot edits the
// chat message from. It aggregates one entry per executed workflow.
type Completion struct {
	CorrelationID string             `json:"correlation_id"`
	SessionID     string             `json:"session_id"`
	WorkspaceID   string             `json:"workspace_id"`
	Timestamp     string             `json:"timestamp"`
	Results       []CompletionResult `json:"results"`
}

// CompletionResult is the chat-facing digest of one workflow execution.
type CompletionResult struct {
	WorkflowID      string  `json:"workflow_id"`
	WorkflowName    string  `json:"workflow_name"`
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	Summary         string  `json:"summary"`
}

// Progress statuses and stages.
const (
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
	ProgressError     = "error"

	StageStarting  = "starting"
	StageRendering = "rendering"
	StageExecuting = "executing"
	StageWaiting   = "waiting"
	StageCompleted = "completed"
)

// ProgressUpdate is overwritten in place by the orchestrator at each
// stage and deleted once Status is terminal. The bot polls it and
// reflects the latest payload into the live chat message.
type ProgressUpdate struct {
	WorkspaceID     string  `json:"workspace_id"`
	SessionID       string  `json:"session_id"`
	WorkflowID      string  `json:"workflow_id"`
	Status          string  `json:"status"`
	Stage           string  `json:"stage"`
	ProgressPercent float64 `json:"progress_percent"`
	Message         string  `json:"message"`
	Timestamp       string  `json:"timestamp"`
}

// Terminal reports whether the progress file should be unlinked.
func (p *ProgressUpdate) Terminal() bool {
	return p.Status == ProgressCompleted || p.Status == ProgressError
}

// CallbackRecord stores the real payload behind a short inline-button
// callback key. The chat transport caps callback data at a few dozen
// bytes, so only the key rides on the button.
type CallbackRecord struct {
	Key         string         `json:"key"`
	WorkflowID  string         `json:"workflow_id"`
	SessionID   string         `json:"session_id"`
	WorkspaceID string         `json:"workspace_id"`
	CreatedAt   string         `json:"created_at"`
	SummaryData SessionSummary `json:"summary_data"`
}

// ErrInvalidTimestamp is returned when a state-file timestamp cannot
// be parsed.
var ErrInvalidTimestamp = errors.New("invalid state timestamp")

// ParseTime parses a state-file timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t, nil
}
