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

// Package hook wires the session-end hook into the CLI.
package hook

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/hook"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/lychee"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
)

// NewHookCommand creates the hook command.
func NewHookCommand() *cobra.Command {
	var (
		sessionID     string
		workspacePath string
		transcript    string
		startMarker   bool
	)

	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Emit a session summary for an ended session",
		Long: `Run as the coding CLI's stop hook. Collects git state, runs the
content validator, computes the session duration, and writes the
session summary atomically. When no flags are given the stop-hook JSON
payload is read from stdin.

With --start, records the session start marker instead (the
session-start hook).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, sessionID, workspacePath, transcript, startMarker)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session identifier (default: STAGEHAND_SESSION_ID or stdin payload)")
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "workspace path (default: STAGEHAND_WORKSPACE or stdin payload)")
	cmd.Flags().StringVar(&transcript, "transcript", "", "session transcript path for prompt/response extraction")
	cmd.Flags().BoolVar(&startMarker, "start", false, "record the session start marker and exit")
	return cmd
}

func runHook(cmd *cobra.Command, sessionID, workspacePath, transcript string, startMarker bool) error {
	logger := shared.NewLogger("hook")

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	dirs := state.NewDirs(cfg.StateDir)

	if sessionID == "" {
		sessionID = os.Getenv("STAGEHAND_SESSION_ID")
	}
	if workspacePath == "" {
		workspacePath = os.Getenv("STAGEHAND_WORKSPACE")
	}

	// The stop hook is normally invoked with the payload piped in.
	if sessionID == "" || workspacePath == "" {
		payload, err := hook.ParseStopPayload(cmd.InOrStdin())
		if err != nil {
			logger.Warn("unreadable stop payload", log.Error(err))
		}
		if sessionID == "" {
			sessionID = payload.SessionID
		}
		if workspacePath == "" {
			workspacePath = payload.Cwd
		}
		if transcript == "" {
			transcript = payload.TranscriptPath
		}
	}
	if sessionID == "" || workspacePath == "" {
		return fmt.Errorf("session id and workspace are required (flags, env, or stdin payload)")
	}

	if startMarker {
		return hook.WriteStartMarker(dirs, sessionID)
	}

	// The hook must still emit a summary when the registry is missing
	// or broken; eligibility just comes out empty.
	reg, err := registry.Load(dirs.WorkflowRegistry())
	if err != nil {
		logger.Warn("workflow registry unavailable", log.Error(err))
		reg, _ = registry.Parse([]byte("{}"))
	}

	runner, err := lychee.NewRunner(cfg.Lychee)
	if err != nil {
		return fmt.Errorf("invalid validator configuration: %w", err)
	}

	store := shared.OpenEvents(dirs, logger)
	if store != nil {
		defer store.Close()
	}

	userPrompt, lastResponse := hook.LastExchange(transcript)

	emitter := hook.New(dirs, reg, runner, store, logger)
	summary, err := emitter.Run(cmd.Context(), hook.Options{
		SessionID:     sessionID,
		WorkspacePath: workspacePath,
		UserPrompt:    userPrompt,
		LastResponse:  lastResponse,
	})
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}
	cmd.Printf("summary written for session %s (%d workflows available)\n",
		summary.SessionID, len(summary.AvailableWorkflows))
	return nil
}
