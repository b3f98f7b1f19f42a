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

// Package orchestrate wires the workflow orchestrator into the CLI.
package orchestrate

import (
	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/cliexec"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/orchestrator"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
)

// NewOrchestrateCommand creates the orchestrate command.
func NewOrchestrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrate <selection-file>",
		Short: "Execute the workflows of one selection file",
		Long: `Run the workflows named by a selection file sequentially, writing
execution records, progress updates, and the final completion file.
Normally spawned detached by the bot; runnable by hand for debugging.

Exits non-zero only when orchestration itself fails; individual
workflow failures are recorded in their execution files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrate(cmd, args[0])
		},
	}
}

func runOrchestrate(cmd *cobra.Command, selectionPath string) error {
	logger := shared.NewLogger("orchestrator")

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	dirs := state.NewDirs(cfg.StateDir)

	reg, err := registry.Load(dirs.WorkflowRegistry())
	if err != nil {
		return err
	}

	store := shared.OpenEvents(dirs, logger)
	if store != nil {
		defer store.Close()
	}

	runner := cliexec.New(cfg.Claude.Command, logger)
	orch := orchestrator.New(dirs, reg, runner, store, logger, cfg.Claude.Timeout)
	return orch.Run(cmd.Context(), selectionPath)
}
