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

// Package bot wires the coordinator into the CLI.
package bot

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	botpkg "github.com/tombee/stagehand/internal/bot"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/pidfile"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
	"github.com/tombee/stagehand/internal/telegram"
)

// NewBotCommand creates the bot command.
func NewBotCommand() *cobra.Command {
	var storeToken string

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the chat coordinator",
		Long: `Run the long-lived coordinator: watches for session summaries and
workflow completions, presents workflow menus in the chat, and spawns
orchestrators for selections.

Only one bot instance runs per state directory; a second start exits
cleanly when a live instance holds the pidfile.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if storeToken != "" {
				if err := config.StoreToken(storeToken); err != nil {
					return err
				}
				cmd.Println("token stored in OS keychain")
				return nil
			}
			return runBot(cmd)
		},
	}

	cmd.Flags().StringVar(&storeToken, "store-token", "", "store the Telegram bot token in the OS keychain and exit")
	return cmd
}

func runBot(cmd *cobra.Command) error {
	logger := shared.NewLogger("bot")

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	dirs := state.NewDirs(cfg.StateDir)
	if err := dirs.EnsureLayout(); err != nil {
		return err
	}

	token, err := cfg.ResolveToken()
	if err != nil {
		return err
	}
	if cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram chat_id is not configured")
	}

	// Startup resource errors are fatal by design: a bot with a broken
	// registry would present stale or empty menus forever.
	reg, err := registry.Load(dirs.WorkflowRegistry())
	if err != nil {
		return err
	}
	workspaces, err := registry.LoadWorkspaces(dirs.WorkspaceRegistry())
	if err != nil {
		return err
	}

	store := shared.OpenEvents(dirs, logger)
	if store != nil {
		defer store.Close()
	}

	client := telegram.New(token, logger)
	coordinator := botpkg.New(dirs, cfg.Bot, client, cfg.Telegram.ChatID, reg, workspaces, store, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	err = coordinator.Run(ctx)
	if errors.Is(err, pidfile.ErrAlreadyRunning) {
		// The hook spawns candidates optimistically; losing the race
		// is the expected outcome, not a failure.
		logger.Info("another instance is running, exiting")
		return nil
	}
	return err
}
