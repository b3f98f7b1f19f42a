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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	botcmd "github.com/tombee/stagehand/internal/commands/bot"
	hookcmd "github.com/tombee/stagehand/internal/commands/hook"
	"github.com/tombee/stagehand/internal/commands/orchestrate"
	"github.com/tombee/stagehand/internal/commands/shared"
	tracecmd "github.com/tombee/stagehand/internal/commands/trace"
	versioncmd "github.com/tombee/stagehand/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	shared.SetVersion(version, commit, buildDate)

	root := &cobra.Command{
		Use:   "stagehand",
		Short: "Session orchestration between coding sessions and chat",
		Long: `stagehand connects ended coding sessions to an operator's chat:
a stop hook emits session summaries, a bot presents workflow menus and
streams progress, and orchestrators run the selected workflows through
the headless coding CLI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Accept snake_case spellings of flags; the config file uses
	// snake_case keys and mixing the two is a common slip.
	root.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	jsonFlag, configFlag, stateDirFlag := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonFlag, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(configFlag, "config", "", "config file path (default: $XDG_CONFIG_HOME/stagehand/config.yaml)")
	root.PersistentFlags().StringVar(stateDirFlag, "state-dir", "", "state directory (default: $XDG_STATE_HOME/stagehand)")

	root.AddCommand(
		hookcmd.NewHookCommand(),
		botcmd.NewBotCommand(),
		orchestrate.NewOrchestrateCommand(),
		tracecmd.NewTraceCommand(),
		versioncmd.NewVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
