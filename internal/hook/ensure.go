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

package hook

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/tombee/stagehand/internal/pidfile"
	"github.com/tombee/stagehand/internal/state"
)

// BotRole tags the bot process in its pidfile fingerprint.
const BotRole = "bot"

// EnsureBotRunning checks the bot pidfile and spawns a detached bot
// when no live owner exists. Spawning is advisory: the bot acquires the
// pidfile itself and a lost race simply means two candidates, one of
// which exits immediately.
func (e *Emitter) EnsureBotRunning() error {
	var record pidfile.Record
	if err := state.ReadJSON(e.dirs.PIDFile(), &record); err == nil && pidfile.IsLive(record) {
		e.logger.Debug("bot already running", "pid", record.PID)
		return nil
	}
	e.logger.Info("bot not running, spawning")
	return e.ensureBot()
}

// spawnBot starts `<self> bot` fully detached: own session, no shared
// file descriptors, never reaped by this short-lived hook process.
func (e *Emitter) spawnBot() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own executable: %w", err)
	}

	cmd := exec.Command(self, "bot")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn bot: %w", err)
	}
	return cmd.Process.Release()
}
