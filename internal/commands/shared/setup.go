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

package shared

import (
	"log/slog"

	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/state"
)

// LoadConfig loads configuration honoring the global --config and
// --state-dir flags.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if dir := GetStateDir(); dir != "" {
		cfg.StateDir = dir
	}
	return cfg, nil
}

// NewLogger builds the component logger from the environment.
func NewLogger(component string) *slog.Logger {
	return log.WithComponent(log.New(log.FromEnv()), component)
}

// OpenEvents opens the event store, degrading to nil on failure. The
// event log is observational; no command fails because it is missing.
func OpenEvents(dirs state.Dirs, logger *slog.Logger) *events.Store {
	store, err := events.Open(dirs.EventDB())
	if err != nil {
		logger.Warn("event store unavailable", log.Error(err))
		return nil
	}
	return store
}
