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

package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dirs resolves every path under the state root. Filenames carry no
// semantic information the JSON body does not also carry; they exist
// for human glanceability and consumer dedup.
type Dirs struct {
	Root string
}

// NewDirs creates a Dirs resolver for the given state root.
func NewDirs(root string) Dirs {
	return Dirs{Root: root}
}

// Subdirectory accessors.

func (d Dirs) Summaries() string         { return filepath.Join(d.Root, "summaries") }
func (d Dirs) Selections() string        { return filepath.Join(d.Root, "selections") }
func (d Dirs) Executions() string        { return filepath.Join(d.Root, "executions") }
func (d Dirs) Completions() string       { return filepath.Join(d.Root, "completions") }
func (d Dirs) Progress() string          { return filepath.Join(d.Root, "progress") }
func (d Dirs) Callbacks() string         { return filepath.Join(d.Root, "callbacks") }
func (d Dirs) SessionTimestamps() string { return filepath.Join(d.Root, "session_timestamps") }

// Top-level file accessors.

func (d Dirs) WorkflowRegistry() string  { return filepath.Join(d.Root, "workflows.json") }
func (d Dirs) WorkspaceRegistry() string { return filepath.Join(d.Root, "registry.json") }
func (d Dirs) EventDB() string           { return filepath.Join(d.Root, "events.db") }
func (d Dirs) PIDFile() string           { return filepath.Join(d.Root, "bot.pid") }

// Per-session file paths.

func (d Dirs) SummaryFile(sessionID, workspaceID string) string {
	return filepath.Join(d.Summaries(), fmt.Sprintf("summary_%s_%s.json", sessionID, workspaceID))
}

func (d Dirs) SelectionFile(sessionID, workspaceID string) string {
	return filepath.Join(d.Selections(), fmt.Sprintf("selection_%s_%s.json", sessionID, workspaceID))
}

func (d Dirs) ExecutionFile(sessionID, workspaceID, workflowID string) string {
	return filepath.Join(d.Executions(), fmt.Sprintf("execution_%s_%s_%s.json", sessionID, workspaceID, workflowID))
}

func (d Dirs) CompletionFile(sessionID, workspaceID string) string {
	return filepath.Join(d.Completions(), fmt.Sprintf("completion_%s_%s.json", sessionID, workspaceID))
}

func (d Dirs) ProgressFile(sessionID, workspaceID string) string {
	return filepath.Join(d.Progress(), fmt.Sprintf("progress_%s_%s.json", sessionID, workspaceID))
}

func (d Dirs) CallbackFile(key string) string {
	return filepath.Join(d.Callbacks(), fmt.Sprintf("cb_%s.json", key))
}

func (d Dirs) SessionTimestampFile(sessionID string) string {
	return filepath.Join(d.SessionTimestamps(), sessionID+".timestamp")
}

// EnsureLayout creates the state root and all subdirectories.
func (d Dirs) EnsureLayout() error {
	dirs := []string{
		d.Root,
		d.Summaries(),
		d.Selections(),
		d.Executions(),
		d.Completions(),
		d.Progress(),
		d.Callbacks(),
		d.SessionTimestamps(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}
