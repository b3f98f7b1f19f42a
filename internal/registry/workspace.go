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

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WorkspaceDisplay is the chat-facing label for one registered
// workspace.
type WorkspaceDisplay struct {
	Icon string `json:"icon"`
	Name string `json:"name"`
}

// Workspaces maps canonical workspace paths to display labels. An
// unregistered workspace falls back to its workspace ID.
type Workspaces struct {
	byPath map[string]WorkspaceDisplay
}

// LoadWorkspaces reads registry.json. A missing file yields an empty
// registry rather than an error; display falls back to workspace IDs.
func LoadWorkspaces(path string) (*Workspaces, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Workspaces{byPath: map[string]WorkspaceDisplay{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace registry: %w", err)
	}

	var entries map[string]WorkspaceDisplay
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse workspace registry: %w", err)
	}

	byPath := make(map[string]WorkspaceDisplay, len(entries))
	for path, display := range entries {
		byPath[filepath.Clean(path)] = display
	}
	return &Workspaces{byPath: byPath}, nil
}

// Display resolves the label for a workspace path, falling back to the
// workspace ID when the path is unregistered.
func (w *Workspaces) Display(workspacePath, workspaceID string) string {
	if display, ok := w.byPath[filepath.Clean(workspacePath)]; ok {
		if display.Icon != "" {
			return display.Icon + " " + display.Name
		}
		return display.Name
	}
	return workspaceID
}
