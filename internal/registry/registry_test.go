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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/state"
)

const testRegistry = `{
  "prune-legacy": {
    "name": "Prune Legacy Code",
    "icon": "🧹",
    "category": "housekeeping",
    "prompt_template": "Prune unused code in {{.WorkspacePath}}.",
    "triggers": ["git_modified"],
    "risk_level": "medium"
  },
  "fix-docstrings": {
    "name": "Fix Docstrings",
    "icon": "📝",
    "category": "housekeeping",
    "prompt_template": "Fix docstrings; {{.GitStatus.ModifiedFiles}} files changed.",
    "triggers": ["git_modified"],
    "timeout_seconds": 300
  },
  "rename-variables": {
    "name": "Rename Variables",
    "icon": "🔤",
    "category": "housekeeping",
    "prompt_template": "Rename unclear variables.",
    "triggers": ["always"],
    "future_field": {"ignored": true}
  },
  "lychee-autofix": {
    "name": "Lychee Autofix",
    "icon": "🔗",
    "category": "validation",
    "prompt_template": "Lychee found {{.LycheeStatus.ErrorCount}} broken links.",
    "triggers": ["lychee_errors"]
  },
  "long-session-review": {
    "name": "Long Session Review",
    "icon": "⏳",
    "category": "review",
    "prompt_template": "Review this long session.",
    "triggers": ["expr: duration_seconds > 3600"]
  }
}`

func parseTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Parse([]byte(testRegistry))
	require.NoError(t, err)
	return r
}

func TestParsePreservesDeclarationOrder(t *testing.T) {
	r := parseTestRegistry(t)
	require.Equal(t, 5, r.Len())

	var ids []string
	for _, wf := range r.All() {
		ids = append(ids, wf.ID)
	}
	assert.Equal(t, []string{"prune-legacy", "fix-docstrings", "rename-variables", "lychee-autofix", "long-session-review"}, ids)
}

func TestParseIgnoresUnknownFields(t *testing.T) {
	r := parseTestRegistry(t)
	wf, ok := r.Get("rename-variables")
	require.True(t, ok)
	assert.Equal(t, "Rename Variables", wf.Name)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing prompt_template", `{"a": {"name": "A", "triggers": ["always"]}}`},
		{"missing triggers", `{"a": {"name": "A", "prompt_template": "x"}}`},
		{"unknown trigger", `{"a": {"name": "A", "prompt_template": "x", "triggers": ["on_tuesdays"]}}`},
		{"bad expression", `{"a": {"name": "A", "prompt_template": "x", "triggers": ["expr: git.modified_files >"]}}`},
		{"mismatched id", `{"a": {"id": "b", "name": "A", "prompt_template": "x", "triggers": ["always"]}}`},
		{"root not object", `["a"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestEligibleMatchesTriggers(t *testing.T) {
	r := parseTestRegistry(t)

	tests := []struct {
		name    string
		summary state.SessionSummary
		want    []string
	}{
		{
			name:    "clean session matches only always",
			summary: state.SessionSummary{},
			want:    []string{"rename-variables"},
		},
		{
			name:    "modified files",
			summary: state.SessionSummary{GitStatus: state.GitStatus{ModifiedFiles: 4}},
			want:    []string{"prune-legacy", "fix-docstrings", "rename-variables"},
		},
		{
			name:    "staged files count as modified",
			summary: state.SessionSummary{GitStatus: state.GitStatus{StagedFiles: 1}},
			want:    []string{"prune-legacy", "fix-docstrings", "rename-variables"},
		},
		{
			name:    "lychee errors",
			summary: state.SessionSummary{LycheeStatus: state.LycheeStatus{Ran: true, ErrorCount: 3}},
			want:    []string{"rename-variables", "lychee-autofix"},
		},
		{
			name:    "expression trigger",
			summary: state.SessionSummary{DurationSeconds: 7200},
			want:    []string{"rename-variables", "long-session-review"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Eligible(&tt.summary))
		})
	}
}

func TestEligibleIsIdempotent(t *testing.T) {
	r := parseTestRegistry(t)
	summary := state.SessionSummary{
		GitStatus:    state.GitStatus{ModifiedFiles: 2},
		LycheeStatus: state.LycheeStatus{Ran: true, ErrorCount: 1},
	}
	first := r.Eligible(&summary)
	second := r.Eligible(&summary)
	assert.Equal(t, first, second)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.json")
	require.NoError(t, os.WriteFile(path, []byte(testRegistry), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestWorkspaceDisplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"/home/user/projects/demo": {"icon": "🚀", "name": "Demo"}
	}`), 0o644))

	w, err := LoadWorkspaces(path)
	require.NoError(t, err)

	assert.Equal(t, "🚀 Demo", w.Display("/home/user/projects/demo", "a1b2c3d4"))
	assert.Equal(t, "🚀 Demo", w.Display("/home/user/projects/demo/", "a1b2c3d4"))
	assert.Equal(t, "ffffffff", w.Display("/somewhere/else", "ffffffff"))
}

func TestWorkspaceRegistryMissingFile(t *testing.T) {
	w, err := LoadWorkspaces(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4", w.Display("/any", "a1b2c3d4"))
}
