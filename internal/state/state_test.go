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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() SessionSummary {
	return SessionSummary{
		CorrelationID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SessionID:     "sess-42",
		WorkspacePath: "/home/user/projects/demo",
		WorkspaceID:   "a1b2c3d4",
		Timestamp:     Now(),
		GitStatus:     GitStatus{Branch: "main", ModifiedFiles: 4},
		LycheeStatus:  LycheeStatus{Ran: true},
		UserPrompt:    "fix the docs",
		LastResponse:  "done",
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.json")

	in := sampleSummary()
	require.NoError(t, WriteJSON(path, &in))

	var out SessionSummary
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestWriteJSONLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteJSON(filepath.Join(dir, "a.json"), map[string]int{"x": 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())
}

func TestWriteJSONOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	require.NoError(t, WriteJSON(path, &ProgressUpdate{Stage: StageStarting, Status: ProgressRunning}))
	require.NoError(t, WriteJSON(path, &ProgressUpdate{Stage: StageExecuting, Status: ProgressRunning}))

	var out ProgressUpdate
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, StageExecuting, out.Stage)
}

func TestRemoveMissingIsNotError(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), "gone.json")))
}

func TestIsStateFile(t *testing.T) {
	assert.True(t, IsStateFile("summary_s1_a1b2c3d4.json"))
	assert.False(t, IsStateFile(TempPrefix+"123.tmp"))
	assert.False(t, IsStateFile(TempPrefix+"partial.json"))
	assert.False(t, IsStateFile("notes.txt"))
}

func TestSummaryValidate(t *testing.T) {
	s := sampleSummary()
	require.NoError(t, s.Validate())

	s.CorrelationID = ""
	s.SessionID = ""
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation_id")
	assert.Contains(t, err.Error(), "session_id")
}

func TestSelectionValidate(t *testing.T) {
	sel := WorkflowSelection{
		SelectionType:     SelectionTypeWorkflows,
		CorrelationID:     "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SessionID:         "sess-42",
		WorkspacePath:     "/home/user/projects/demo",
		WorkflowIDs:       []string{"prune-legacy"},
		OrchestrationMode: OrchestrationModeSequential,
	}
	require.NoError(t, sel.Validate())

	sel.WorkflowIDs = nil
	assert.Error(t, sel.Validate())

	sel.WorkflowIDs = []string{"x"}
	sel.SelectionType = "approvals"
	assert.Error(t, sel.Validate())
}

func TestDirsLayoutAndNaming(t *testing.T) {
	d := NewDirs(t.TempDir())
	require.NoError(t, d.EnsureLayout())

	for _, dir := range []string{d.Summaries(), d.Selections(), d.Executions(), d.Completions(), d.Progress(), d.Callbacks(), d.SessionTimestamps()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	assert.Equal(t, "summary_s1_a1b2c3d4.json", filepath.Base(d.SummaryFile("s1", "a1b2c3d4")))
	assert.Equal(t, "selection_s1_a1b2c3d4.json", filepath.Base(d.SelectionFile("s1", "a1b2c3d4")))
	assert.Equal(t, "execution_s1_a1b2c3d4_fix-docs.json", filepath.Base(d.ExecutionFile("s1", "a1b2c3d4", "fix-docs")))
	assert.Equal(t, "completion_s1_a1b2c3d4.json", filepath.Base(d.CompletionFile("s1", "a1b2c3d4")))
	assert.Equal(t, "progress_s1_a1b2c3d4.json", filepath.Base(d.ProgressFile("s1", "a1b2c3d4")))
	assert.Equal(t, "cb_deadbeef.json", filepath.Base(d.CallbackFile("deadbeef")))
	assert.Equal(t, "s1.timestamp", filepath.Base(d.SessionTimestampFile("s1")))
}

func TestTruncateCapture(t *testing.T) {
	small := "hello"
	assert.Equal(t, small, TruncateCapture(small))

	big := strings.Repeat("x", CaptureLimit+500)
	got := TruncateCapture(big)
	assert.Less(t, len(got), CaptureLimit+100)
	assert.Contains(t, got, "[truncated 500 bytes]")
}

func TestTruncateBytesRuneSafe(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := TruncateBytes(s, 5)
	assert.True(t, strings.HasPrefix(got, "éé"))
	assert.NotContains(t, got, "�")
}

func TestTailSummary(t *testing.T) {
	out := "step one\nstep two\n\nAll checks passed.\n\n"
	assert.Equal(t, "step one step two All checks passed.", TailSummary(out, 200))

	long := strings.Repeat("word ", 100)
	assert.LessOrEqual(t, len([]rune(TailSummary(long, 50))), 51)
}

func TestProgressTerminal(t *testing.T) {
	assert.False(t, (&ProgressUpdate{Status: ProgressRunning}).Terminal())
	assert.True(t, (&ProgressUpdate{Status: ProgressCompleted}).Terminal())
	assert.True(t, (&ProgressUpdate{Status: ProgressError}).Terminal())
}
