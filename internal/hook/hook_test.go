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
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/lychee"
	"github.com/tombee/stagehand/internal/pidfile"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
)

const hookTestRegistry = `{
	"prune-legacy": {
		"name": "Prune Legacy Code",
		"prompt_template": "Review {{.WorkspacePath}}",
		"triggers": ["always"]
	},
	"lychee-autofix": {
		"name": "Fix Broken Links",
		"prompt_template": "Fix links",
		"triggers": ["lychee_errors"]
	}
}`

func testEmitter(t *testing.T) (*Emitter, state.Dirs, *events.Store) {
	t.Helper()
	dirs := state.NewDirs(t.TempDir())
	require.NoError(t, dirs.EnsureLayout())

	reg, err := registry.Parse([]byte(hookTestRegistry))
	require.NoError(t, err)

	ly, err := lychee.NewRunner(lychee.Config{})
	require.NoError(t, err)

	store, err := events.Open(filepath.Join(dirs.Root, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emitter := New(dirs, reg, ly, store, testLogger())
	emitter.ensureBot = func() error { return nil }
	return emitter, dirs, store
}

func TestRunWritesSummary(t *testing.T) {
	emitter, dirs, store := testEmitter(t)
	workspace := t.TempDir()

	marker := dirs.SessionTimestampFile("sess1")
	start := time.Now().Add(-90 * time.Second).Unix()
	require.NoError(t, os.WriteFile(marker, []byte(strconv.FormatInt(start, 10)), 0o644))

	summary, err := emitter.Run(context.Background(), Options{
		SessionID:     "sess1",
		WorkspacePath: workspace,
		UserPrompt:    "tidy up the docs",
		LastResponse:  "done, three files changed",
	})
	require.NoError(t, err)

	require.NoError(t, summary.Validate())
	assert.Len(t, summary.CorrelationID, 26)
	assert.InDelta(t, 90, summary.DurationSeconds, 5)
	assert.Equal(t, "unknown", summary.GitStatus.Branch, "temp dir is not a repo")
	assert.False(t, summary.LycheeStatus.Ran, "validator disabled")
	assert.Equal(t, []string{"prune-legacy"}, summary.AvailableWorkflows,
		"clean session matches only always-triggered workflows")

	var onDisk state.SessionSummary
	require.NoError(t, state.ReadJSON(dirs.SummaryFile("sess1", summary.WorkspaceID), &onDisk))
	assert.Equal(t, summary.CorrelationID, onDisk.CorrelationID)

	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "duration marker should be consumed")

	trace, err := store.Trace(context.Background(), summary.CorrelationID)
	require.NoError(t, err)
	var types []string
	for _, e := range trace {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{events.HookStarted, events.HookCompleted, events.SummaryCreated}, types)
}

func TestRunMissingMarkerYieldsZeroDuration(t *testing.T) {
	emitter, _, _ := testEmitter(t)

	summary, err := emitter.Run(context.Background(), Options{
		SessionID:     "sess2",
		WorkspacePath: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Zero(t, summary.DurationSeconds)
	assert.NoError(t, summary.Validate())
}

func TestRunRequiresIdentity(t *testing.T) {
	emitter, _, _ := testEmitter(t)
	_, err := emitter.Run(context.Background(), Options{SessionID: "only-session"})
	assert.Error(t, err)
}

func TestEnsureBotRunningSkipsLiveOwner(t *testing.T) {
	emitter, dirs, _ := testEmitter(t)

	// Our own process trivially satisfies the liveness check when the
	// fingerprint tokens match our command line.
	record := pidfile.Record{PID: os.Getpid(), Fingerprint: filepath.Base(os.Args[0])}
	require.NoError(t, state.WriteJSON(dirs.PIDFile(), &record))

	spawned := false
	emitter.ensureBot = func() error { spawned = true; return nil }
	require.NoError(t, emitter.EnsureBotRunning())
	assert.False(t, spawned)
}

func TestEnsureBotRunningReplacesStale(t *testing.T) {
	emitter, dirs, _ := testEmitter(t)

	record := pidfile.Record{PID: 1 << 28, Fingerprint: "stagehand bot"}
	require.NoError(t, state.WriteJSON(dirs.PIDFile(), &record))

	spawned := false
	emitter.ensureBot = func() error { spawned = true; return nil }
	require.NoError(t, emitter.EnsureBotRunning())
	assert.True(t, spawned)
}

func TestParseStopPayload(t *testing.T) {
	payload, err := ParseStopPayload(strings.NewReader(
		`{"session_id":"abc","transcript_path":"/tmp/t.jsonl","cwd":"/work"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", payload.SessionID)
	assert.Equal(t, "/tmp/t.jsonl", payload.TranscriptPath)
	assert.Equal(t, "/work", payload.Cwd)

	empty, err := ParseStopPayload(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.SessionID)
}

func TestLastExchange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	lines := []string{
		`{"type":"user","message":{"role":"user","content":"first prompt"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first answer"}]}}`,
		`not json at all`,
		`{"type":"user","message":{"role":"user","content":"final prompt"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use"},{"type":"text","text":"final answer"}]}}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))

	prompt, response := LastExchange(path)
	assert.Equal(t, "final prompt", prompt)
	assert.Equal(t, "final answer", response)
}

func TestLastExchangeMissingFile(t *testing.T) {
	prompt, response := LastExchange(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Empty(t, prompt)
	assert.Empty(t, response)
}

func TestWriteStartMarker(t *testing.T) {
	dirs := state.NewDirs(t.TempDir())
	require.NoError(t, WriteStartMarker(dirs, "sess9"))

	data, err := os.ReadFile(dirs.SessionTimestampFile("sess9"))
	require.NoError(t, err)
	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), secs, 5)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
