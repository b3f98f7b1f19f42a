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

package trace

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/state"
)

func seedStore(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	store, err := events.Open(state.NewDirs(root).EventDB())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()
	for i, eventType := range []string{events.HookStarted, events.HookCompleted, events.SummaryCreated} {
		require.NoError(t, store.Append(ctx, events.Event{
			CorrelationID: "01TESTCID00000000000000000",
			WorkspaceID:   "abcd1234",
			SessionID:     "sess1",
			Component:     events.ComponentHook,
			EventType:     eventType,
			Timestamp:     base.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
			Metadata:      map[string]any{"step": i},
		}))
	}
	return root
}

func withStateDir(t *testing.T, dir string) {
	t.Helper()
	_, _, stateDir := shared.RegisterFlagPointers()
	old := *stateDir
	*stateDir = dir
	t.Cleanup(func() { *stateDir = old })
}

func TestTraceRendersTimeline(t *testing.T) {
	withStateDir(t, seedStore(t))

	cmd := NewTraceCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"01TESTCID00000000000000000"})

	require.NoError(t, cmd.Execute())
	output := out.String()
	assert.Contains(t, output, "3 events")
	assert.Contains(t, output, "hook.started")
	assert.Contains(t, output, "summary.created")
	assert.Contains(t, output, "+2s")
	assert.Contains(t, output, "step=2")
}

func TestTraceUnknownCorrelation(t *testing.T) {
	withStateDir(t, seedStore(t))

	cmd := NewTraceCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"NOSUCHCID0000000000000000X"})

	assert.Error(t, cmd.Execute())
}

func TestTraceRecentList(t *testing.T) {
	withStateDir(t, seedStore(t))

	cmd := NewTraceCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "01TESTCID00000000000000000")
}

func TestRenderMetadataSorted(t *testing.T) {
	got := renderMetadata(map[string]any{"zeta": 1, "alpha": "x"})
	assert.Equal(t, "alpha=x zeta=1", got)
	assert.Empty(t, renderMetadata(nil))
}
