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

package cliexec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/state"
)

func TestRunCapturesStdout(t *testing.T) {
	runner := New([]string{"sh", "-c", "cat; echo done"}, nil)
	result, err := runner.Run(context.Background(), t.TempDir(), "prompt text\n", 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.Contains(t, result.Stdout, "prompt text")
	assert.Contains(t, result.Stdout, "done")
}

func TestRunReportsExitCode(t *testing.T) {
	runner := New([]string{"sh", "-c", "echo oops >&2; exit 3"}, nil)
	result, err := runner.Run(context.Background(), t.TempDir(), "", 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "oops")
}

func TestRunTimeout(t *testing.T) {
	runner := New([]string{"sh", "-c", "echo partial; sleep 30"}, nil)
	runner.killDelay = 100 * time.Millisecond

	start := time.Now()
	result, err := runner.Run(context.Background(), t.TempDir(), "", 200*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Stdout, "partial")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunTruncatesCapture(t *testing.T) {
	runner := New([]string{"sh", "-c", "head -c 50000 /dev/zero | tr '\\0' 'x'"}, nil)
	result, err := runner.Run(context.Background(), t.TempDir(), "", 10*time.Second)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(result.Stdout), state.CaptureLimit+64)
	assert.True(t, strings.Contains(result.Stdout, "truncated"))
}

func TestRunMissingBinary(t *testing.T) {
	runner := New([]string{"stagehand-no-such-binary"}, nil)
	_, err := runner.Run(context.Background(), t.TempDir(), "", time.Second)
	assert.Error(t, err)
}

func TestRunEmptyCommand(t *testing.T) {
	runner := New(nil, nil)
	_, err := runner.Run(context.Background(), t.TempDir(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}
