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

package lychee

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResults = `{
	"total": 10,
	"successful": 7,
	"fail_map": {
		"docs/a.md": [{"url": "https://x/1"}, {"url": "https://x/2"}],
		"docs/b.md": [{"url": "https://x/3"}]
	}
}`

func TestDisabledValidator(t *testing.T) {
	r, err := NewRunner(Config{})
	require.NoError(t, err)

	status := r.Run(context.Background(), t.TempDir())
	assert.False(t, status.Ran)
	assert.Zero(t, status.ErrorCount)
}

func TestExtractFromStdout(t *testing.T) {
	r, err := NewRunner(Config{Command: []string{"cat"}})
	require.NoError(t, err)

	// Feed results through a shell echo so no results file is needed.
	r.cfg.Command = []string{"sh", "-c", "printf '%s' '" + sampleResults + "'"}
	status := r.Run(context.Background(), t.TempDir())

	assert.True(t, status.Ran)
	assert.Equal(t, 3, status.ErrorCount)
	assert.Contains(t, status.Details, "docs/a.md: 2 broken")
	assert.Contains(t, status.Details, "docs/b.md: 1 broken")
}

func TestCleanRunHasZeroErrors(t *testing.T) {
	r, err := NewRunner(Config{Command: []string{"sh", "-c", `printf '{"total": 5, "successful": 5, "fail_map": {}}'`}})
	require.NoError(t, err)

	status := r.Run(context.Background(), t.TempDir())
	assert.True(t, status.Ran)
	assert.Zero(t, status.ErrorCount)
}

func TestCrashSurfacesAsError(t *testing.T) {
	r, err := NewRunner(Config{Command: []string{"sh", "-c", "echo boom >&2; exit 3"}})
	require.NoError(t, err)

	status := r.Run(context.Background(), t.TempDir())
	assert.True(t, status.Ran)
	assert.Positive(t, status.ErrorCount)
	assert.Contains(t, status.Details, "malformed JSON")
	assert.Contains(t, status.Details, "boom")
}

func TestMalformedOutputSurfacesAsError(t *testing.T) {
	r, err := NewRunner(Config{Command: []string{"sh", "-c", "echo 'not json'"}})
	require.NoError(t, err)

	status := r.Run(context.Background(), t.TempDir())
	assert.True(t, status.Ran)
	assert.Positive(t, status.ErrorCount)
}

func TestTimeoutSurfacesAsError(t *testing.T) {
	r, err := NewRunner(Config{
		Command: []string{"sleep", "5"},
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	status := r.Run(context.Background(), t.TempDir())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, status.Ran)
	assert.Positive(t, status.ErrorCount)
	assert.Contains(t, status.Details, "timed out")
}

func TestInvalidQueryFailsConstruction(t *testing.T) {
	_, err := NewRunner(Config{ErrorCountQuery: ".fail_map |"})
	assert.Error(t, err)
}

func TestCustomQueries(t *testing.T) {
	r, err := NewRunner(Config{
		Command:         []string{"sh", "-c", `printf '{"errors": 7, "note": "custom layout"}'`},
		ErrorCountQuery: ".errors",
		DetailsQuery:    ".note",
	})
	require.NoError(t, err)

	status := r.Run(context.Background(), t.TempDir())
	assert.Equal(t, 7, status.ErrorCount)
	assert.Equal(t, "custom layout", status.Details)
}
