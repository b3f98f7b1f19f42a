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

package gitinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountPorcelain(t *testing.T) {
	tests := []struct {
		name      string
		out       string
		modified  int
		untracked int
		staged    int
	}{
		{name: "empty output", out: ""},
		{
			name:     "worktree modifications",
			out:      " M a.go\n M b.go\n",
			modified: 2,
		},
		{
			name:      "untracked",
			out:       "?? new.go\n?? notes.md\n",
			untracked: 2,
		},
		{
			name:   "staged only",
			out:    "M  a.go\nA  b.go\n",
			staged: 2,
		},
		{
			name:     "staged and modified same file",
			out:      "MM a.go\n",
			modified: 1,
			staged:   1,
		},
		{
			name:      "mixed",
			out:       " M a.go\n?? b.go\nA  c.go\nD  d.go\n M e.go\n",
			modified:  2,
			untracked: 1,
			staged:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modified, untracked, staged := countPorcelain(tt.out)
			assert.Equal(t, tt.modified, modified, "modified")
			assert.Equal(t, tt.untracked, untracked, "untracked")
			assert.Equal(t, tt.staged, staged, "staged")
		})
	}
}

func TestParseLeftRight(t *testing.T) {
	behind, ahead := parseLeftRight("2\t5\n")
	assert.Equal(t, 2, behind)
	assert.Equal(t, 5, ahead)

	behind, ahead = parseLeftRight("")
	assert.Zero(t, behind)
	assert.Zero(t, ahead)

	behind, ahead = parseLeftRight("garbage")
	assert.Zero(t, behind)
	assert.Zero(t, ahead)
}

func TestCollectNonRepo(t *testing.T) {
	status := Collect(context.Background(), t.TempDir())
	assert.Equal(t, UnknownBranch, status.Branch)
	assert.Zero(t, status.ModifiedFiles)
	assert.Zero(t, status.UntrackedFiles)
	assert.Zero(t, status.StagedFiles)
	assert.Zero(t, status.AheadCommits)
	assert.Zero(t, status.BehindCommits)
}

func TestPorcelainNonRepo(t *testing.T) {
	assert.Empty(t, Porcelain(context.Background(), t.TempDir()))
}
