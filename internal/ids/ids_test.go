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

package ids

import (
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var crockford = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

func TestNewCorrelationIDShape(t *testing.T) {
	id := NewCorrelationID()
	assert.Len(t, id, 26)
	assert.Regexp(t, crockford, id)
}

func TestCorrelationIDsSortByTime(t *testing.T) {
	first := NewCorrelationID()
	time.Sleep(2 * time.Millisecond)
	second := NewCorrelationID()

	got := []string{second, first}
	sort.Strings(got)
	assert.Equal(t, []string{first, second}, got)
}

func TestCorrelationIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewCorrelationID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestWorkspaceHash(t *testing.T) {
	h := WorkspaceHash("/home/user/projects/demo")
	assert.Len(t, h, WorkspaceHashLen)
	assert.Regexp(t, `^[0-9a-f]{8}$`, h)

	// Stable across calls and path cleaning.
	assert.Equal(t, h, WorkspaceHash("/home/user/projects/demo/"))
	assert.Equal(t, h, WorkspaceHash("/home/user/projects/../projects/demo"))

	// Different paths hash differently.
	assert.NotEqual(t, h, WorkspaceHash("/home/user/projects/other"))
}
