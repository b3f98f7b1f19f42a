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

package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "a\\_b\\*c\\`d\\[e", Escape("a_b*c`d[e"))
	assert.Equal(t, "plain text", Escape("plain text"))
}

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Counts
	}{
		{"empty", "", Counts{}},
		{"balanced bold", "**hi**", Counts{Bold: 2}},
		{"unfinished bold", "Here is **an unfinished bold", Counts{Bold: 1}},
		{"fence hides inline", "```\ncode `tick` inside\n```", Counts{Fence: 2, Inline: 2}},
		{"italic", "_slanted_", Counts{Italic: 2}},
		{"bold not italic", "**x** _y_", Counts{Bold: 2, Italic: 2}},
		{"escaped are literal", "a\\`b \\_c\\_ \\*d", Counts{}},
		{"escaped next to real", "\\`literal and `code`", Counts{Inline: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.in))
		})
	}
}

func TestCloseUnbalancedBold(t *testing.T) {
	// Unfinished bold from an assistant response gets its closer.
	got, repaired := CloseUnbalanced("Here is **an unfinished bold")
	assert.True(t, repaired)
	assert.Equal(t, "Here is **an unfinished bold**", got)
	assert.True(t, Balanced(got))
}

func TestCloseUnbalancedOrder(t *testing.T) {
	// Everything open at once: fence closes first, then inline code,
	// bold, italic.
	got, repaired := CloseUnbalanced("```broken `code **bold _italic")
	assert.True(t, repaired)
	assert.True(t, strings.HasSuffix(got, "\n```"+"`"+"**"+"_"))
	assert.True(t, Balanced(got))
}

func TestCloseUnbalancedNoop(t *testing.T) {
	in := "all **good** here `x` _fine_"
	got, repaired := CloseUnbalanced(in)
	assert.False(t, repaired)
	assert.Equal(t, in, got)
}

func TestBalancedAfterRepairAlways(t *testing.T) {
	inputs := []string{
		"", "`", "``", "```", "****", "**", "_", "__", "_ _ _",
		"```go\nfunc main() {}\n", "a ** b ` c _ d ``` e",
		"nested **bold with `code** inside`",
	}
	for _, in := range inputs {
		got, _ := CloseUnbalanced(in)
		assert.True(t, Balanced(got), "input %q repaired to %q", in, got)
	}
}

func TestCodeBlock(t *testing.T) {
	got := CodeBlock("M a.go\nM b.go")
	assert.True(t, strings.HasPrefix(got, "```\n"))
	assert.True(t, strings.HasSuffix(got, "\n```"))
	assert.True(t, Balanced(got))
}

func TestCodeBlockDefusesEmbeddedFence(t *testing.T) {
	got := CodeBlock("break out\n```\ninjected")
	// The embedded fence must not terminate the block early.
	assert.Equal(t, 2, strings.Count(got, "```"))
	assert.True(t, Balanced(got))
	assert.Contains(t, got, "ˋˋˋ")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))
	assert.Equal(t, "héllo…", Truncate("héllo wörld", 5))
}
