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

// Package markup keeps outbound chat messages valid in the transport's
// Markdown dialect.
//
// Session prompts and assistant responses are arbitrary user text, so
// any message interpolating them can carry unbalanced delimiters that
// the transport would reject. The strategy is layered: untrusted
// content goes inside code blocks where feasible, interpolated plain
// segments are escaped, and the outbound path closes any remaining
// odd-count delimiters as a safety net. Corner cases may render
// imperfectly; sends are never blocked on them.
package markup

import "strings"

// Delimiter classes, in closing order.
const (
	delimFence  = "```"
	delimInline = "`"
	delimBold   = "**"
	delimItalic = "_"
)

// escaper escapes the dialect's formatting characters in plain-text
// segments. Context-sensitive global transforms are deliberately
// avoided; this covers only the delimiter characters themselves.
var escaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

// Escape escapes formatting characters in an interpolated plain-text
// segment.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Counts holds per-class delimiter counts for a message body.
type Counts struct {
	Fence  int
	Inline int
	Bold   int
	Italic int
}

// Count tallies each delimiter class. Fences are counted first and
// masked out so their backticks are not double-counted as inline code,
// and bold pairs are masked before italic underscores are counted.
func Count(s string) Counts {
	var c Counts

	// Escaped delimiters render as literals and must not count.
	s = strings.NewReplacer(
		"\\`", "", "\\_", "", "\\*", "", "\\[", "",
	).Replace(s)

	c.Fence = strings.Count(s, delimFence)
	s = strings.ReplaceAll(s, delimFence, "")

	c.Inline = strings.Count(s, delimInline)
	s = strings.ReplaceAll(s, delimInline, "")

	c.Bold = strings.Count(s, delimBold)
	s = strings.ReplaceAll(s, delimBold, "")

	c.Italic = strings.Count(s, delimItalic)
	return c
}

// Balanced reports whether every delimiter class appears an even
// number of times.
func Balanced(s string) bool {
	c := Count(s)
	return c.Fence%2 == 0 && c.Inline%2 == 0 && c.Bold%2 == 0 && c.Italic%2 == 0
}

// CloseUnbalanced appends closing delimiters for any class with an odd
// count, in the order code-fence, inline code, bold, italic. The
// second return reports whether anything was repaired so callers can
// log it.
func CloseUnbalanced(s string) (string, bool) {
	c := Count(s)
	repaired := false

	if c.Fence%2 != 0 {
		s += "\n" + delimFence
		repaired = true
	}
	if c.Inline%2 != 0 {
		s += delimInline
		repaired = true
	}
	if c.Bold%2 != 0 {
		s += delimBold
		repaired = true
	}
	if c.Italic%2 != 0 {
		s += delimItalic
		repaired = true
	}
	return s, repaired
}

// CodeBlock wraps untrusted text in a fenced code block. Embedded
// backticks are swapped for the lookalike modifier grave so the block
// cannot be broken out of and delimiter counts stay untouched.
func CodeBlock(s string) string {
	s = strings.ReplaceAll(s, delimInline, "ˋ")
	return delimFence + "\n" + s + "\n" + delimFence
}

// Truncate bounds s to at most n runes, appending an ellipsis when
// text was dropped.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
