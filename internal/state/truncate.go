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
	"fmt"
	"strings"
	"unicode/utf8"
)

// CaptureLimit is the ceiling for captured subprocess stdout/stderr,
// per stream. The source left the exact ceiling unspecified; 10 KiB
// keeps execution records comfortably small while preserving enough
// context to diagnose failures.
const CaptureLimit = 10 * 1024

// TruncateCapture bounds captured subprocess output to CaptureLimit
// bytes, keeping the head and appending a marker with the dropped byte
// count. Truncation is rune-safe.
func TruncateCapture(s string) string {
	return TruncateBytes(s, CaptureLimit)
}

// TruncateBytes bounds s to at most limit bytes plus a truncation
// marker, cutting on a rune boundary.
func TruncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-cut)
}

// TailSummary extracts a short human-readable summary from the tail of
// subprocess stdout: the last non-empty lines, capped at maxLen runes.
func TailSummary(stdout string, maxLen int) string {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	var tail []string
	for i := len(lines) - 1; i >= 0 && len(tail) < 3; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		tail = append([]string{line}, tail...)
	}
	summary := strings.Join(tail, " ")
	if runes := []rune(summary); len(runes) > maxLen {
		summary = string(runes[:maxLen]) + "…"
	}
	return summary
}
