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

// Package gitinfo collects git workspace state for session summaries.
//
// Porcelain output is parsed in-process rather than piped through
// grep/wc, so legitimately-empty output is simply zero counts and can
// never abort the hook with a non-zero pipeline status.
package gitinfo

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// UnknownBranch is reported for workspaces that are not git
// repositories.
const UnknownBranch = "unknown"

// Status mirrors the git_status block of a session summary.
type Status struct {
	Branch         string
	ModifiedFiles  int
	UntrackedFiles int
	StagedFiles    int
	AheadCommits   int
	BehindCommits  int
}

// Collect gathers git state for dir. A non-repo workspace yields
// Branch "unknown" with zero counts and a nil error; git being absent
// from PATH behaves the same way. Collection is fail-open throughout.
func Collect(ctx context.Context, dir string) Status {
	status := Status{Branch: UnknownBranch}

	branch, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return status
	}
	status.Branch = strings.TrimSpace(branch)
	if status.Branch == "" {
		status.Branch = UnknownBranch
	}

	if porcelain, err := runGit(ctx, dir, "status", "--porcelain"); err == nil {
		status.ModifiedFiles, status.UntrackedFiles, status.StagedFiles = countPorcelain(porcelain)
	}

	// Ahead/behind only exists with an upstream; its absence is not an
	// error.
	if counts, err := runGit(ctx, dir, "rev-list", "--left-right", "--count", "@{upstream}...HEAD"); err == nil {
		status.BehindCommits, status.AheadCommits = parseLeftRight(counts)
	}

	return status
}

// Porcelain returns raw `git status --porcelain` output for chat
// display. Empty for non-repo workspaces.
func Porcelain(ctx context.Context, dir string) string {
	out, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return ""
	}
	return strings.TrimRight(out, "\n")
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// countPorcelain tallies porcelain v1 status lines. The first column
// is the index (staged) state, the second the worktree state; "??"
// marks untracked files.
func countPorcelain(out string) (modified, untracked, staged int) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 2 {
			continue
		}
		index, worktree := line[0], line[1]
		if index == '?' && worktree == '?' {
			untracked++
			continue
		}
		if index != ' ' {
			staged++
		}
		if worktree != ' ' {
			modified++
		}
	}
	return modified, untracked, staged
}

// parseLeftRight parses `rev-list --left-right --count @{upstream}...HEAD`
// output: "<behind>\t<ahead>".
func parseLeftRight(out string) (behind, ahead int) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 2 {
		return 0, 0
	}
	behind, _ = strconv.Atoi(fields[0])
	ahead, _ = strconv.Atoi(fields[1])
	return behind, ahead
}
