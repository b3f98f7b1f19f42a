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

package registry

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/stagehand/internal/state"
)

// Named trigger predicates. A workflow is eligible when ANY of its
// triggers holds against the summary.
const (
	TriggerAlways      = "always"
	TriggerLycheeError = "lychee_errors"
	TriggerGitModified = "git_modified"

	// ExprPrefix marks a trigger as an expr-lang expression over the
	// summary, e.g. "expr: git.staged_files > 0 && duration_seconds > 60".
	ExprPrefix = "expr:"
)

// matcher evaluates one trigger against a summary.
type matcher func(*state.SessionSummary) bool

// compileTriggers compiles a workflow's trigger list. Unknown named
// triggers and invalid expressions are load-time errors.
func compileTriggers(triggers []string) ([]matcher, error) {
	matchers := make([]matcher, 0, len(triggers))
	for _, trigger := range triggers {
		m, err := compileTrigger(trigger)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func compileTrigger(trigger string) (matcher, error) {
	switch trigger {
	case TriggerAlways:
		return func(*state.SessionSummary) bool { return true }, nil
	case TriggerLycheeError:
		return func(s *state.SessionSummary) bool {
			return s.LycheeStatus.ErrorCount > 0
		}, nil
	case TriggerGitModified:
		return func(s *state.SessionSummary) bool {
			return s.GitStatus.ModifiedFiles+s.GitStatus.StagedFiles > 0
		}, nil
	}

	if src, ok := strings.CutPrefix(trigger, ExprPrefix); ok {
		return compileExprTrigger(strings.TrimSpace(src))
	}
	return nil, fmt.Errorf("unknown trigger %q", trigger)
}

// compileExprTrigger compiles an expr-lang predicate. The expression
// environment mirrors the summary's JSON field names.
func compileExprTrigger(src string) (matcher, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv(&state.SessionSummary{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid trigger expression %q: %w", src, err)
	}
	return func(s *state.SessionSummary) bool {
		return runExprTrigger(program, s)
	}, nil
}

func runExprTrigger(program *vm.Program, s *state.SessionSummary) bool {
	out, err := expr.Run(program, exprEnv(s))
	if err != nil {
		// A runtime evaluation error means the predicate does not
		// hold; eligibility stays deterministic.
		return false
	}
	result, ok := out.(bool)
	return ok && result
}

func exprEnv(s *state.SessionSummary) map[string]any {
	return map[string]any{
		"git": map[string]any{
			"branch":          s.GitStatus.Branch,
			"modified_files":  s.GitStatus.ModifiedFiles,
			"untracked_files": s.GitStatus.UntrackedFiles,
			"staged_files":    s.GitStatus.StagedFiles,
			"ahead_commits":   s.GitStatus.AheadCommits,
			"behind_commits":  s.GitStatus.BehindCommits,
		},
		"lychee": map[string]any{
			"ran":         s.LycheeStatus.Ran,
			"error_count": s.LycheeStatus.ErrorCount,
		},
		"duration_seconds": s.DurationSeconds,
		"workspace_path":   s.WorkspacePath,
	}
}

// Eligible returns the IDs of workflows whose triggers match the
// summary, in registry declaration order. Matching is deterministic:
// applying it twice to the same summary yields the same list.
func (r *Registry) Eligible(s *state.SessionSummary) []string {
	var out []string
	for _, id := range r.order {
		for _, m := range r.matchers[id] {
			if m(s) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}
