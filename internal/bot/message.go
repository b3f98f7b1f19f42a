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

package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/tombee/stagehand/internal/markup"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
	"github.com/tombee/stagehand/internal/telegram"
)

// Display limits for interpolated session text.
const (
	promptDisplayLen    = 300
	responseDisplayLen  = 500
	porcelainDisplayLen = 1200
)

// callbackPrefix tags workflow-selection callback data.
const callbackPrefix = "wf:"

// buttonsPerRow is the inline keyboard width.
const buttonsPerRow = 2

// summaryMessage renders the session summary chat message. Untrusted
// session text is escaped or fenced; the outbound client closes any
// delimiters this still leaves unbalanced.
func summaryMessage(s *state.SessionSummary, workspaceLabel, porcelain string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Session ended* in %s\n", markup.Escape(workspaceLabel))
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(s.DurationSeconds))

	git := s.GitStatus
	fmt.Fprintf(&b, "Branch: `%s`", git.Branch)
	if git.AheadCommits > 0 || git.BehindCommits > 0 {
		fmt.Fprintf(&b, " (+%d/-%d)", git.AheadCommits, git.BehindCommits)
	}
	b.WriteString("\n")
	if git.ModifiedFiles+git.StagedFiles+git.UntrackedFiles > 0 {
		fmt.Fprintf(&b, "Changes: %d modified, %d staged, %d untracked\n",
			git.ModifiedFiles, git.StagedFiles, git.UntrackedFiles)
	}

	if s.LycheeStatus.Ran {
		if s.LycheeStatus.ErrorCount > 0 {
			fmt.Fprintf(&b, "Validator: %d errors", s.LycheeStatus.ErrorCount)
			if s.LycheeStatus.Details != "" {
				fmt.Fprintf(&b, " (%s)", markup.Escape(markup.Truncate(s.LycheeStatus.Details, 200)))
			}
			b.WriteString("\n")
		} else {
			b.WriteString("Validator: clean\n")
		}
	}

	if s.UserPrompt != "" {
		fmt.Fprintf(&b, "\n*Last prompt:* %s\n", markup.Escape(markup.Truncate(s.UserPrompt, promptDisplayLen)))
	}
	if s.LastResponse != "" {
		fmt.Fprintf(&b, "\n*Last response:* %s\n", markup.Escape(markup.Truncate(s.LastResponse, responseDisplayLen)))
	}

	if porcelain != "" {
		b.WriteString("\n")
		b.WriteString(markup.CodeBlock(markup.Truncate(porcelain, porcelainDisplayLen)))
		b.WriteString("\n")
	}

	if len(s.AvailableWorkflows) > 0 {
		b.WriteString("\nPick a workflow:")
	} else {
		b.WriteString("\nNo workflows available for this session.")
	}
	return b.String()
}

// workflowKeyboard builds the inline keyboard: workflows grouped by
// category in registry order, two buttons per row, labelled
// "{icon} {name}". keys maps workflow ID to its callback key.
func workflowKeyboard(workflows []*registry.Workflow, keys map[string]string) *telegram.InlineKeyboardMarkup {
	// Group by category, preserving first-seen category order.
	var categories []string
	grouped := map[string][]*registry.Workflow{}
	for _, wf := range workflows {
		if _, ok := grouped[wf.Category]; !ok {
			categories = append(categories, wf.Category)
		}
		grouped[wf.Category] = append(grouped[wf.Category], wf)
	}

	var rows [][]telegram.InlineKeyboardButton
	for _, category := range categories {
		var row []telegram.InlineKeyboardButton
		for _, wf := range grouped[category] {
			label := wf.Name
			if wf.Icon != "" {
				label = wf.Icon + " " + wf.Name
			}
			row = append(row, telegram.InlineKeyboardButton{
				Text:         label,
				CallbackData: callbackPrefix + keys[wf.ID],
			})
			if len(row) == buttonsPerRow {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// startingMessage is the edit applied when a workflow button is tapped.
func startingMessage(workspaceLabel string, wf *registry.Workflow) string {
	label := wf.Name
	if wf.Icon != "" {
		label = wf.Icon + " " + wf.Name
	}
	msg := fmt.Sprintf("🚀 Starting *%s* in %s", markup.Escape(label), markup.Escape(workspaceLabel))
	if wf.EstimatedDuration != "" {
		msg += fmt.Sprintf("\nEstimated duration: %s", markup.Escape(wf.EstimatedDuration))
	}
	return msg
}

// progressMessage renders a live progress edit.
func progressMessage(workspaceLabel string, p *state.ProgressUpdate) string {
	bar := progressBar(p.ProgressPercent)
	msg := fmt.Sprintf("⏳ %s\n%s %.0f%%", markup.Escape(workspaceLabel), bar, p.ProgressPercent)
	if p.Message != "" {
		msg += "\n" + markup.Escape(markup.Truncate(p.Message, 200))
	}
	return msg
}

// completionMessage renders the final result edit. Each result line
// reads "✅ Prune Legacy Code — completed in 25.0s".
func completionMessage(workspaceLabel string, c *state.Completion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Workflows finished* in %s\n", markup.Escape(workspaceLabel))
	for _, r := range c.Results {
		fmt.Fprintf(&b, "\n%s %s — %s", statusEmoji(r.Status), markup.Escape(r.WorkflowName), resultPhrase(r))
		if r.Summary != "" {
			fmt.Fprintf(&b, "\n%s", markup.Escape(markup.Truncate(r.Summary, 300)))
		}
	}
	return b.String()
}

func resultPhrase(r state.CompletionResult) string {
	switch r.Status {
	case state.StatusSuccess:
		return fmt.Sprintf("completed in %.1fs", r.DurationSeconds)
	case state.StatusTimeout:
		return fmt.Sprintf("timeout after %.1fs", r.DurationSeconds)
	default:
		return fmt.Sprintf("failed after %.1fs", r.DurationSeconds)
	}
}

// diagnosticMessage reports a malformed state file to the operator
// instead of failing silently.
func diagnosticMessage(path string, err error) string {
	return fmt.Sprintf("⚠️ Dropped malformed state file `%s`: %s",
		path, markup.Escape(markup.Truncate(err.Error(), 200)))
}

func statusEmoji(status string) string {
	switch status {
	case state.StatusSuccess:
		return "✅"
	case state.StatusTimeout:
		return "⏱"
	default:
		return "❌"
	}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	return d.Round(time.Second).String()
}

func progressBar(percent float64) string {
	const width = 10
	filled := int(percent / 100 * width)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("▓", filled) + strings.Repeat("░", width-filled)
}
