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

// Package trace renders per-correlation event timelines from the event
// store.
package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/state"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "trace [correlation-id]",
		Short: "Show the event timeline for a session",
		Long: `Render every recorded event for a correlation ID in order: which
component emitted it, when relative to the hook start, and its
metadata. With --recent and no argument, list the most recently seen
correlation IDs instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runRecent(cmd, recent)
			}
			return runTrace(cmd, args[0])
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent correlation IDs to list when no ID is given")
	return cmd
}

func openStore() (*events.Store, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, err
	}
	return events.Open(state.NewDirs(cfg.StateDir).EventDB())
}

func runRecent(cmd *cobra.Command, n int) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.RecentCorrelations(cmd.Context(), n)
	if err != nil {
		return err
	}
	if shared.GetJSON() {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(ids)
	}
	if len(ids) == 0 {
		cmd.Println("no recorded sessions")
		return nil
	}
	for _, id := range ids {
		cmd.Println(id)
	}
	return nil
}

func runTrace(cmd *cobra.Command, correlationID string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	trace, err := store.Trace(cmd.Context(), correlationID)
	if err != nil {
		return err
	}
	if len(trace) == 0 {
		return fmt.Errorf("no events recorded for %s", correlationID)
	}

	if shared.GetJSON() {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(trace)
	}

	styled := shared.IsTTY()
	header := fmt.Sprintf("trace %s (%d events)", correlationID, len(trace))
	if styled {
		header = shared.Header.Render(header)
	}
	cmd.Println(header)

	start, _ := time.Parse(time.RFC3339Nano, trace[0].Timestamp)
	for _, event := range trace {
		cmd.Println(renderEvent(event, start, styled))
	}
	return nil
}

// renderEvent formats one timeline row:
//
//	+1.204s  orchestrator  workflow.completed  workflow_id=prune-legacy status=success
func renderEvent(e events.Event, start time.Time, styled bool) string {
	offset := "?"
	if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil && !start.IsZero() {
		offset = "+" + ts.Sub(start).Round(time.Millisecond).String()
	}

	component := fmt.Sprintf("%-12s", e.Component)
	eventType := e.EventType
	meta := renderMetadata(e.Metadata)

	if styled {
		offset = shared.Muted.Render(fmt.Sprintf("%10s", offset))
		component = componentStyle(e.Component).Render(component)
		eventType = shared.Bold.Render(eventType)
		meta = shared.Muted.Render(meta)
	} else {
		offset = fmt.Sprintf("%10s", offset)
	}

	row := fmt.Sprintf("%s  %s  %s", offset, component, eventType)
	if meta != "" {
		row += "  " + meta
	}
	return row
}

func renderMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, metadata[k]))
	}
	return strings.Join(parts, " ")
}

func componentStyle(component string) lipgloss.Style {
	switch component {
	case events.ComponentHook:
		return shared.StatusOK
	case events.ComponentBot:
		return shared.StatusWarn
	case events.ComponentOrchestrator:
		return shared.Header
	default:
		return shared.Muted
	}
}
