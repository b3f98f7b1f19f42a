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

package events

import (
	"context"
	"log/slog"
)

// Recorder binds a Store to one component and one session so call
// sites can emit events with a single argument. A nil Recorder or nil
// Store is a no-op, which keeps the event log strictly best-effort.
type Recorder struct {
	store         *Store
	logger        *slog.Logger
	component     string
	correlationID string
	workspaceID   string
	sessionID     string
}

// NewRecorder creates a Recorder for the given component and session
// identity. store may be nil when the event database is unavailable.
func NewRecorder(store *Store, logger *slog.Logger, component, correlationID, workspaceID, sessionID string) *Recorder {
	return &Recorder{
		store:         store,
		logger:        logger,
		component:     component,
		correlationID: correlationID,
		workspaceID:   workspaceID,
		sessionID:     sessionID,
	}
}

// Record appends one event, logging and swallowing any failure.
func (r *Recorder) Record(ctx context.Context, eventType string, metadata map[string]any) {
	if r == nil || r.store == nil {
		return
	}
	err := r.store.Append(ctx, Event{
		CorrelationID: r.correlationID,
		WorkspaceID:   r.workspaceID,
		SessionID:     r.sessionID,
		Component:     r.component,
		EventType:     eventType,
		Metadata:      metadata,
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("event append failed", "event", eventType, "error", err)
	}
}

// WithCorrelation returns a copy of the Recorder bound to a different
// correlation and session identity. Used by the bot, which serves many
// sessions from one process.
func (r *Recorder) WithCorrelation(correlationID, workspaceID, sessionID string) *Recorder {
	if r == nil {
		return nil
	}
	clone := *r
	clone.correlationID = correlationID
	clone.workspaceID = workspaceID
	clone.sessionID = sessionID
	return &clone
}
