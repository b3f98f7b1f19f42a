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

// Package events provides the append-only SQLite event log used for
// end-to-end correlation tracing.
//
// The log is purely observational: the control path never reads it to
// make a decision. Rows are appended, never updated or deleted. Each
// component opens the database independently in WAL mode so concurrent
// writers from the hook, bot, and orchestrator do not block each other.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Component names, matching the CHECK constraint on session_events.
const (
	ComponentHook         = "hook"
	ComponentBot          = "bot"
	ComponentOrchestrator = "orchestrator"
	ComponentCLI          = "cli"
)

// Event types form a closed vocabulary. Adding a type means updating
// the trace-order expectations in the tests as well.
const (
	HookStarted        = "hook.started"
	HookCompleted      = "hook.completed"
	SummaryCreated     = "summary.created"
	SummaryReceived    = "summary.received"
	SummaryProcessed   = "summary.processed"
	SelectionCreated   = "selection.created"
	SelectionReceived  = "selection.received"
	WorkflowStarted    = "workflow.started"
	TemplateRendered   = "workflow.template_rendered"
	ClaudeCLIStarted   = "claude_cli.started"
	ClaudeCLICompleted = "claude_cli.completed"
	WorkflowCompleted  = "workflow.completed"
	ExecutionCreated   = "execution.created"
	BotStarted         = "bot.started"
	BotShutdown        = "bot.shutdown"
	ProgressEmitted    = "progress.emitted"
)

// Event is one row of the session_events log.
type Event struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	WorkspaceID   string         `json:"workspace_id"`
	SessionID     string         `json:"session_id"`
	Component     string         `json:"component"`
	EventType     string         `json:"event_type"`
	Timestamp     string         `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Store is an append-only SQLite event log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the event database at path.
// Special value ":memory:" creates an in-memory database for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("event database path is required")
	}

	// WAL mode allows concurrent readers alongside a writer per
	// component process.
	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	// Single connection avoids SQLITE_BUSY between the in-process
	// appender goroutines.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to event database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run event store migrations: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			workspace_id TEXT,
			session_id TEXT,
			component TEXT CHECK(component IN ('hook','bot','orchestrator','cli')),
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_correlation_id ON session_events(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append writes one event row. The timestamp is filled in when empty.
// Callers treat failures as best-effort: log and continue, never fatal.
func (s *Store) Append(ctx context.Context, e Event) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	var metadata any
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (correlation_id, workspace_id, session_id, component, event_type, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.CorrelationID, e.WorkspaceID, e.SessionID, e.Component, e.EventType, e.Timestamp, metadata)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", e.EventType, err)
	}
	return nil
}

// Trace returns all events for a correlation ID ordered by timestamp,
// then insertion order. Read by the trace command only.
func (s *Store) Trace(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, workspace_id, session_id, component, event_type, timestamp, metadata
		 FROM session_events WHERE correlation_id = ? ORDER BY timestamp, id`,
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecentCorrelations returns the n most recently seen correlation IDs,
// newest first.
func (s *Store) RecentCorrelations(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id, MAX(timestamp) AS last_seen
		 FROM session_events GROUP BY correlation_id ORDER BY last_seen DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent correlations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, lastSeen string
		if err := rows.Scan(&id, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan correlation row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e           Event
			workspaceID sql.NullString
			sessionID   sql.NullString
			component   sql.NullString
			metadata    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CorrelationID, &workspaceID, &sessionID, &component, &e.EventType, &e.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.WorkspaceID = workspaceID.String
		e.SessionID = sessionID.String
		e.Component = component.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				// Metadata is observational; a corrupt blob should
				// not hide the rest of the trace.
				e.Metadata = map[string]any{"_raw": metadata.String}
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
