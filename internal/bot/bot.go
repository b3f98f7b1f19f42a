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

// Package bot is the long-lived coordinator between state files and the
// operator's chat.
//
// One goroutine owns all mutable state. Watcher events, chat updates,
// and timer ticks are funneled into a single select loop, so no handler
// ever races another. The bot holds no durable state of its own: chat
// message IDs live in memory and everything else is a state file, which
// is what makes restarting the bot at any point safe.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/gitinfo"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/pidfile"
	"github.com/tombee/stagehand/internal/registry"
	"github.com/tombee/stagehand/internal/state"
	"github.com/tombee/stagehand/internal/telegram"
)

// BotRole tags the bot's pidfile fingerprint.
const BotRole = "bot"

// rescanInterval is the watcher's fallback scan cadence.
const rescanInterval = 30 * time.Second

// gcInterval is the callback record sweep cadence.
const gcInterval = time.Hour

// longPollTimeout is the chat update long-poll window.
const longPollTimeout = 30 * time.Second

// Chat is the slice of the chat transport the bot uses. Satisfied by
// *telegram.Client; tests substitute a fake.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// sessionKey identifies one session's chat thread.
type sessionKey struct {
	sessionID   string
	workspaceID string
}

// Bot is the coordinator. All fields below mu-free: only the Run loop
// touches the maps.
type Bot struct {
	dirs       state.Dirs
	cfg        config.BotConfig
	chatID     int64
	chat       Chat
	registry   *registry.Registry
	workspaces *registry.Workspaces
	store      *events.Store
	logger     *slog.Logger

	// spawnOrchestrator starts a detached orchestrator for a selection
	// file. Injectable for tests.
	spawnOrchestrator func(selectionPath string) error

	// recorder is the bot-lifetime recorder; handlers re-bind it to the
	// session at hand via WithCorrelation.
	recorder *events.Recorder

	messages     map[sessionKey]int64
	lastProgress map[sessionKey]string
	seen         map[string]bool
	warnedNoMsg  map[sessionKey]bool
}

// New creates a Bot. store may be nil.
func New(dirs state.Dirs, cfg config.BotConfig, chat Chat, chatID int64, reg *registry.Registry, workspaces *registry.Workspaces, store *events.Store, logger *slog.Logger) *Bot {
	b := &Bot{
		dirs:         dirs,
		cfg:          cfg,
		chatID:       chatID,
		chat:         chat,
		registry:     reg,
		workspaces:   workspaces,
		store:        store,
		logger:       logger,
		messages:     map[sessionKey]int64{},
		lastProgress: map[sessionKey]string{},
		seen:         map[string]bool{},
		warnedNoMsg:  map[sessionKey]bool{},
	}
	b.spawnOrchestrator = b.execOrchestrator
	b.recorder = events.NewRecorder(store, logger, events.ComponentBot, "bot-"+uuid.NewString(), "", "")
	return b
}

// Run acquires the pidfile and serves until ctx is cancelled or the
// idle timeout fires.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.dirs.EnsureLayout(); err != nil {
		return err
	}

	handle, err := pidfile.Acquire(b.dirs.PIDFile(), pidfile.Fingerprint(BotRole))
	if err != nil {
		return err
	}
	defer handle.Release()

	b.recorder.Record(ctx, events.BotStarted, map[string]any{"pid": os.Getpid()})
	b.logger.Info("bot started", "pid", os.Getpid())

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher, err := NewDirWatcher(b.dirs, rescanInterval, b.logger)
	if err != nil {
		return err
	}
	go watcher.Run(loopCtx)

	updates := make(chan telegram.Update, 100)
	go b.pollUpdates(loopCtx, updates)

	progressTicker := time.NewTicker(b.cfg.ProgressPollInterval)
	defer progressTicker.Stop()
	gcTicker := time.NewTicker(gcInterval)
	defer gcTicker.Stop()

	var idle *time.Timer
	var idleCh <-chan time.Time
	resetIdle := func() {
		if b.cfg.IdleTimeout <= 0 {
			return
		}
		if idle == nil {
			idle = time.NewTimer(b.cfg.IdleTimeout)
			idleCh = idle.C
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(b.cfg.IdleTimeout)
	}
	resetIdle()

	// On shutdown the loop context is gone, so the final progress flush
	// and the shutdown event get their own grace-bounded context.
	defer func() {
		graceCtx, graceCancel := context.WithTimeout(context.Background(), b.cfg.ShutdownGrace)
		defer graceCancel()
		b.pollProgress(graceCtx)
		b.recorder.Record(graceCtx, events.BotShutdown, nil)
		b.logger.Info("bot shutting down")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idleCh:
			b.logger.Info("idle timeout reached")
			return nil
		case event, ok := <-watcher.Events():
			if !ok {
				return fmt.Errorf("watcher stopped unexpectedly")
			}
			resetIdle()
			switch event.Kind {
			case KindSummary:
				b.processSummary(loopCtx, event.Path)
			case KindCompletion:
				b.processCompletion(loopCtx, event.Path)
			}
		case update := <-updates:
			resetIdle()
			if update.CallbackQuery != nil {
				b.handleCallback(loopCtx, update.CallbackQuery)
			}
		case <-progressTicker.C:
			b.pollProgress(loopCtx)
		case <-gcTicker.C:
			b.gcCallbacks()
		}
	}
}

// pollUpdates long-polls the chat transport and forwards updates into
// the event loop.
func (b *Bot) pollUpdates(ctx context.Context, out chan<- telegram.Update) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := b.chat.GetUpdates(ctx, offset, longPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("update poll failed", log.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, update := range batch {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processSummary turns one summary file into a chat message with a
// workflow menu, then consumes the file.
func (b *Bot) processSummary(ctx context.Context, path string) {
	base := filepath.Base(path)
	if b.seen[base] {
		return
	}
	b.seen[base] = true

	var summary state.SessionSummary
	err := state.ReadJSON(path, &summary)
	if err == nil {
		err = summary.Validate()
	}
	if err != nil {
		b.logger.Error("malformed summary", "file", base, log.Error(err))
		if _, sendErr := b.chat.SendMessage(ctx, b.chatID, diagnosticMessage(base, err), nil); sendErr != nil {
			b.logger.Error("failed to send diagnostic", log.Error(sendErr))
		}
		state.Remove(path)
		return
	}

	key := sessionKey{summary.SessionID, summary.WorkspaceID}
	logger := log.WithSession(log.WithCorrelationID(b.logger, summary.CorrelationID), summary.SessionID, summary.WorkspaceID)
	recorder := b.recorder.WithCorrelation(summary.CorrelationID, summary.WorkspaceID, summary.SessionID)
	recorder.Record(ctx, events.SummaryReceived, map[string]any{"summary_file": base})

	// Re-filter through the registry: triggers are deterministic, and
	// the hook may have run against an older registry revision.
	eligibleIDs := b.registry.Eligible(&summary)
	var workflows []*registry.Workflow
	keys := map[string]string{}
	for _, id := range eligibleIDs {
		wf, ok := b.registry.Get(id)
		if !ok {
			continue
		}
		cbKey := newCallbackKey()
		record := state.CallbackRecord{
			Key:         cbKey,
			WorkflowID:  id,
			SessionID:   summary.SessionID,
			WorkspaceID: summary.WorkspaceID,
			CreatedAt:   state.Now(),
			SummaryData: summary,
		}
		if err := state.WriteJSON(b.dirs.CallbackFile(cbKey), &record); err != nil {
			logger.Error("failed to persist callback record", "workflow", id, log.Error(err))
			continue
		}
		workflows = append(workflows, wf)
		keys[id] = cbKey
	}

	label := b.workspaces.Display(summary.WorkspacePath, summary.WorkspaceID)
	porcelain := gitinfo.Porcelain(ctx, summary.WorkspacePath)
	text := summaryMessage(&summary, label, porcelain)
	keyboard := workflowKeyboard(workflows, keys)

	messageID, err := b.chat.SendMessage(ctx, b.chatID, text, keyboard)
	if err != nil {
		logger.Error("failed to send summary message", log.Error(err))
		// Leave the file and forget we saw it, so the next rescan
		// retries the send.
		delete(b.seen, base)
		return
	}
	b.messages[key] = messageID

	recorder.Record(ctx, events.SummaryProcessed, map[string]any{
		"message_id": messageID,
		"workflows":  eligibleIDs,
	})
	logger.Info("summary processed", "message_id", messageID, "workflows", len(eligibleIDs))
	state.Remove(path)
}

// handleCallback resolves a button tap into a selection file and a
// detached orchestrator.
func (b *Bot) handleCallback(ctx context.Context, query *telegram.CallbackQuery) {
	cbKey, ok := strings.CutPrefix(query.Data, callbackPrefix)
	if !ok {
		b.answer(ctx, query.ID, "", false)
		return
	}

	var record state.CallbackRecord
	if err := state.ReadJSON(b.dirs.CallbackFile(cbKey), &record); err != nil {
		b.logger.Warn("callback key not found", "key", cbKey)
		b.answer(ctx, query.ID, "This menu has expired.", true)
		return
	}

	wf, ok := b.registry.Get(record.WorkflowID)
	if !ok {
		b.answer(ctx, query.ID, "Workflow no longer exists.", true)
		return
	}

	logger := log.WithCorrelationID(b.logger, record.SummaryData.CorrelationID)
	recorder := b.recorder.WithCorrelation(record.SummaryData.CorrelationID, record.WorkspaceID, record.SessionID)

	selection := state.WorkflowSelection{
		SelectionType:     state.SelectionTypeWorkflows,
		CorrelationID:     record.SummaryData.CorrelationID,
		SessionID:         record.SessionID,
		Timestamp:         state.Now(),
		WorkflowIDs:       []string{record.WorkflowID},
		OrchestrationMode: state.OrchestrationModeSequential,
		WorkspacePath:     record.SummaryData.WorkspacePath,
		WorkspaceID:       record.WorkspaceID,
		SummaryData:       record.SummaryData,
	}
	selectionFile := b.dirs.SelectionFile(record.SessionID, record.WorkspaceID)
	if err := state.WriteJSON(selectionFile, &selection); err != nil {
		logger.Error("failed to write selection", log.Error(err))
		b.answer(ctx, query.ID, "Failed to start workflow.", true)
		return
	}
	recorder.Record(ctx, events.SelectionCreated, map[string]any{
		"workflow_id":    record.WorkflowID,
		"selection_file": selectionFile,
	})

	// The tapped menu is spent; its sibling keys stay until GC but a
	// second tap on this one would re-run, so drop it now.
	state.Remove(b.dirs.CallbackFile(cbKey))

	if err := b.spawnOrchestrator(selectionFile); err != nil {
		logger.Error("failed to spawn orchestrator", log.Error(err))
		b.answer(ctx, query.ID, "Failed to start workflow.", true)
		return
	}

	// One answer per query, sent once the outcome is known.
	b.answer(ctx, query.ID, "Starting "+wf.Name, false)

	label := b.workspaces.Display(record.SummaryData.WorkspacePath, record.WorkspaceID)
	if query.Message != nil {
		if err := b.chat.EditMessageText(ctx, b.chatID, query.Message.MessageID, startingMessage(label, wf), nil); err != nil {
			logger.Warn("failed to edit message to starting state", log.Error(err))
		}
		b.messages[sessionKey{record.SessionID, record.WorkspaceID}] = query.Message.MessageID
	}
}

// pollProgress scans the progress directory and reflects the newest
// payload per session into its chat message. Only the latest state is
// edited in; intermediate payloads between polls are skipped by
// construction.
func (b *Bot) pollProgress(ctx context.Context) {
	entries, err := os.ReadDir(b.dirs.Progress())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !state.IsStateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(b.dirs.Progress(), entry.Name())
		var update state.ProgressUpdate
		if err := state.ReadJSON(path, &update); err != nil {
			continue
		}
		key := sessionKey{update.SessionID, update.WorkspaceID}

		messageID, ok := b.messages[key]
		if !ok {
			if !b.warnedNoMsg[key] {
				b.warnedNoMsg[key] = true
				b.logger.Warn("progress for unknown message, skipping",
					log.SessionIDKey, update.SessionID, log.WorkspaceIDKey, update.WorkspaceID)
			}
			continue
		}

		if update.Terminal() {
			state.Remove(path)
			continue
		}

		// Progress payloads carry no workspace path, so the label is
		// the workspace ID.
		text := progressMessage(update.WorkspaceID, &update)
		if b.lastProgress[key] == text {
			continue
		}
		if err := b.chat.EditMessageText(ctx, b.chatID, messageID, text, nil); err != nil {
			b.logger.Warn("progress edit failed", log.Error(err))
			continue
		}
		b.lastProgress[key] = text
	}
}

// processCompletion edits the final result into the session's message
// and consumes the completion and progress files.
func (b *Bot) processCompletion(ctx context.Context, path string) {
	base := filepath.Base(path)
	if b.seen[base] {
		return
	}
	b.seen[base] = true

	var completion state.Completion
	if err := state.ReadJSON(path, &completion); err != nil {
		b.logger.Error("malformed completion", "file", base, log.Error(err))
		state.Remove(path)
		return
	}

	key := sessionKey{completion.SessionID, completion.WorkspaceID}
	label := completion.WorkspaceID
	text := completionMessage(label, &completion)

	messageID, ok := b.messages[key]
	if ok {
		err := b.chat.EditMessageText(ctx, b.chatID, messageID, text, nil)
		if err != nil {
			b.logger.Warn("completion edit failed, sending new message", log.Error(err))
			ok = false
		}
	}
	if !ok {
		// Never fail silently: a fresh message beats a lost result.
		if _, err := b.chat.SendMessage(ctx, b.chatID, text, nil); err != nil {
			b.logger.Error("failed to deliver completion", log.Error(err))
			return
		}
	}

	delete(b.messages, key)
	delete(b.lastProgress, key)
	delete(b.warnedNoMsg, key)
	state.Remove(path)
	state.Remove(b.dirs.ProgressFile(completion.SessionID, completion.WorkspaceID))
	b.logger.Info("completion delivered",
		log.SessionIDKey, completion.SessionID, "results", len(completion.Results))
}

// gcCallbacks sweeps callback records past the retention window.
func (b *Bot) gcCallbacks() {
	entries, err := os.ReadDir(b.dirs.Callbacks())
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-b.cfg.CallbackRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(b.dirs.Callbacks(), entry.Name())
		var record state.CallbackRecord
		if err := state.ReadJSON(path, &record); err != nil {
			continue
		}
		created, err := state.ParseTime(record.CreatedAt)
		if err != nil || created.Before(cutoff) {
			state.Remove(path)
			removed++
		}
	}
	if removed > 0 {
		b.logger.Info("callback records swept", "removed", removed)
	}
}

func (b *Bot) answer(ctx context.Context, queryID, text string, alert bool) {
	if err := b.chat.AnswerCallbackQuery(ctx, queryID, text, alert); err != nil {
		b.logger.Warn("failed to answer callback query", log.Error(err))
	}
}

// execOrchestrator spawns `<self> orchestrate <file>` fully detached.
func (b *Bot) execOrchestrator(selectionPath string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own executable: %w", err)
	}
	cmd := exec.Command(self, "orchestrate", selectionPath)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn orchestrator: %w", err)
	}
	return cmd.Process.Release()
}

// newCallbackKey generates a short filename-safe callback key. The
// transport caps callback data at 64 bytes; a UUID tail is plenty of
// entropy for a single-operator system.
func newCallbackKey() string {
	id := uuid.NewString()
	return id[len(id)-12:]
}
