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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/state"
)

// FileKind distinguishes the watched state-file classes.
type FileKind int

const (
	KindSummary FileKind = iota
	KindCompletion
)

// FileEvent is one state file noticed by the watcher. The same path
// may be emitted more than once (fsnotify plus rescan); the consumer
// dedupes by filename.
type FileEvent struct {
	Kind FileKind
	Path string
}

// watchSpec pairs a directory with its filename pattern and kind.
type watchSpec struct {
	dir     string
	pattern string
	kind    FileKind
}

// DirWatcher surfaces new summary and completion files. fsnotify gives
// low latency; a periodic rescan catches files that raced the watcher
// registration or arrived while events were dropped.
type DirWatcher struct {
	specs    []watchSpec
	fsw      *fsnotify.Watcher
	events   chan FileEvent
	interval time.Duration
	logger   *slog.Logger
}

// NewDirWatcher creates a watcher over the summaries and completions
// directories. The directories must already exist.
func NewDirWatcher(dirs state.Dirs, interval time.Duration, logger *slog.Logger) (*DirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &DirWatcher{
		specs: []watchSpec{
			{dir: dirs.Summaries(), pattern: "summary_*.json", kind: KindSummary},
			{dir: dirs.Completions(), pattern: "completion_*.json", kind: KindCompletion},
		},
		fsw:      fsw,
		events:   make(chan FileEvent, 100),
		interval: interval,
		logger:   logger,
	}
	for _, spec := range w.specs {
		if err := fsw.Add(spec.dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", spec.dir, err)
		}
	}
	return w, nil
}

// Events returns the event channel. Closed when Run exits.
func (w *DirWatcher) Events() <-chan FileEvent {
	return w.events
}

// Run pumps events until ctx is cancelled. It starts with a backlog
// scan so summaries written while no bot was running are picked up.
func (w *DirWatcher) Run(ctx context.Context) {
	defer close(w.events)
	defer w.fsw.Close()

	w.scan(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Atomic producers rename into place, which arrives as
			// Create; Write covers non-atomic writers.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.emit(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", log.Error(err))
		}
	}
}

// scan walks every watched directory with its include pattern.
func (w *DirWatcher) scan(ctx context.Context) {
	for _, spec := range w.specs {
		matches, err := doublestar.FilepathGlob(filepath.Join(spec.dir, spec.pattern))
		if err != nil {
			w.logger.Warn("rescan failed", "dir", spec.dir, log.Error(err))
			continue
		}
		for _, path := range matches {
			w.send(ctx, FileEvent{Kind: spec.kind, Path: path})
		}
	}
}

// emit classifies a single fsnotify path against the watch specs.
func (w *DirWatcher) emit(ctx context.Context, path string) {
	if !state.IsStateFile(path) {
		return
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	for _, spec := range w.specs {
		if dir != spec.dir {
			continue
		}
		if ok, _ := doublestar.Match(spec.pattern, base); ok {
			w.send(ctx, FileEvent{Kind: spec.kind, Path: path})
		}
		return
	}
}

func (w *DirWatcher) send(ctx context.Context, event FileEvent) {
	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}
