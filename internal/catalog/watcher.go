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

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/courier/internal/log"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads an integrations file when it changes. The parent
// directory is watched rather than the file so editors that save by
// rename are still seen.
type Watcher struct {
	path     string
	syncer   *Syncer
	debounce time.Duration
	logger   *slog.Logger

	// onReload, when set, receives the result of every reload.
	onReload func(Summary, error)

	mu    sync.Mutex
	timer *time.Timer

	// reloading is held for a whole read-and-apply so a slow reload is
	// never overtaken by a later one.
	reloading sync.Mutex
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadHook registers a callback run after each reload.
func WithReloadHook(fn func(Summary, error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, syncer *Syncer, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     absPath,
		syncer:   syncer,
		debounce: DefaultDebounce,
		logger:   log.WithComponent(logger, "catalog").With(slog.String("path", absPath)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Load applies the file once.
func (w *Watcher) Load(ctx context.Context) (Summary, error) {
	configs, err := LoadFile(w.path)
	if err != nil {
		return Summary{}, err
	}
	return w.syncer.Apply(ctx, configs)
}

// Run watches the file until ctx is done. A reload that fails is logged
// and the previous state stays in place.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}
	w.logger.Info("integrations file watcher started")

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("integrations file watcher stopped")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				w.logger.Debug("ignoring event", slog.String("op", event.Op.String()))
				continue
			}
			w.schedule(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", log.Error(err))
		}
	}
}

// schedule (re)starts the settle timer; the reload runs once writes stop.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload(ctx context.Context) {
	w.reloading.Lock()
	defer w.reloading.Unlock()

	if ctx.Err() != nil {
		return
	}
	sum, err := w.Load(ctx)
	if err != nil {
		w.logger.Error("failed to reload integrations file", log.Error(err))
	}
	if w.onReload != nil {
		w.onReload(sum, err)
	}
}
