// Copyright 2025 The Obskit Authors
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

package plugin

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obskit/obskit/pkg/errors"
)

// Watcher monitors the obskit config file for changes and triggers a reload
// callback after a debounce window. Editors that write via rename (vim, most
// IDEs) are handled by watching the parent directory and filtering by name.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher.
	fsWatcher *fsnotify.Watcher

	// path is the absolute config file path being watched.
	path string

	// onChange is invoked after the debounce window elapses.
	onChange func()

	// debounceDelay is the quiet period required before onChange fires.
	debounceDelay time.Duration

	// pending is the active debounce timer, if any.
	pending *time.Timer

	// logger is used for structured logging.
	logger *slog.Logger

	// mu protects pending.
	mu sync.Mutex

	// cancel stops the event loop.
	cancel context.CancelFunc

	// wg tracks the event loop goroutine.
	wg sync.WaitGroup
}

// WatcherConfig configures the config file watcher.
type WatcherConfig struct {
	// Path is the config file to watch (required).
	Path string

	// OnChange is invoked after changes settle (required).
	OnChange func()

	// DebounceDelay is the quiet period before OnChange fires (default 500ms).
	DebounceDelay time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// NewWatcher creates and starts a config file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("watch path is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("onChange callback is required")
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "resolving watch path")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}

	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, errors.Wrapf(err, "watching %s", filepath.Dir(abs))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.DebounceDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:     fsWatcher,
		path:          abs,
		onChange:      cfg.OnChange,
		debounceDelay: delay,
		logger:        logger,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.run(ctx)

	return w, nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	return err
}

// run processes filesystem events until the watcher is closed.
func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// scheduleReload (re)arms the debounce timer.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, func() {
		w.logger.Info("config change detected, reloading plugins", "path", w.path)
		w.onChange()
	})
}
