// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package ctxengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher hot-reloads active_config.json when it is edited
// outside the process, so an operator can tune the engine without a
// restart. Events are debounced to absorb editor save storms.
type ConfigWatcher struct {
	manager *AdaptiveConfigManager
	watcher *fsnotify.Watcher
	dir     string

	debounce      time.Duration
	debounceTimer *time.Timer
	debounceMu    sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex

	log *zap.Logger
}

// NewConfigWatcher watches the manager's config directory. The
// directory is created if missing so the watch can be established
// before the first persist.
func NewConfigWatcher(manager *AdaptiveConfigManager, debounce time.Duration, log *zap.Logger) (*ConfigWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if err := os.MkdirAll(manager.configDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &ConfigWatcher{
		manager:  manager,
		watcher:  watcher,
		dir:      manager.configDir,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      log,
	}, nil
}

// Start begins watching for external edits to active_config.json.
func (w *ConfigWatcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go w.loop()
	w.log.Info("config watcher started", zap.String("dir", w.dir))
	return nil
}

// Stop terminates the watch loop and releases the fsnotify handle.
func (w *ConfigWatcher) Stop() {
	w.stopMu.Lock()
	if w.stopped {
		w.stopMu.Unlock()
		return
	}
	w.stopped = true
	w.stopMu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *ConfigWatcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != activeConfigFilename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload resets the debounce timer; the reload runs once the
// file has been quiet for the debounce window.
func (w *ConfigWatcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.reload)
}

// reload applies an externally-edited active_config.json through the
// normal validated update path. Writes the manager itself performed
// are skipped by hash comparison, so persistence does not re-trigger a
// reload.
func (w *ConfigWatcher) reload() {
	b, err := os.ReadFile(filepath.Join(w.dir, activeConfigFilename))
	if err != nil {
		w.log.Warn("active config unreadable on reload", zap.Error(err))
		return
	}
	var config map[string]any
	if err := json.Unmarshal(b, &config); err != nil {
		w.log.Warn("active config not valid JSON, keeping current", zap.Error(err))
		return
	}
	if ConfigHash(config) == ConfigHash(w.manager.GetCurrentConfig()) {
		return
	}
	if err := w.manager.UpdateConfiguration(config, "External edit to active_config.json"); err != nil {
		w.log.Warn("externally edited config rejected", zap.Error(err))
		return
	}
	w.log.Info("configuration hot-reloaded from disk",
		zap.Int("version", w.manager.GetConfigVersion()))
}
