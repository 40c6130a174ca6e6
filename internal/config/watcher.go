// internal/config/watcher.go
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tycho01/parsz/internal/utils"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// FileWatcher calls its callbacks when a watched file is written or
// replaced. It watches the parent directories so editors that save through
// a rename are seen too.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	paths     map[string]bool
	callbacks []func(path string)
	debounce  time.Duration
	timers    map[string]*time.Timer
	logger    utils.Logger
	mu        sync.Mutex
	stopped   bool
	done      chan struct{}
}

// NewFileWatcher watches paths. A nil logger discards.
func NewFileWatcher(logger utils.Logger, paths ...string) (*FileWatcher, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:  watcher,
		paths:    make(map[string]bool, len(paths)),
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
		logger:   logger,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		fw.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go fw.watch()
	return fw, nil
}

// OnChange registers a callback to be called with the changed path.
func (fw *FileWatcher) OnChange(callback func(path string)) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.callbacks = append(fw.callbacks, callback)
}

func (fw *FileWatcher) watch() {
	defer close(fw.done)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !fw.paths[name] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				fw.schedule(name)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warnf("file watcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) schedule(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.stopped {
		return
	}
	if t, ok := fw.timers[path]; ok {
		t.Reset(fw.debounce)
		return
	}
	fw.timers[path] = time.AfterFunc(fw.debounce, func() { fw.fire(path) })
}

func (fw *FileWatcher) fire(path string) {
	fw.mu.Lock()
	delete(fw.timers, path)
	if fw.stopped {
		fw.mu.Unlock()
		return
	}
	callbacks := make([]func(string), len(fw.callbacks))
	copy(callbacks, fw.callbacks)
	fw.mu.Unlock()

	fw.logger.WithField("path", path).Debug("file changed")
	for _, callback := range callbacks {
		callback(path)
	}
}

// Close stops the watcher and releases resources
func (fw *FileWatcher) Close() error {
	fw.mu.Lock()
	fw.stopped = true
	for _, t := range fw.timers {
		t.Stop()
	}
	fw.mu.Unlock()

	err := fw.watcher.Close()
	<-fw.done
	return err
}

// ConfigWatcher reloads a configuration file when it changes.
type ConfigWatcher struct {
	*FileWatcher
	configPath string
}

// NewConfigWatcher creates a new configuration file watcher
func NewConfigWatcher(configPath string, logger utils.Logger) (*ConfigWatcher, error) {
	fw, err := NewFileWatcher(logger, configPath)
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{FileWatcher: fw, configPath: configPath}, nil
}

// OnReload registers a callback for each successfully reloaded
// configuration. Files that fail to load or validate are logged and skipped.
func (cw *ConfigWatcher) OnReload(callback func(*Config)) {
	cw.OnChange(func(string) {
		config, err := Load(cw.configPath)
		if err != nil {
			cw.logger.Errorf("failed to reload config: %v", err)
			return
		}
		callback(config)
	})
}
