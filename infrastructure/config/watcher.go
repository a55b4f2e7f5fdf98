package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const debounceDelay = 250 * time.Millisecond

// Watcher reloads the YAML config file when it changes. The log level is
// applied live through the atomic level; other settings are handed to the
// OnChange callbacks.
type Watcher struct {
	config    *Config
	level     zap.AtomicLevel
	callbacks []func(*Config)
	mu        sync.RWMutex
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
	load      func() (*Config, error)
}

// NewWatcher starts watching initial.ConfigFile. With no config file it
// returns a watcher that never fires.
func NewWatcher(initial *Config, level zap.AtomicLevel, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		config: initial,
		level:  level,
		logger: logger,
		stopCh: make(chan struct{}),
		load:   LoadConfig,
	}
	if initial.ConfigFile == "" {
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// editors replace files by rename, so watch the directory
	if err := fsWatcher.Add(filepath.Dir(initial.ConfigFile)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	logger.Info("Configuration watcher started",
		zap.String("file", initial.ConfigFile),
	)
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer w.watcher.Close()

	target := filepath.Clean(w.config.ConfigFile)
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	newConfig, err := w.load()
	if err != nil {
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.config
	w.config = newConfig
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if newConfig.LogLevel != old.LogLevel {
		if lvl, err := zapcore.ParseLevel(newConfig.LogLevel); err == nil {
			w.level.SetLevel(lvl)
			w.logger.Info("Log level changed",
				zap.String("from", old.LogLevel),
				zap.String("to", newConfig.LogLevel),
			)
		}
	}

	for _, cb := range callbacks {
		cb(newConfig)
	}
	w.logger.Info("Configuration reloaded", zap.Int("callbacks_notified", len(callbacks)))
}

// OnChange registers a callback run after every successful reload
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Config returns the current configuration
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	w.stopOnce.Do(func() { close(w.stopCh) })
}
