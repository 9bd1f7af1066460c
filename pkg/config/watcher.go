package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly loaded configuration after a successful
// reload. Callbacks must not block; long work belongs on their own goroutine.
type ReloadFunc func(*Config)

// Watcher reloads maestro.yaml when it changes on disk and hands the result
// to the registered callback. Only tunables are expected to take effect at
// runtime; changes to the MCP server set still require a restart.
type Watcher struct {
	configDir string
	onReload  ReloadFunc
	debounce  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a config watcher for the given directory.
func NewWatcher(configDir string, onReload ReloadFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		configDir: configDir,
		onReload:  onReload,
		debounce:  500 * time.Millisecond,
		logger:    logger.With("component", "config_watcher"),
	}
}

// Start begins watching. Idempotent; returns an error only when the watch
// cannot be established.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a file-level watch.
	if err := fsw.Add(w.configDir); err != nil {
		_ = fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.watcher = fsw
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(runCtx)

	w.logger.Info("Watching configuration", "dir", w.configDir, "file", ConfigFileName)
	return nil
}

// Stop halts watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	_ = w.watcher.Close()
	w.watcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	done := w.done
	w.mu.Unlock()

	<-done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ConfigFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error", "error", err)
		}
	}
}

// scheduleReload debounces rapid successive writes into one reload.
func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.reload(ctx)
	})
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Initialize(ctx, w.configDir)
	if err != nil {
		// Keep running on the previous configuration.
		w.logger.Warn("Config reload failed, keeping previous configuration", "error", err)
		return
	}
	w.logger.Info("Configuration reloaded")
	w.onReload(cfg)
}
