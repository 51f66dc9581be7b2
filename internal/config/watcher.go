package config

import (
	"path/filepath"
	"sync"
	"time"

	"expertmine/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches .expertmine/config.yaml for changes and hot-reloads the
// engine tunables and logging config. Secrets and storage paths are not
// reloaded; those require a restart.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	configPath  string
	current     *Config
	onReload    func(*Config)
	lastReload  time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for the given workspace. onReload is invoked
// with the freshly loaded config after every successful reload.
func NewWatcher(workspace string, initial *Config, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fsw,
		configPath:  DefaultPath(workspace),
		current:     initial,
		onReload:    onReload,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. The config directory is watched rather than the file
// itself because editors replace files on save.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.running = true

	go w.loop()
	logging.Boot("Config watcher started: %s", w.configPath)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Warn("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := Load(w.configPath)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("Config reload failed, keeping previous: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("Config reload rejected: %v", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if err := logging.ReloadConfig(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("Logging config reload failed: %v", err)
	}
	if w.onReload != nil {
		w.onReload(cfg)
	}
	logging.Boot("Config reloaded from %s", w.configPath)
}
