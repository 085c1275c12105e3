// watcher.go implements hot reload of the configuration file.
// It debounces noisy fsnotify events and re-reads the file on change.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce is a short delay so atomic replaces (write + rename) settle
// before the file is re-read.
const reloadDebounce = 150 * time.Millisecond

// Watcher watches the configuration file and invokes a callback with the
// freshly parsed configuration whenever its content changes.
type Watcher struct {
	configPath     string
	reloadCallback func(*Config)
	watcher        *fsnotify.Watcher

	mu          sync.Mutex
	reloadTimer *time.Timer
	lastHash    string
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(configPath string, reloadCallback func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}
	if data, errRead := os.ReadFile(configPath); errRead == nil {
		w.lastHash = hashBytes(data)
	}
	return w, nil
}

// Start begins watching the configuration file until the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory rather than the file so atomic replaces keep working.
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		log.Errorf("failed to watch config directory for %s: %v", w.configPath, err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relevantOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if event.Op&relevantOps == 0 {
		return
	}
	if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
		return
	}
	log.Debugf("config file event detected: %s %s", event.Op.String(), event.Name)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Warnf("config reload skipped, cannot read %s: %v", w.configPath, err)
		return
	}
	sum := hashBytes(data)

	w.mu.Lock()
	unchanged := sum == w.lastHash
	w.lastHash = sum
	w.mu.Unlock()
	if unchanged {
		log.Debug("config file unchanged (hash match), skipping reload")
		return
	}

	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	log.Info("configuration file changed, applying reload")
	if w.reloadCallback != nil {
		w.reloadCallback(cfg)
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
