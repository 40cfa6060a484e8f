package fleet

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configDebounce absorbs the burst of write/rename/chmod events a single
// editor save produces before triggering one Reload, mirroring the
// debounced-watch shape used elsewhere in the example pack for filesystem
// change monitors.
const configDebounce = 300 * time.Millisecond

// watchConfig watches the fleet description file's directory and calls
// Reload on write/create/rename events that touch that file, in addition
// to the explicit reload() control-plane operation, per spec §4.2. It
// runs until ctx is cancelled; watcher setup failures are logged and
// treated as hot-reload simply being unavailable, not a fatal error.
func (m *Manager) watchConfig(ctx context.Context) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()
	if cfg == nil || cfg.Path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("config hot-reload unavailable", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(cfg.Dir); err != nil {
		m.logger.Warn("config hot-reload unavailable", "error", err, "dir", cfg.Dir)
		return
	}

	target := filepath.Clean(cfg.Path)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		var debounceC <-chan time.Time
		if debounceTimer != nil {
			debounceC = debounceTimer.C
		}
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !(event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)) {
				continue
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(configDebounce)
			} else {
				debounceTimer.Reset(configDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		case <-debounceC:
			debounceTimer = nil
			if _, err := m.Reload(); err != nil {
				m.logger.Error("config hot-reload failed", "error", err)
			}
		}
	}
}
