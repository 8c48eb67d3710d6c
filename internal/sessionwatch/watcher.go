// ABOUTME: Recursive fsnotify watcher over session log directories.
// ABOUTME: Debounces bursts, parses tails off the watch thread, and hands observations to the monitor loop.

package sessionwatch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/swarmdeck/swarmdeck/internal/registry"
)

// debounceWindow is how long a burst of change events is allowed to settle
// before its files are parsed.
const debounceWindow = 500 * time.Millisecond

// observationBuffer is the channel buffer between the watch thread and the
// monitor loop.
const observationBuffer = 64

// Watcher watches session log directories and produces observations. It
// never mutates the registry from the watch goroutines except through the
// startup reconciliation pass, which runs before Start returns; live changes
// cross into the monitor loop over the Observations channel.
type Watcher struct {
	registry *registry.Registry
	dirs     []string
	obs      chan Observation
	fsw      *fsnotify.Watcher
	deb      *debouncer
	now      func() time.Time
	done     chan struct{}
	disabled bool
	logger   *slog.Logger
}

// New creates a watcher over the given directory trees.
func New(reg *registry.Registry, dirs []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		registry: reg,
		dirs:     dirs,
		obs:      make(chan Observation, observationBuffer),
		now:      time.Now,
		done:     make(chan struct{}),
		logger:   logger.With("component", "sessionwatch"),
	}
	w.deb = newDebouncer(debounceWindow, w.flush)
	return w
}

// SetClock overrides the time source used for status inference. Test hook.
func (w *Watcher) SetClock(now func() time.Time) { w.now = now }

// Observations returns the channel the monitor loop drains. The channel is
// never closed; Stop halts the producers, so it simply goes quiet.
func (w *Watcher) Observations() <-chan Observation { return w.obs }

// Start runs the startup reconciliation pass and begins watching. A missing
// watch directory disables the watcher without failing the rest of the
// system.
func (w *Watcher) Start() error {
	var existing []string
	for _, dir := range w.dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			existing = append(existing, dir)
		} else {
			w.logger.Warn("watch directory not found", "dir", dir)
		}
	}
	if len(existing) == 0 {
		w.logger.Warn("no watch directories exist, session watcher disabled")
		w.disabled = true
		return nil
	}

	w.scanExisting(existing)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, session watcher disabled", "error", err)
		w.disabled = true
		return nil
	}
	w.fsw = fsw

	for _, dir := range existing {
		if err := w.watchTree(dir); err != nil {
			w.logger.Warn("watching directory tree failed", "dir", dir, "error", err)
		}
	}

	go w.loop()
	w.logger.Info("session watcher started", "dirs", strings.Join(existing, ","))
	return nil
}

// Stop cancels the debounce timer and stops the underlying watcher. The
// observation channel stays open so a racing flush can never send on a
// closed channel; it just stops receiving.
func (w *Watcher) Stop() {
	if w.disabled {
		return
	}
	close(w.done)
	w.deb.Stop()
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// watchTree registers the directory and all subdirectories.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Debug("adding watch failed", "path", path, "error", err)
			}
		}
		return nil
	})
}

// loop runs on the watch goroutine. It only feeds the debouncer and adds
// watches for new subdirectories; parsing happens on the debounce timer
// goroutine and registry mutation happens in the monitor loop.
func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(ev.Name); err != nil {
						w.logger.Debug("adding watch failed", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if strings.HasSuffix(ev.Name, ".jsonl") {
				w.deb.Add(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

// flush parses a settled burst of changed files and forwards observations.
// Runs on the debounce timer goroutine.
func (w *Watcher) flush(paths []string) {
	for _, path := range paths {
		obs, ok := parseSessionFile(path, w.now())
		if !ok {
			continue
		}
		select {
		case w.obs <- obs:
		case <-w.done:
			return
		}
	}
}

// scanExisting backfills metadata for agents discovered before the watcher
// started. Same enrichment-only rule as live events; stale sessions are
// skipped.
func (w *Watcher) scanExisting(dirs []string) {
	if w.registry.Count() == 0 {
		return
	}
	enriched := 0
	for _, dir := range dirs {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
				return nil
			}
			obs, ok := parseSessionFile(path, w.now())
			if !ok || obs.InferredStatus == registry.StatusOffline {
				return nil
			}
			if Enrich(w.registry, obs) {
				enriched++
			}
			return nil
		})
	}
	if enriched > 0 {
		w.logger.Info("backfilled session metadata", "agents", enriched)
	}
}
