// Package watcher keeps catalogs in sync with their source directories.
// It watches every source tree recursively and, once a catalog has been
// quiet for the configured period, submits a scan job for it. Triggers
// are suppressed while a scan for that catalog is already queued or
// running.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/logger"
	"github.com/irjudson/lumina/internal/media"
)

// scanJobType names the job the watcher submits. It must match the
// registered scan definition.
const scanJobType = "scan"

// Watcher debounces file system activity into scan submissions.
type Watcher struct {
	store *catalog.Store
	ctrl  *jobs.Controller
	bus   events.EventBus
	cfg   config.WatcherConfig

	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	roots map[string]string    // watched root -> catalog ID
	quiet map[string]time.Time // catalog ID -> earliest submit time
}

// New creates a watcher. Call Watch or WatchAll to register catalogs,
// then Start.
func New(store *catalog.Store, ctrl *jobs.Controller, bus events.EventBus, cfg config.WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:  store,
		ctrl:   ctrl,
		bus:    bus,
		cfg:    cfg,
		fsw:    fsw,
		ctx:    ctx,
		cancel: cancel,
		roots:  make(map[string]string),
		quiet:  make(map[string]time.Time),
	}, nil
}

// Watch registers a catalog's source directories. Directories that do
// not exist yet are skipped with a warning; they can be added later by
// calling Watch again.
func (w *Watcher) Watch(catalogID string) error {
	dirs, err := w.store.ListSourceDirectories(catalogID)
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			logger.Warn("skipping unwatchable source directory %s: %v", dir, err)
			continue
		}
		if err := w.addRecursive(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.mu.Lock()
		w.roots[filepath.Clean(dir)] = catalogID
		w.mu.Unlock()
		logger.Info("watching %s for catalog %s", dir, catalogID)
	}
	return nil
}

// WatchAll registers every catalog in the store.
func (w *Watcher) WatchAll() error {
	catalogs, err := w.store.ListCatalogs()
	if err != nil {
		return err
	}
	for _, cat := range catalogs {
		if err := w.Watch(cat.ID); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the event loop.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop cancels the event loop, closes the underlying watcher, and
// waits for the loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	w.fsw.Close()
	w.wg.Wait()
}

// run drains file system events and fires scan submissions once a
// catalog's quiet period elapses.
func (w *Watcher) run() {
	defer w.wg.Done()

	tick := w.cfg.QuietPeriod / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error: %v", err)

		case <-ticker.C:
			w.fireDue()

		case <-w.ctx.Done():
			return
		}
	}
}

// handleEvent classifies one fsnotify event. Media file changes and new
// directories arm the owning catalog's quiet timer; everything else is
// noise.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	catalogID := w.catalogForPath(event.Name)
	if catalogID == "" {
		return
	}

	// New directories need their own watch before their contents
	// produce events. A new directory also counts as a library change:
	// imports usually arrive as a dropped-in folder.
	isDir := false
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			if err := w.addRecursive(event.Name); err != nil {
				logger.Warn("failed to watch new directory %s: %v", event.Name, err)
			}
		}
	}

	if !isDir && !media.IsMedia(event.Name) {
		return
	}

	w.arm(catalogID)

	if w.bus != nil {
		w.bus.PublishAsync(events.NewChannelEvent(events.EventWatcherChange, catalogID, "watcher", map[string]interface{}{
			"path": event.Name,
			"op":   event.Op.String(),
		}))
	}
}

// arm pushes the catalog's submit time out by one quiet period, so a
// burst of changes collapses into a single scan.
func (w *Watcher) arm(catalogID string) {
	w.mu.Lock()
	w.quiet[catalogID] = time.Now().Add(w.cfg.QuietPeriod)
	w.mu.Unlock()
	logger.Debug("change detected in catalog %s; scan armed", catalogID)
}

// fireDue submits scans for catalogs whose quiet period has elapsed.
func (w *Watcher) fireDue() {
	now := time.Now()

	w.mu.Lock()
	var due []string
	for catalogID, at := range w.quiet {
		if now.After(at) {
			due = append(due, catalogID)
			delete(w.quiet, catalogID)
		}
	}
	w.mu.Unlock()

	for _, catalogID := range due {
		w.submitScan(catalogID)
	}
}

// submitScan queues a scan for the catalog unless one is already
// pending or running.
func (w *Watcher) submitScan(catalogID string) {
	if w.scanActive(catalogID) {
		logger.Debug("scan already active for catalog %s; trigger suppressed", catalogID)
		return
	}

	job, err := w.ctrl.Submit(scanJobType, catalogID, nil)
	if err != nil {
		logger.Error("failed to submit watcher scan for catalog %s: %v", catalogID, err)
		return
	}
	logger.Info("watcher submitted scan %s for catalog %s", job.ID, catalogID)
}

func (w *Watcher) scanActive(catalogID string) bool {
	for _, status := range []string{database.JobStatusPending, database.JobStatusRunning} {
		list, err := w.ctrl.List(catalogID, status)
		if err != nil {
			logger.Warn("failed to check active scans for catalog %s: %v", catalogID, err)
			return false
		}
		for _, job := range list {
			if job.JobType == scanJobType {
				return true
			}
		}
	}
	return false
}

// catalogForPath resolves the owning catalog by longest watched-root
// prefix.
func (w *Watcher) catalogForPath(path string) string {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	var best string
	var bestLen int
	for root, catalogID := range w.roots {
		if (path == root || strings.HasPrefix(path, root+string(filepath.Separator))) && len(root) > bestLen {
			best = catalogID
			bestLen = len(root)
		}
	}
	return best
}

// addRecursive watches dir and every directory below it. Subdirectory
// failures are logged and skipped so one unreadable folder does not
// block the rest of the tree.
func (w *Watcher) addRecursive(dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logger.Debug("skipping unwalkable path %s: %v", path, err)
			return nil
		}
		if info.IsDir() && path != dir {
			if err := w.fsw.Add(path); err != nil {
				logger.Debug("failed to watch subdirectory %s: %v", path, err)
			}
		}
		return nil
	})
}
