// Package importer loads roster files from a drop folder into the sync
// engine.
//
// The watcher:
// 1. Imports every {group}.json / {group}.toml file in the folder at start
// 2. Watches the folder for created or rewritten roster files
// 3. Debounces rapid writes to the same file before importing it
// 4. Handles graceful shutdown
//
// Removing a file does not remove the roster.
package importer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
)

// Saver stores an imported roster. *roster.Service implements it.
type Saver interface {
	SaveRoster(ctx context.Context, group string, athletes []roster.Athlete) *sync.Write
}

// Config holds configuration for the watcher.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is imported.
	DebounceInterval time.Duration

	// Groups restricts imports to these groups. Empty means any group.
	Groups []string

	// OnImport, if set, is called after every successful import.
	OnImport func(group string, athletes int, w *sync.Write)

	// Logger for importer activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[import] ", log.LstdFlags),
	}
}

// Watcher imports roster files from a directory.
type Watcher struct {
	dir    string
	saver  Saver
	config *Config
	groups map[string]bool

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu gosync.Mutex

	wg gosync.WaitGroup
}

// New creates a Watcher for dir. Use Run to start watching.
func New(dir string, saver Saver, config *Config) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if saver == nil {
		return nil, fmt.Errorf("saver cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	var groups map[string]bool
	if len(config.Groups) > 0 {
		groups = make(map[string]bool, len(config.Groups))
		for _, g := range config.Groups {
			groups[g] = true
		}
	}

	return &Watcher{
		dir:         dir,
		saver:       saver,
		config:      config,
		groups:      groups,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// ImportFile reads one roster file and saves it.
func (w *Watcher) ImportFile(ctx context.Context, path string) error {
	f, err := roster.ReadFile(path)
	if err != nil {
		return err
	}
	if w.groups != nil && !w.groups[f.Group] {
		return fmt.Errorf("group %q is not configured", f.Group)
	}

	write := w.saver.SaveRoster(ctx, f.Group, f.Athletes)
	if write.Status() == sync.StatusFailed {
		return fmt.Errorf("failed to save roster %s: %w", f.Group, write.Wait(ctx).Err)
	}

	w.config.Logger.Printf("Imported %s: %d athletes (%s)", f.Group, len(f.Athletes), filepath.Base(path))
	if w.config.OnImport != nil {
		w.config.OnImport(f.Group, len(f.Athletes), write)
	}
	return nil
}

// ImportAll imports every roster file in the directory once. Individual file
// failures are logged and skipped; the count of imported files is returned.
func (w *Watcher) ImportAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			w.config.Logger.Printf("Import directory doesn't exist: %s (skipping)", w.dir)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read import directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !roster.IsRosterFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	imported := 0
	for _, name := range names {
		if err := w.ImportFile(ctx, filepath.Join(w.dir, name)); err != nil {
			w.config.Logger.Printf("WARNING: Failed to import %s: %v", name, err)
			continue
		}
		imported++
	}
	return imported, nil
}

// Run imports the directory once and then watches it until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}
	if _, err := w.ImportAll(ctx); err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch import directory %s: %w", w.dir, err)
	}
	w.watcher = watcher
	w.config.Logger.Printf("Watching: %s", w.dir)

	w.wg.Add(2)
	go w.watchFileEvents(ctx)
	go w.processChangeQueue(ctx)

	<-ctx.Done()
	if err := watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	w.config.Logger.Println("Importer stopped")
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (w *Watcher) watchFileEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Removals and renames away have nothing to import.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !roster.IsRosterFile(event.Name) {
				continue
			}
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records the latest event time for path.
func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	w.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have been quiet for the
// debounce interval.
func (w *Watcher) processChangeQueue(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.due(time.Now()) {
				if err := w.ImportFile(ctx, path); err != nil {
					w.config.Logger.Printf("WARNING: Failed to import %s: %v", filepath.Base(path), err)
				}
			}
		}
	}
}

// minPollInterval bounds how often the change queue is scanned.
const minPollInterval = time.Millisecond

// pollInterval is half the debounce interval, never below minPollInterval.
func (w *Watcher) pollInterval() time.Duration {
	return max(w.config.DebounceInterval/2, minPollInterval)
}

// due removes and returns the queued paths that are ready to import.
func (w *Watcher) due(now time.Time) []string {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	var ready []string
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}

// Pending returns the number of queued files not yet imported.
func (w *Watcher) Pending() int {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	return len(w.changeQueue)
}
