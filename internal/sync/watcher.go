package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dsqlite/dsqlite/internal/dblog"
)

// debouncer coalesces a burst of Trigger calls into a single firing
// of fn after quiet settles for window, grounded on the teacher's
// debounced file-watcher trigger idiom.
type debouncer struct {
	mu     sync.Mutex
	timer  *time.Timer
	window time.Duration
	fn     func()
}

func newDebouncer(window time.Duration, fn func()) *debouncer {
	return &debouncer{window: window, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// TriggerWatcher watches a filesystem marker path (e.g. a ".sync-now"
// touch file, or a database's "-wal" file) and calls PerformSync
// whenever it changes, debouncing bursts and falling back to polling
// if fsnotify can't watch the path. It is a caller-owned convenience,
// never invoked internally by Coordinator.PerformSync — the
// coordinator itself owns no timer.
type TriggerWatcher struct {
	coordinator *Coordinator
	markerPath  string
	parentDir   string

	watcher     *fsnotify.Watcher
	debounce    *debouncer
	pollingMode bool
	pollInterval time.Duration
	lastModTime time.Time
	lastExists  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTriggerWatcher builds a watcher over markerPath that invokes
// coordinator.PerformSync (with context.Background) after debounce
// quiet time. Falls back to polling at pollInterval if fsnotify
// setup fails; pollInterval <= 0 defaults to 5 seconds.
func NewTriggerWatcher(coordinator *Coordinator, markerPath string, debounce time.Duration, pollInterval time.Duration) (*TriggerWatcher, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	tw := &TriggerWatcher{
		coordinator:  coordinator,
		markerPath:   markerPath,
		parentDir:    filepath.Dir(markerPath),
		pollInterval: pollInterval,
	}
	tw.debounce = newDebouncer(debounce, tw.fire)

	if stat, err := os.Stat(markerPath); err == nil {
		tw.lastModTime = stat.ModTime()
		tw.lastExists = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		dblog.Warnf("sync: fsnotify unavailable (%v), falling back to polling every %v", err, tw.pollInterval)
		tw.pollingMode = true
		return tw, nil
	}

	if err := watcher.Add(tw.parentDir); err != nil {
		dblog.Warnf("sync: failed to watch %s: %v, falling back to polling", tw.parentDir, err)
		_ = watcher.Close()
		tw.pollingMode = true
		return tw, nil
	}

	tw.watcher = watcher
	return tw, nil
}

func (tw *TriggerWatcher) fire() {
	if err := tw.coordinator.PerformSync(context.Background()); err != nil {
		dblog.Errorf("sync: triggered PerformSync failed: %v", err)
	}
}

// Start begins monitoring until ctx is cancelled or Close is called.
func (tw *TriggerWatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	tw.cancel = cancel

	if tw.pollingMode {
		tw.startPolling(ctx)
		return
	}

	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		base := filepath.Base(tw.markerPath)
		for {
			select {
			case event, ok := <-tw.watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == base && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) != 0 {
					tw.debounce.Trigger()
				}
			case err, ok := <-tw.watcher.Errors:
				if !ok {
					return
				}
				dblog.Warnf("sync: watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (tw *TriggerWatcher) startPolling(ctx context.Context) {
	ticker := time.NewTicker(tw.pollInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stat, err := os.Stat(tw.markerPath)
				switch {
				case err != nil && tw.lastExists:
					tw.lastExists = false
					tw.debounce.Trigger()
				case err == nil && !tw.lastExists:
					tw.lastExists = true
					tw.lastModTime = stat.ModTime()
					tw.debounce.Trigger()
				case err == nil && !stat.ModTime().Equal(tw.lastModTime):
					tw.lastModTime = stat.ModTime()
					tw.debounce.Trigger()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops monitoring and releases resources.
func (tw *TriggerWatcher) Close() error {
	if tw.cancel != nil {
		tw.cancel()
	}
	tw.wg.Wait()
	tw.debounce.Cancel()
	if tw.watcher != nil {
		return tw.watcher.Close()
	}
	return nil
}
