package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsqlite/dsqlite/internal/dirty"
)

func TestDebouncerCoalescesBurstsIntoOneFire(t *testing.T) {
	fired := make(chan struct{}, 10)
	d := newDebouncer(30*time.Millisecond, func() { fired <- struct{}{} })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected debouncer to fire after quiet settles")
	}
	select {
	case <-fired:
		t.Fatal("expected only one fire for a coalesced burst")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerCancelSuppressesPendingFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	d := newDebouncer(30*time.Millisecond, func() { fired <- struct{}{} })
	d.Trigger()
	d.Cancel()

	select {
	case <-fired:
		t.Fatal("expected Cancel to suppress the pending fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTriggerWatcherPollingModeFiresOnMarkerChange(t *testing.T) {
	dir, err := os.MkdirTemp("", "dsqlite-watcher-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	marker := filepath.Join(dir, ".sync-now")
	if err := os.WriteFile(marker, []byte("1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	db := openTestDB(t)
	dirtyStore := dirty.New(db)
	synced := make(chan struct{}, 10)
	coord := New(db, dirtyStore, nil, func(ctx context.Context, watermarks map[string]*string) error {
		synced <- struct{}{}
		return nil
	})

	tw, err := NewTriggerWatcher(coord, marker, 10*time.Millisecond, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewTriggerWatcher: %v", err)
	}
	tw.pollingMode = true // force polling so the test doesn't depend on fsnotify availability
	defer tw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tw.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(marker, []byte("2"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("expected marker change to trigger a sync cycle via polling")
	}
}
