package dsqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dsqlite "github.com/dsqlite/dsqlite"
)

func TestOpenInsertAndReadBack(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	declared := dsqlite.Schema{Tables: []dsqlite.Table{{
		Name: "notes",
		Columns: []dsqlite.Column{
			{Name: "body", Type: dsqlite.TEXT, Required: true, LWW: true},
		},
	}}}

	ctx := context.Background()
	db, err := dsqlite.Open(ctx, dbPath, declared, "node-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	id, err := db.Insert(ctx, "notes", map[string]interface{}{"body": "hello"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty system_id")
	}
}

func TestReactiveSubscriptionSeesNewRow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	declared := dsqlite.Schema{Tables: []dsqlite.Table{{
		Name: "notes",
		Columns: []dsqlite.Column{
			{Name: "body", Type: dsqlite.TEXT, LWW: true},
		},
	}}}

	ctx := context.Background()
	db, err := dsqlite.Open(ctx, dbPath, declared, "node-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	mgr := dsqlite.NewReactiveManager(db, nil, 0)
	defer mgr.Close()

	results := make(chan dsqlite.ReactiveResult, 10)
	unsub := mgr.Subscribe(dsqlite.From("notes"), func(r dsqlite.ReactiveResult) { results <- r })
	defer unsub()

	<-results // initial empty run

	if _, err := db.Insert(ctx, "notes", map[string]interface{}{"body": "x"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if len(r.Rows) != 1 {
			t.Fatalf("expected 1 row after insert, got %d", len(r.Rows))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reactive re-run")
	}
}

func TestSyncCoordinatorClearsDirtyRowsOnAcceptedSend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	declared := dsqlite.Schema{Tables: []dsqlite.Table{{
		Name: "notes",
		Columns: []dsqlite.Column{
			{Name: "body", Type: dsqlite.TEXT, LWW: true},
		},
	}}}

	ctx := context.Background()
	db, err := dsqlite.Open(ctx, dbPath, declared, "node-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Insert(ctx, "notes", map[string]interface{}{"body": "x"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	coord := dsqlite.NewSyncCoordinator(db,
		func(ctx context.Context, rows []dsqlite.DirtyRow) (bool, error) { return true, nil },
		func(ctx context.Context, watermarks map[string]*string) error { return nil },
	)

	if err := coord.PerformSync(ctx); err != nil {
		t.Fatalf("PerformSync: %v", err)
	}

	remaining, err := db.Dirty.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected dirty rows cleared after accepted sync, got %d", len(remaining))
	}
}

func TestErrorKindRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	declared := dsqlite.Schema{Tables: []dsqlite.Table{{
		Name: "notes",
		Columns: []dsqlite.Column{
			{Name: "body", Type: dsqlite.TEXT, Required: true},
		},
	}}}

	ctx := context.Background()
	db, err := dsqlite.Open(ctx, dbPath, declared, "node-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Update(ctx, "notes", "does-not-exist", map[string]interface{}{"body": "x"}); err == nil {
		t.Fatal("expected an error updating a nonexistent row")
	} else if !dsqlite.IsKind(err, dsqlite.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}
