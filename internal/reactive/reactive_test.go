package reactive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dsqlite/dsqlite/internal/dirty"
	"github.com/dsqlite/dsqlite/internal/query"
)

func setup(t *testing.T) (*sql.DB, *dirty.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "dsqlite-reactive-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := sql.Open("sqlite3", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`
		CREATE TABLE tasks (system_id TEXT PRIMARY KEY, title TEXT);
		CREATE TABLE __dirty_rows (
			table_name TEXT NOT NULL, row_id TEXT NOT NULL, hlc TEXT NOT NULL,
			is_full_row INTEGER NOT NULL DEFAULT 1, columns_json TEXT
		);
		CREATE UNIQUE INDEX pk___dirty_rows ON __dirty_rows (table_name, row_id);
	`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return db, dirty.New(db)
}

func TestSubscribeDeliversInitialResultSynchronously(t *testing.T) {
	db, dirtyStore := setup(t)
	if _, err := db.Exec(`INSERT INTO tasks (system_id, title) VALUES ('1', 'first')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	mgr := New(db, dirtyStore, nil, 0)
	defer mgr.Close()

	var got Result
	unsub := mgr.Subscribe(query.From("tasks"), func(r Result) { got = r })
	defer unsub()

	if got.Err != nil {
		t.Fatalf("unexpected error: %v", got.Err)
	}
	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got.Rows))
	}
}

func TestSubscriptionRerunsOnDirtyEvent(t *testing.T) {
	db, dirtyStore := setup(t)

	mgr := New(db, dirtyStore, nil, 0)
	defer mgr.Close()

	results := make(chan Result, 10)
	unsub := mgr.Subscribe(query.From("tasks"), func(r Result) { results <- r })
	defer unsub()

	<-results // initial empty result

	if _, err := db.Exec(`INSERT INTO tasks (system_id, title) VALUES ('1', 'first')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := dirtyStore.Add(context.Background(), dirty.Row{Table: "tasks", RowID: "1", IsFullRow: true, HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case r := <-results:
		if len(r.Rows) != 1 {
			t.Fatalf("expected rerun to see 1 row, got %d", len(r.Rows))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rerun")
	}
}

func TestUnrelatedTableDoesNotTriggerRerun(t *testing.T) {
	db, dirtyStore := setup(t)

	mgr := New(db, dirtyStore, nil, 0)
	defer mgr.Close()

	results := make(chan Result, 10)
	unsub := mgr.Subscribe(query.From("tasks"), func(r Result) { results <- r })
	defer unsub()

	<-results // initial result

	if err := dirtyStore.Add(context.Background(), dirty.Row{Table: "other_table", RowID: "1", HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case r := <-results:
		t.Fatalf("did not expect rerun for unrelated table, got %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeStopsFurtherRuns(t *testing.T) {
	db, dirtyStore := setup(t)

	mgr := New(db, dirtyStore, nil, 0)
	defer mgr.Close()

	results := make(chan Result, 10)
	unsub := mgr.Subscribe(query.From("tasks"), func(r Result) { results <- r })
	<-results // initial

	unsub()

	if err := dirtyStore.Add(context.Background(), dirty.Row{Table: "tasks", RowID: "1", HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case r := <-results:
		t.Fatalf("did not expect rerun after unsubscribe, got %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
}
