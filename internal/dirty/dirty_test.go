package dirty

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "dsqlite-dirty-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := sql.Open("sqlite3", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE __dirty_rows (
			table_name TEXT NOT NULL,
			row_id TEXT NOT NULL,
			hlc TEXT NOT NULL,
			is_full_row INTEGER NOT NULL DEFAULT 1,
			columns_json TEXT
		);
		CREATE UNIQUE INDEX pk___dirty_rows ON __dirty_rows (table_name, row_id);
	`)
	if err != nil {
		t.Fatalf("create __dirty_rows: %v", err)
	}
	return db
}

func TestAddThenGetAll(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	if err := s.Add(ctx, Row{Table: "tasks", RowID: "r1", IsFullRow: true, HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rows, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(rows) != 1 || rows[0].RowID != "r1" {
		t.Fatalf("expected one dirty row r1, got %+v", rows)
	}
}

func TestAddReplacesExistingEntry(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	if err := s.Add(ctx, Row{Table: "tasks", RowID: "r1", Columns: []string{"title"}, HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, Row{Table: "tasks", RowID: "r1", Columns: []string{"notes"}, HLC: "000000000000002:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rows, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one surviving entry after replace, got %d", len(rows))
	}
	if len(rows[0].Columns) != 1 || rows[0].Columns[0] != "notes" {
		t.Fatalf("expected latest columns to win, got %+v", rows[0].Columns)
	}
}

func TestRemoveAndClear(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	r1HLC := "000000000000001:00000:node-a"
	_ = s.Add(ctx, Row{Table: "tasks", RowID: "r1", HLC: r1HLC})
	_ = s.Add(ctx, Row{Table: "tasks", RowID: "r2", HLC: "000000000000002:00000:node-a"})

	if err := s.Remove(ctx, "tasks", "r1", r1HLC, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rows, _ := s.GetAll(ctx)
	if len(rows) != 1 || rows[0].RowID != "r2" {
		t.Fatalf("expected only r2 to remain, got %+v", rows)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rows, _ = s.GetAll(ctx)
	if len(rows) != 0 {
		t.Fatalf("expected no rows after Clear, got %+v", rows)
	}
}

func TestSubscribePublishesOnAdd(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	ch, cancel := s.Subscribe(4)
	defer cancel()

	if err := s.Add(ctx, Row{Table: "tasks", RowID: "r1", HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Row.RowID != "r1" {
			t.Fatalf("expected event for r1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dirty-row event")
	}
}

func TestLateSubscriberDoesNotSeePastEvents(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	if err := s.Add(ctx, Row{Table: "tasks", RowID: "r1", HLC: "000000000000001:00000:node-a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ch, cancel := s.Subscribe(4)
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("late subscriber should not see past event, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisposeClosesSubscriberChannels(t *testing.T) {
	db := openTestDB(t)
	s := New(db)

	ch, _ := s.Subscribe(4)
	s.Dispose()

	_, ok := <-ch
	if ok {
		t.Fatal("expected subscriber channel to be closed after Dispose")
	}
}
