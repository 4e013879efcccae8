package migrate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dsqlite/dsqlite/internal/schema"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "dsqlite-migrate-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	dbPath := filepath.Join(dir, "test.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, dbPath
}

func TestApplyCreatesDeclaredTable(t *testing.T) {
	db, dbPath := openTestDB(t)
	ctx := context.Background()

	declared := schema.Schema{Tables: []schema.Table{{
		Name: "tasks",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TEXT, Required: true, LWW: true},
		},
	}}}

	plan, err := Apply(ctx, db, dbPath, declared)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(plan.CreateTables) != 1 {
		t.Fatalf("expected one table created, got %+v", plan)
	}

	var name string
	if err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='tasks'`).Scan(&name); err != nil {
		t.Fatalf("expected tasks table to exist: %v", err)
	}

	var hlcCol string
	if err := db.QueryRowContext(ctx, `SELECT name FROM pragma_table_info('tasks') WHERE name = 'title__hlc'`).Scan(&hlcCol); err != nil {
		t.Fatalf("expected title__hlc companion column: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db, dbPath := openTestDB(t)
	ctx := context.Background()

	declared := schema.Schema{Tables: []schema.Table{{
		Name:    "tasks",
		Columns: []schema.Column{{Name: "title", Type: schema.TEXT}},
	}}}

	if _, err := Apply(ctx, db, dbPath, declared); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	plan, err := Apply(ctx, db, dbPath, declared)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected no-op plan on second apply, got %+v", plan)
	}
}

func TestApplyAddsColumnToExistingTable(t *testing.T) {
	db, dbPath := openTestDB(t)
	ctx := context.Background()

	if _, err := Apply(ctx, db, dbPath, schema.Schema{Tables: []schema.Table{{
		Name:    "tasks",
		Columns: []schema.Column{{Name: "title", Type: schema.TEXT}},
	}}}); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	plan, err := Apply(ctx, db, dbPath, schema.Schema{Tables: []schema.Table{{
		Name: "tasks",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TEXT},
			{Name: "notes", Type: schema.TEXT},
		},
	}}})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if len(plan.AlterTables) != 1 || plan.AlterTables[0].RequiresRebuild {
		t.Fatalf("expected additive alter only, got %+v", plan.AlterTables)
	}

	var name string
	if err := db.QueryRowContext(ctx, `SELECT name FROM pragma_table_info('tasks') WHERE name = 'notes'`).Scan(&name); err != nil {
		t.Fatalf("expected notes column to exist: %v", err)
	}
}
