// Package writepath implements the engine's write path: stamping
// every write with the current HLC timestamp, serializing values per
// their declared logical type, validating them against schema-declared
// constraints, marking the affected row dirty, and arbitrating
// conflicting column values on ingest from a remote peer.
package writepath

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/dirty"
	"github.com/dsqlite/dsqlite/internal/hlc"
	"github.com/dsqlite/dsqlite/internal/migrate"
	"github.com/dsqlite/dsqlite/internal/schema"
)

// DB is an opened, migrated dsqlite database: the SQL connection, its
// expanded declared schema, the node's HLC clock, and the dirty-row
// store writes publish through.
type DB struct {
	SQL    *sql.DB
	Schema schema.Schema // expanded, including system tables
	Clock  *hlc.Clock
	Dirty  *dirty.Store

	Validator Validator
}

// Open migrates dbPath to match declared (plus the engine's system
// tables) and returns a ready-to-use DB. nodeID seeds the HLC clock;
// callers typically persist one GUID per local database and reuse it
// across process restarts.
func Open(ctx context.Context, dbPath string, declared schema.Schema, nodeID string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, dberrors.New(dberrors.IO, "writepath.Open", err)
	}

	full := declared.WithSystemTables().Expanded()
	if _, err := migrate.Apply(ctx, sqlDB, dbPath, declared.WithSystemTables()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{
		SQL:       sqlDB,
		Schema:    full,
		Clock:     hlc.New(nodeID),
		Dirty:     dirty.New(sqlDB),
		Validator: DefaultValidator,
	}, nil
}

// Close releases the underlying connection and broadcast subscribers.
func (db *DB) Close() error {
	db.Dirty.Dispose()
	return db.SQL.Close()
}

func (db *DB) table(name string) (schema.Table, error) {
	t, ok := db.Schema.Table(name)
	if !ok {
		return schema.Table{}, dberrors.New(dberrors.NotFound, "writepath", fmt.Errorf("table %q is not declared", name))
	}
	return t, nil
}

// Insert creates a new row, stamping system_id/system_version/
// system_created_at/system_is_local_origin and every written LWW
// column's companion __hlc column with one shared HLC timestamp for
// this call, per SPEC_FULL.md §4.G. Insert is the local-write path, so
// every row it creates carries system_is_local_origin=1. The row write
// and its dirty-row marker commit in a single transaction, so a crash
// between them can never leave a committed row with no dirty marker.
// Returns the new row's system_id.
func (db *DB) Insert(ctx context.Context, tableName string, values map[string]interface{}) (string, error) {
	table, err := db.table(tableName)
	if err != nil {
		return "", err
	}
	if err := validateValues(table, values, db.Validator); err != nil {
		return "", err
	}

	stamp := db.Clock.Now()
	systemID := uuid.New().String()

	cols := []string{"system_id", "system_created_at", "system_version", "system_is_local_origin"}
	args := []interface{}{systemID, string(stamp), string(stamp), 1}

	var dirtyColumns []string
	for name, v := range values {
		col, _ := table.Column(name)
		stored, err := toStorage(col, v)
		if err != nil {
			return "", dberrors.New(dberrors.InvalidValue, "writepath.Insert", err)
		}
		cols = append(cols, col.Name)
		args = append(args, stored)
		dirtyColumns = append(dirtyColumns, col.Name)

		if col.LWW {
			cols = append(cols, col.HLCColumnName())
			args = append(args, string(stamp))
		}
	}

	placeholders := make([]string, len(cols))
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		quotedCols[i] = quoteIdent(c)
	}

	stmtSQL := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table.Name), joinComma(quotedCols), joinComma(placeholders))

	row := dirty.Row{Table: table.Name, RowID: systemID, IsFullRow: true, Columns: dirtyColumns, HLC: string(stamp)}

	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return "", dberrors.New(dberrors.IO, "writepath.Insert: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmtSQL, args...); err != nil {
		return "", dberrors.New(dberrors.Constraint, "writepath.Insert", err)
	}
	if err := db.Dirty.AddBatchTx(ctx, tx, []dirty.Row{row}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", dberrors.New(dberrors.IO, "writepath.Insert: commit", err)
	}

	db.Dirty.Notify([]dirty.Row{row})
	return systemID, nil
}

// Update changes only the named columns of an existing row, bumping
// system_version to a fresh HLC stamp and stamping every updated LWW
// column's companion with that same shared timestamp. The row write
// and its dirty-row marker commit in a single transaction.
func (db *DB) Update(ctx context.Context, tableName, systemID string, values map[string]interface{}) error {
	table, err := db.table(tableName)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := validateValues(table, values, db.Validator); err != nil {
		return err
	}

	stamp := db.Clock.Now()

	sets := []string{
		fmt.Sprintf("%s = ?", quoteIdent("system_version")),
	}
	args := []interface{}{string(stamp)}

	var dirtyColumns []string
	for name, v := range values {
		col, _ := table.Column(name)
		stored, err := toStorage(col, v)
		if err != nil {
			return dberrors.New(dberrors.InvalidValue, "writepath.Update", err)
		}
		sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(col.Name)))
		args = append(args, stored)
		dirtyColumns = append(dirtyColumns, col.Name)

		if col.LWW {
			sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(col.HLCColumnName())))
			args = append(args, string(stamp))
		}
	}
	args = append(args, systemID)

	stmtSQL := fmt.Sprintf(`UPDATE %s SET %s WHERE system_id = ?`, quoteIdent(table.Name), joinComma(sets))

	row := dirty.Row{Table: table.Name, RowID: systemID, IsFullRow: false, Columns: dirtyColumns, HLC: string(stamp)}

	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return dberrors.New(dberrors.IO, "writepath.Update: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, stmtSQL, args...)
	if err != nil {
		return dberrors.New(dberrors.Constraint, "writepath.Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberrors.New(dberrors.NotFound, "writepath.Update", fmt.Errorf("no row %s/%s", table.Name, systemID))
	}
	if err := db.Dirty.AddBatchTx(ctx, tx, []dirty.Row{row}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dberrors.New(dberrors.IO, "writepath.Update: commit", err)
	}

	db.Dirty.Notify([]dirty.Row{row})
	return nil
}

// Delete removes a row outright and marks it dirty as a full-row
// change with no Columns. The sync coordinator hands that entry to
// on_send unchanged; it builds no tombstone payload itself. The delete
// and its dirty-row marker commit in a single transaction.
func (db *DB) Delete(ctx context.Context, tableName, systemID string) error {
	table, err := db.table(tableName)
	if err != nil {
		return err
	}

	stamp := db.Clock.Now()
	row := dirty.Row{Table: table.Name, RowID: systemID, IsFullRow: true, HLC: string(stamp)}

	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return dberrors.New(dberrors.IO, "writepath.Delete: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE system_id = ?`, quoteIdent(table.Name)), systemID)
	if err != nil {
		return dberrors.New(dberrors.Constraint, "writepath.Delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberrors.New(dberrors.NotFound, "writepath.Delete", fmt.Errorf("no row %s/%s", table.Name, systemID))
	}
	if err := db.Dirty.AddBatchTx(ctx, tx, []dirty.Row{row}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dberrors.New(dberrors.IO, "writepath.Delete: commit", err)
	}

	db.Dirty.Notify([]dirty.Row{row})
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
