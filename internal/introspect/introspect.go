// Package introspect reads the live structure of a SQLite database —
// what internal/migrate calls the "actual" schema, to be diffed
// against the "declared" schema built with internal/schema.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Column is a live table column as SQLite reports it via
// PRAGMA table_info, keeping the raw type text and default expression
// text so the differ can compare them textually rather than trying to
// recover a schema.LogicalType from SQLite's dynamic typing.
type Column struct {
	Name         string
	RawType      string
	NotNull      bool
	DefaultExpr  string
	HasDefault   bool
	PrimaryKeySeq int // 0 if not part of the primary key
}

// Key is a live index as reported by PRAGMA index_list/index_info.
type Key struct {
	Name    string
	Columns []string
	Unique  bool
	// Origin is SQLite's index_list "origin" field: "c" (CREATE INDEX),
	// "u" (UNIQUE constraint), or "pk" (PRIMARY KEY). Auto-generated
	// indexes (origin != "c") are not subject to rename/drop by name;
	// the differ treats their backing constraint as the source of truth.
	Origin string
}

// Table is a live table's full structure.
type Table struct {
	Name    string
	Columns []Column
	Keys    []Key
}

// View is a live view, with its defining SQL as stored in sqlite_master.
type View struct {
	Name string
	SQL  string
}

// Database is the live structure of an entire SQLite database.
type Database struct {
	Tables []Table
	Views  []View
}

// Table looks up a live table by name.
func (d Database) Table(name string) (Table, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Read introspects the database reachable through conn, skipping
// SQLite's own internal objects (sqlite_% and android_metadata, per
// the same exclusion rule bd applies when scanning sqlite_master).
func Read(ctx context.Context, conn *sql.Conn) (Database, error) {
	names, err := objectNames(ctx, conn, "table")
	if err != nil {
		return Database{}, err
	}

	var db Database
	for _, name := range names {
		tbl, err := readTable(ctx, conn, name)
		if err != nil {
			return Database{}, err
		}
		db.Tables = append(db.Tables, tbl)
	}

	viewRows, err := conn.QueryContext(ctx, `
		SELECT name, sql FROM sqlite_master
		WHERE type = 'view' AND name NOT LIKE 'sqlite_%' AND name != 'android_metadata'
		ORDER BY name`)
	if err != nil {
		return Database{}, fmt.Errorf("introspect: list views: %w", err)
	}
	defer viewRows.Close()
	for viewRows.Next() {
		var v View
		var sqlText sql.NullString
		if err := viewRows.Scan(&v.Name, &sqlText); err != nil {
			return Database{}, fmt.Errorf("introspect: scan view: %w", err)
		}
		v.SQL = sqlText.String
		db.Views = append(db.Views, v)
	}
	if err := viewRows.Err(); err != nil {
		return Database{}, fmt.Errorf("introspect: iterate views: %w", err)
	}

	return db, nil
}

func objectNames(ctx context.Context, conn *sql.Conn, objType string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = ? AND name NOT LIKE 'sqlite_%' AND name != 'android_metadata'
		ORDER BY name`, objType)
	if err != nil {
		return nil, fmt.Errorf("introspect: list %ss: %w", objType, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("introspect: scan %s name: %w", objType, err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func readTable(ctx context.Context, conn *sql.Conn, name string) (Table, error) {
	tbl := Table{Name: name}

	// PRAGMA calls don't accept bound parameters; name comes from
	// sqlite_master so it's a trusted identifier, not user input.
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(name)))
	if err != nil {
		return Table{}, fmt.Errorf("introspect: table_info(%s): %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			colName    string
			rawType    string
			notNull    int
			dflt       sql.NullString
			pkSeq      int
		)
		if err := rows.Scan(&cid, &colName, &rawType, &notNull, &dflt, &pkSeq); err != nil {
			return Table{}, fmt.Errorf("introspect: scan table_info(%s): %w", name, err)
		}
		tbl.Columns = append(tbl.Columns, Column{
			Name:          colName,
			RawType:       strings.ToUpper(rawType),
			NotNull:       notNull != 0,
			DefaultExpr:   dflt.String,
			HasDefault:    dflt.Valid,
			PrimaryKeySeq: pkSeq,
		})
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("introspect: iterate table_info(%s): %w", name, err)
	}

	keys, err := readKeys(ctx, conn, name)
	if err != nil {
		return Table{}, err
	}
	tbl.Keys = keys

	return tbl, nil
}

func readKeys(ctx context.Context, conn *sql.Conn, table string) ([]Key, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("introspect: index_list(%s): %w", table, err)
	}
	defer rows.Close()

	type idxMeta struct {
		name   string
		unique bool
		origin string
	}
	var metas []idxMeta
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("introspect: scan index_list(%s): %w", table, err)
		}
		metas = append(metas, idxMeta{name: name, unique: unique != 0, origin: origin})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var keys []Key
	for _, m := range metas {
		cols, err := readIndexColumns(ctx, conn, m.name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, Key{Name: m.name, Columns: cols, Unique: m.unique, Origin: m.origin})
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

func readIndexColumns(ctx context.Context, conn *sql.Conn, index string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_info(%s)`, quoteIdent(index)))
	if err != nil {
		return nil, fmt.Errorf("introspect: index_info(%s): %w", index, err)
	}
	defer rows.Close()

	type colAt struct {
		seqno int
		name  string
	}
	var cols []colAt
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("introspect: scan index_info(%s): %w", index, err)
		}
		cols = append(cols, colAt{seqno: seqno, name: name.String})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].seqno < cols[j].seqno })

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names, nil
}

// quoteIdent double-quote-escapes a SQLite identifier sourced from
// sqlite_master, for embedding into PRAGMA statements that don't
// support bound parameters.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
