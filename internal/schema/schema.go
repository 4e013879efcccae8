// Package schema models the declarative, CRDT-aware table/view
// structure a dsqlite database is built from: the logical shape an
// embedder declares, independent of how it got onto disk (Go literals
// or a TOML file) or what currently exists in the database (see
// internal/introspect for that side).
package schema

import "fmt"

// LogicalType is a column's declared type, independent of the raw
// SQLite storage class it compiles to.
type LogicalType int

const (
	TEXT LogicalType = iota
	INTEGER
	REAL
	BLOB
	// GUID is stored as TEXT; system_id and foreign-key references use it.
	GUID
	// DATE is stored as TEXT in RFC3339Nano form.
	DATE
	// FILESET is stored as TEXT holding a JSON array of file metadata IDs.
	FILESET
)

func (t LogicalType) String() string {
	switch t {
	case TEXT:
		return "TEXT"
	case INTEGER:
		return "INTEGER"
	case REAL:
		return "REAL"
	case BLOB:
		return "BLOB"
	case GUID:
		return "GUID"
	case DATE:
		return "DATE"
	case FILESET:
		return "FILESET"
	default:
		return "UNKNOWN"
	}
}

// SQLiteStorageClass returns the raw SQLite type affinity the logical
// type compiles to.
func (t LogicalType) SQLiteStorageClass() string {
	switch t {
	case INTEGER:
		return "INTEGER"
	case REAL:
		return "REAL"
	case BLOB:
		return "BLOB"
	default: // TEXT, GUID, DATE, FILESET
		return "TEXT"
	}
}

// Column is a single declared table column.
type Column struct {
	Name     string
	Type     LogicalType
	Required bool
	// LWW marks this column as participating in last-write-wins
	// conflict resolution; Expand injects a companion "<name>__hlc"
	// column to carry its per-column timestamp.
	LWW bool
	// Default is a raw SQL default expression (e.g. "0", "''",
	// "CURRENT_TIMESTAMP"), or empty for no default.
	Default string

	// Validation constraints, enforced by internal/writepath.
	MaxLength    int      // 0 means unbounded; only meaningful for TEXT
	ValidValues  []string // non-empty restricts to an enum
	MaxFileCount int      // 0 means unbounded; only meaningful for FILESET
}

// HLCColumnName returns the companion column name used to carry this
// column's last-write-wins timestamp.
func (c Column) HLCColumnName() string {
	return c.Name + "__hlc"
}

// KeyKind classifies what a Key represents: PRIMARY (the table's
// primary key, rendered inline in CREATE TABLE), UNIQUE (a UNIQUE
// index), or INDEX (a plain non-unique index).
type KeyKind int

const (
	KeyIndex KeyKind = iota
	KeyUnique
	KeyPrimary
)

func (k KeyKind) String() string {
	switch k {
	case KeyUnique:
		return "UNIQUE"
	case KeyPrimary:
		return "PRIMARY"
	default:
		return "INDEX"
	}
}

// Key is a named index or constraint over an ordered set of columns.
type Key struct {
	Name    string
	Columns []string
	Kind    KeyKind
}

// SystemColumns are injected into every non-system table by Expand, in
// this fixed order. system_created_at and system_version carry HLC
// strings (the same lexicographically sortable form as a column's
// __hlc companion), not wall-clock timestamps.
func SystemColumns() []Column {
	return []Column{
		{Name: "system_id", Type: GUID, Required: true},
		{Name: "system_created_at", Type: TEXT, Required: true},
		{Name: "system_version", Type: TEXT, Required: true},
		{Name: "system_is_local_origin", Type: INTEGER, Required: true, Default: "1"},
	}
}

// SystemPrimaryKey is the key Expand injects over system_id.
func SystemPrimaryKey() Key {
	return Key{Name: "pk_system_id", Columns: []string{"system_id"}, Kind: KeyPrimary}
}

// SystemTables returns the engine's four built-in tables — __settings,
// __files, __dirty_rows, __sync_server_timestamps — marked System so
// Expand leaves them untouched. Every Open call migrates these
// alongside the caller's declared tables.
func SystemTables() []Table {
	return []Table{
		{
			Name:   "__settings",
			System: true,
			Columns: []Column{
				{Name: "key", Type: TEXT, Required: true},
				{Name: "value", Type: TEXT},
			},
			Keys: []Key{{Name: "pk___settings_key", Columns: []string{"key"}, Kind: KeyUnique}},
		},
		{
			Name:   "__files",
			System: true,
			Columns: []Column{
				{Name: "id", Type: GUID, Required: true},
				{Name: "path", Type: TEXT, Required: true},
				{Name: "size_bytes", Type: INTEGER, Required: true, Default: "0"},
				{Name: "content_type", Type: TEXT},
				{Name: "created_at", Type: DATE, Required: true},
			},
			Keys: []Key{{Name: "pk___files_id", Columns: []string{"id"}, Kind: KeyUnique}},
		},
		{
			Name:   "__dirty_rows",
			System: true,
			Columns: []Column{
				{Name: "table_name", Type: TEXT, Required: true},
				{Name: "row_id", Type: TEXT, Required: true},
				{Name: "hlc", Type: TEXT, Required: true},
				{Name: "is_full_row", Type: INTEGER, Required: true, Default: "1"},
				{Name: "columns_json", Type: TEXT},
			},
			Keys: []Key{{Name: "pk___dirty_rows", Columns: []string{"table_name", "row_id"}, Kind: KeyUnique}},
		},
		{
			Name:   "__sync_server_timestamps",
			System: true,
			Columns: []Column{
				{Name: "table_name", Type: TEXT, Required: true},
				{Name: "last_server_hlc", Type: TEXT},
			},
			Keys: []Key{{Name: "pk___sync_server_timestamps", Columns: []string{"table_name"}, Kind: KeyUnique}},
		},
	}
}

// WithSystemTables returns a copy of s with the engine's system tables
// appended, so callers pass the combined set through Expanded/Diff.
func (s Schema) WithSystemTables() Schema {
	out := Schema{Views: s.Views}
	out.Tables = append(out.Tables, s.Tables...)
	out.Tables = append(out.Tables, SystemTables()...)
	return out
}

// Table is a declared table: its user-authored columns and keys,
// before system-column/HLC-companion expansion.
type Table struct {
	Name    string
	Columns []Column
	Keys    []Key
	// System marks tables the engine itself owns (__settings, __files,
	// __dirty_rows, __sync_server_timestamps); Expand leaves these
	// untouched — they opt out of system-column/LWW injection.
	System bool
}

// Expand returns a copy of the table with system columns and, for
// every LWW column, its "<name>__hlc" companion appended. System
// tables are returned unchanged.
func (t Table) Expand() Table {
	if t.System {
		return t
	}

	expanded := Table{Name: t.Name, System: t.System}
	expanded.Columns = append(expanded.Columns, SystemColumns()...)
	expanded.Columns = append(expanded.Columns, t.Columns...)

	for _, col := range t.Columns {
		if col.LWW {
			expanded.Columns = append(expanded.Columns, Column{
				Name:     col.HLCColumnName(),
				Type:     TEXT,
				Required: false,
			})
		}
	}

	expanded.Keys = append(expanded.Keys, SystemPrimaryKey())
	expanded.Keys = append(expanded.Keys, t.Keys...)
	return expanded
}

// Column looks up a column by name (searching the expanded set).
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// View is a named, declared query. Its SQL is opaque to the schema
// package. internal/query adds the tables behind a view only when its
// ViewResolver maps the view name to a query.Query; otherwise a query
// over the view depends on the view's own name alone.
type View struct {
	Name   string
	RawSQL string
}

// Schema is the full declared structure of a database: its tables and
// views, before expansion.
type Schema struct {
	Tables []Table
	Views  []View
}

// Expanded returns a new Schema with every non-system table's Expand
// applied. Views pass through unchanged.
func (s Schema) Expanded() Schema {
	out := Schema{Views: s.Views}
	for _, t := range s.Tables {
		out.Tables = append(out.Tables, t.Expand())
	}
	return out
}

// Table looks up a declared table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Validate checks structural invariants that must hold before a
// Schema can be diffed or migrated: unique table names, unique column
// names per table, and every key referencing columns that exist.
func (s Schema) Validate() error {
	seen := map[string]bool{}
	for _, t := range s.Tables {
		if seen[t.Name] {
			return fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen[t.Name] = true

		cols := map[string]bool{}
		for _, c := range t.Columns {
			if cols[c.Name] {
				return fmt.Errorf("schema: table %q has duplicate column %q", t.Name, c.Name)
			}
			cols[c.Name] = true
		}

		for _, k := range t.Keys {
			for _, kc := range k.Columns {
				if !cols[kc] {
					return fmt.Errorf("schema: table %q key %q references unknown column %q", t.Name, k.Name, kc)
				}
			}
		}
	}
	return nil
}
