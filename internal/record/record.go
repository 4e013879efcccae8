// Package record implements the Record view: a thin read/write
// wrapper around one queried row that tracks which fields a caller
// has changed and saves only those back through the write path.
package record

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/schema"
	"github.com/dsqlite/dsqlite/internal/writepath"
)

// Record wraps one row of tableName, decoded from a query result. It
// holds a non-owning back-reference to db — never a second owning
// reference that could outlive the database — and carries the
// original snapshot so ModifiedFields/Save touch only what changed.
type Record struct {
	db       *writepath.DB
	table    schema.Table
	values   map[string]interface{}
	original map[string]interface{}
}

// New wraps a raw row (as returned by internal/query or
// internal/reactive: column name to raw scanned SQLite value) for
// tableName into a Record. Values are decoded per the table's
// declared logical types.
func New(db *writepath.DB, tableName string, raw map[string]interface{}) (*Record, error) {
	table, ok := db.Schema.Table(tableName)
	if !ok {
		return nil, dberrors.New(dberrors.NotFound, "record.New", fmt.Errorf("table %q is not declared", tableName))
	}

	values := map[string]interface{}{}
	for name, rawVal := range raw {
		col, ok := table.Column(name)
		if !ok {
			values[name] = rawVal
			continue
		}
		decoded, err := writepath.FromStorage(col, rawVal)
		if err != nil {
			return nil, dberrors.New(dberrors.InvalidValue, "record.New", err)
		}
		values[name] = decoded
	}

	original := make(map[string]interface{}, len(values))
	for k, v := range values {
		original[k] = v
	}

	return &Record{
		db:       db,
		table:    table,
		values:   values,
		original: original,
	}, nil
}

// SystemID returns the row's system_id.
func (r *Record) SystemID() string {
	id, _ := r.values["system_id"].(string)
	return id
}

// Get returns the decoded value of column name, and whether it was
// present in the underlying row.
func (r *Record) Get(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

// GetString, GetInt64, GetFloat64, GetTime and GetFileset are typed
// convenience accessors; they return the zero value if the column is
// absent or holds a different type.
func (r *Record) GetString(name string) string {
	s, _ := r.values[name].(string)
	return s
}

func (r *Record) GetInt64(name string) int64 {
	switch v := r.values[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (r *Record) GetFloat64(name string) float64 {
	switch v := r.values[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func (r *Record) GetTime(name string) (time.Time, bool) {
	t, ok := r.values[name].(time.Time)
	return t, ok
}

func (r *Record) GetFileset(name string) []string {
	files, _ := r.values[name].([]string)
	return files
}

// Set assigns a new typed value for column name. System columns
// (system_id, system_version, system_created_at,
// system_is_local_origin) are engine-owned and cannot be set
// directly.
func (r *Record) Set(name string, value interface{}) error {
	if _, isSystem := systemColumnNames[name]; isSystem {
		return dberrors.New(dberrors.InvalidValue, "record.Set", fmt.Errorf("column %q is system-owned", name))
	}
	if _, ok := r.table.Column(name); !ok {
		return dberrors.New(dberrors.Schema, "record.Set", fmt.Errorf("table %q has no column %q", r.table.Name, name))
	}
	r.values[name] = value
	return nil
}

var systemColumnNames = map[string]struct{}{
	"system_id": {}, "system_version": {}, "system_created_at": {}, "system_is_local_origin": {},
}

// ModifiedFields returns the names of columns whose current value
// differs from the original snapshot this Record was loaded with (or
// the snapshot as of the last successful Save).
func (r *Record) ModifiedFields() []string {
	var names []string
	for name, v := range r.values {
		if !reflect.DeepEqual(v, r.original[name]) {
			names = append(names, name)
		}
	}
	return names
}

// Save writes every modified field back through the write path as a
// single partial UPDATE, touching each LWW field's HLC companion, and
// resets the original snapshot to the saved values. A no-op if
// nothing changed.
func (r *Record) Save(ctx context.Context) error {
	changed := r.ModifiedFields()
	if len(changed) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(changed))
	for _, name := range changed {
		values[name] = r.values[name]
	}

	if err := r.db.Update(ctx, r.table.Name, r.SystemID(), values); err != nil {
		return err
	}

	for _, name := range changed {
		r.original[name] = r.values[name]
	}
	return nil
}

// Delete removes the underlying row through the write path. The
// Record itself remains readable afterward but should not be saved.
func (r *Record) Delete(ctx context.Context) error {
	return r.db.Delete(ctx, r.table.Name, r.SystemID())
}
