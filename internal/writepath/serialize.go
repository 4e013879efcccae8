package writepath

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dsqlite/dsqlite/internal/schema"
)

// toStorage converts a caller-supplied Go value into the form written
// to the raw SQLite column, per column's declared LogicalType.
func toStorage(col schema.Column, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch col.Type {
	case schema.DATE:
		t, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("column %q: expected time.Time for DATE, got %T", col.Name, value)
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case schema.FILESET:
		files, ok := value.([]string)
		if !ok {
			return nil, fmt.Errorf("column %q: expected []string for FILESET, got %T", col.Name, value)
		}
		return marshalFileset(files)
	case schema.GUID, schema.TEXT:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("column %q: expected string, got %T", col.Name, value)
		}
		return s, nil
	default: // INTEGER, REAL, BLOB pass through to the driver unchanged
		return value, nil
	}
}

// ToStorage exposes toStorage for callers outside this package that
// need a value in the form the write path stores it.
func ToStorage(col schema.Column, value interface{}) (interface{}, error) {
	return toStorage(col, value)
}

// FromStorage exposes fromStorage for callers outside this package
// (the record view decodes a freshly queried row the same way a
// write-path read would).
func FromStorage(col schema.Column, raw interface{}) (interface{}, error) {
	return fromStorage(col, raw)
}

// fromStorage converts a raw scanned SQLite value back into the Go
// representation callers work with, per column's declared LogicalType.
func fromStorage(col schema.Column, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch col.Type {
	case schema.DATE:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("column %q: expected string for DATE, got %T", col.Name, raw)
		}
		return time.Parse(time.RFC3339Nano, s)
	case schema.FILESET:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("column %q: expected string for FILESET, got %T", col.Name, raw)
		}
		var files []string
		if s == "" {
			return files, nil
		}
		if err := json.Unmarshal([]byte(s), &files); err != nil {
			return nil, fmt.Errorf("column %q: unmarshal FILESET: %w", col.Name, err)
		}
		return files, nil
	default:
		return raw, nil
	}
}
