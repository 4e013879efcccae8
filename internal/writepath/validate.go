package writepath

import (
	"encoding/json"
	"fmt"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/schema"
)

// Validator checks one value destined for one column. Grounded on
// internal/validation/issue.go's IssueValidator/Chain combinator,
// generalized from issue-specific checks (NotTemplate, NotPinned) to
// schema-declared column constraints.
type Validator func(col schema.Column, value interface{}) error

// Chain composes validators in order, short-circuiting on the first error.
func Chain(validators ...Validator) Validator {
	return func(col schema.Column, value interface{}) error {
		for _, v := range validators {
			if err := v(col, value); err != nil {
				return err
			}
		}
		return nil
	}
}

// MaxLength rejects TEXT values longer than col.MaxLength, when set.
func MaxLength(col schema.Column, value interface{}) error {
	if col.MaxLength <= 0 {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if len(s) > col.MaxLength {
		return fmt.Errorf("column %q: value length %d exceeds max %d", col.Name, len(s), col.MaxLength)
	}
	return nil
}

// ValidValues rejects values outside col.ValidValues, when set.
func ValidValues(col schema.Column, value interface{}) error {
	if len(col.ValidValues) == 0 {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return nil
	}
	for _, allowed := range col.ValidValues {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("column %q: value %q is not one of %v", col.Name, s, col.ValidValues)
}

// MaxFileCount rejects FILESET values with more than col.MaxFileCount entries, when set.
func MaxFileCount(col schema.Column, value interface{}) error {
	if col.Type != schema.FILESET || col.MaxFileCount <= 0 {
		return nil
	}
	files, ok := value.([]string)
	if !ok {
		return nil
	}
	if len(files) > col.MaxFileCount {
		return fmt.Errorf("column %q: %d files exceeds max %d", col.Name, len(files), col.MaxFileCount)
	}
	return nil
}

// DefaultValidator is the standard validator chain applied to every
// write unless a DB was constructed with a custom one.
var DefaultValidator = Chain(MaxLength, ValidValues, MaxFileCount)

// validateValues runs validator across every declared column present
// in values, returning an InvalidValue-kind error on the first failure.
func validateValues(table schema.Table, values map[string]interface{}, validator Validator) error {
	for name, v := range values {
		col, ok := table.Column(name)
		if !ok {
			return dberrors.New(dberrors.Schema, "validate", fmt.Errorf("table %q has no column %q", table.Name, name))
		}
		if err := validator(col, v); err != nil {
			return dberrors.New(dberrors.InvalidValue, "validate", err)
		}
	}
	return nil
}

// marshalFileset is a helper for callers constructing JSON payloads by
// hand (e.g. audit trails); writepath itself calls it internally.
func marshalFileset(files []string) (string, error) {
	b, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
