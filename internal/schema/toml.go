package schema

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// tomlDocument mirrors the file shape documented in SPEC_FULL.md §3.1:
// a list of [[table]] blocks, each with a list of [[table.column]]
// blocks and an optional list of [[table.key]] blocks.
type tomlDocument struct {
	Table []tomlTable `toml:"table"`
	View  []tomlView  `toml:"view"`
}

type tomlTable struct {
	Name   string       `toml:"name"`
	Column []tomlColumn `toml:"column"`
	Key    []tomlKey    `toml:"key"`
}

type tomlColumn struct {
	Name         string   `toml:"name"`
	Type         string   `toml:"type"`
	Required     bool     `toml:"required"`
	LWW          bool     `toml:"lww"`
	Default      string   `toml:"default"`
	MaxLength    int      `toml:"max_length"`
	ValidValues  []string `toml:"valid_values"`
	MaxFileCount int      `toml:"max_file_count"`
}

type tomlKey struct {
	Name    string   `toml:"name"`
	Columns []string `toml:"columns"`
	Unique  bool     `toml:"unique"`
}

type tomlView struct {
	Name string `toml:"name"`
	SQL  string `toml:"sql"`
}

func parseType(s string) (LogicalType, error) {
	switch s {
	case "TEXT":
		return TEXT, nil
	case "INTEGER":
		return INTEGER, nil
	case "REAL":
		return REAL, nil
	case "BLOB":
		return BLOB, nil
	case "GUID":
		return GUID, nil
	case "DATE":
		return DATE, nil
	case "FILESET":
		return FILESET, nil
	default:
		return 0, fmt.Errorf("schema: unknown column type %q", s)
	}
}

// LoadTOML parses a declarative schema document from path. See
// SPEC_FULL.md §3.1 for the document shape.
func LoadTOML(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return ParseTOML(data)
}

// ParseTOML parses a declarative schema document from raw bytes.
func ParseTOML(data []byte) (Schema, error) {
	var doc tomlDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Schema{}, fmt.Errorf("schema: parse toml: %w", err)
	}

	var out Schema
	for _, dt := range doc.Table {
		table := Table{Name: dt.Name}
		for _, dc := range dt.Column {
			typ, err := parseType(dc.Type)
			if err != nil {
				return Schema{}, fmt.Errorf("schema: table %q column %q: %w", dt.Name, dc.Name, err)
			}
			table.Columns = append(table.Columns, Column{
				Name:         dc.Name,
				Type:         typ,
				Required:     dc.Required,
				LWW:          dc.LWW,
				Default:      dc.Default,
				MaxLength:    dc.MaxLength,
				ValidValues:  dc.ValidValues,
				MaxFileCount: dc.MaxFileCount,
			})
		}
		for _, dk := range dt.Key {
			kind := KeyIndex
			if dk.Unique {
				kind = KeyUnique
			}
			table.Keys = append(table.Keys, Key{
				Name:    dk.Name,
				Columns: dk.Columns,
				Kind:    kind,
			})
		}
		out.Tables = append(out.Tables, table)
	}
	for _, dv := range doc.View {
		out.Views = append(out.Views, View{Name: dv.Name, RawSQL: dv.SQL})
	}

	if err := out.Validate(); err != nil {
		return Schema{}, err
	}
	return out, nil
}
