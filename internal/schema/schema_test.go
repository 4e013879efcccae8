package schema

import "testing"

func TestExpandInjectsSystemColumnsAndHLCCompanions(t *testing.T) {
	tbl := Table{
		Name: "tasks",
		Columns: []Column{
			{Name: "title", Type: TEXT, Required: true, LWW: true},
			{Name: "done", Type: INTEGER, LWW: true},
			{Name: "notes", Type: TEXT},
		},
	}

	expanded := tbl.Expand()

	for _, want := range []string{"system_id", "system_version", "system_created_at", "system_is_local_origin"} {
		if _, ok := expanded.Column(want); !ok {
			t.Fatalf("expected system column %q", want)
		}
	}
	if _, ok := expanded.Column("title__hlc"); !ok {
		t.Fatal("expected title__hlc companion column")
	}
	if _, ok := expanded.Column("done__hlc"); !ok {
		t.Fatal("expected done__hlc companion column")
	}
	if _, ok := expanded.Column("notes__hlc"); ok {
		t.Fatal("did not expect notes__hlc companion column (notes is not LWW)")
	}

	foundPK := false
	for _, k := range expanded.Keys {
		if k.Kind == KeyPrimary {
			foundPK = true
		}
	}
	if !foundPK {
		t.Fatal("expected injected pk_system_id key")
	}
}

func TestExpandLeavesSystemTablesUntouched(t *testing.T) {
	tbl := Table{Name: "__settings", System: true, Columns: []Column{{Name: "key", Type: TEXT}}}
	expanded := tbl.Expand()
	if len(expanded.Columns) != 1 {
		t.Fatalf("expected system table unchanged, got %d columns", len(expanded.Columns))
	}
}

func TestValidateCatchesDuplicateTableNames(t *testing.T) {
	s := Schema{Tables: []Table{{Name: "a"}, {Name: "a"}}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for duplicate table name")
	}
}

func TestValidateCatchesUnknownKeyColumn(t *testing.T) {
	s := Schema{Tables: []Table{{
		Name:    "a",
		Columns: []Column{{Name: "x", Type: TEXT}},
		Keys:    []Key{{Name: "idx", Columns: []string{"missing"}}},
	}}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for key referencing unknown column")
	}
}

func TestParseTOMLRoundTrip(t *testing.T) {
	doc := []byte(`
[[table]]
name = "tasks"

  [[table.column]]
  name = "title"
  type = "TEXT"
  required = true
  lww = true

  [[table.key]]
  name = "idx_title"
  columns = ["title"]
`)
	s, err := ParseTOML(doc)
	if err != nil {
		t.Fatalf("ParseTOML: %v", err)
	}
	if len(s.Tables) != 1 || s.Tables[0].Name != "tasks" {
		t.Fatalf("unexpected tables: %+v", s.Tables)
	}
	col, ok := s.Tables[0].Column("title")
	if !ok || col.Type != TEXT || !col.LWW {
		t.Fatalf("unexpected column: %+v ok=%v", col, ok)
	}
}
