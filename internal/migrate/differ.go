// Package migrate diffs a declared schema.Schema against a live
// introspect.Database and emits the DDL needed to reconcile them.
package migrate

import (
	"sort"

	"github.com/dsqlite/dsqlite/internal/introspect"
	"github.com/dsqlite/dsqlite/internal/schema"
)

// ColumnChange describes one column-level difference within an
// existing table.
type ColumnChange struct {
	// Kind is one of "add", "drop", "modify".
	Kind   string
	Column schema.Column
	// OldRawType is populated for "modify", giving the raw type text of
	// the live column being replaced.
	OldRawType string
}

// KeyChange describes one index-level difference within an existing table.
type KeyChange struct {
	// Kind is one of "add", "drop".
	Kind string
	Key  schema.Key
	Name string // for "drop", the live index name
}

// AlterTable is an additive-or-rebuild change to an existing table.
type AlterTable struct {
	Name string

	ColumnChanges []ColumnChange
	KeyChanges    []KeyChange

	// RequiresRebuild is true when any change can't be expressed as a
	// plain ALTER TABLE (a dropped/modified column, or SQLite's general
	// inability to ALTER a column's type/constraints in place) and the
	// emitter must instead rename the old table aside, create the new
	// one, copy surviving data across, and drop the renamed original.
	RequiresRebuild bool

	// Declared and LiveColumnNames are only populated when
	// RequiresRebuild is true; they give the emitter the full target
	// table definition and the set of columns that existed before the
	// rebuild, which a column-change list alone can't supply.
	Declared        schema.Table
	LiveColumnNames []string
}

// Plan is the full set of changes needed to reconcile a live database
// with a declared schema. It carries no statement order; Emit decides
// that.
type Plan struct {
	CreateTables []schema.Table
	DropTables   []string
	AlterTables  []AlterTable

	CreateViews []schema.View
	DropViews   []string
}

// Empty reports whether the plan has no changes to apply.
func (p Plan) Empty() bool {
	return len(p.CreateTables) == 0 && len(p.DropTables) == 0 &&
		len(p.AlterTables) == 0 && len(p.CreateViews) == 0 && len(p.DropViews) == 0
}

// Diff compares a declared (already-Expanded) schema against the live
// database and returns the plan to reconcile them. Tables/views present
// live but absent from declared are dropped; present in declared but
// absent live are created; present in both are diffed column-by-column
// and key-by-key.
func Diff(declared schema.Schema, live introspect.Database) Plan {
	var plan Plan

	liveTableNames := map[string]introspect.Table{}
	for _, t := range live.Tables {
		liveTableNames[t.Name] = t
	}
	declaredTableNames := map[string]bool{}

	for _, dt := range declared.Tables {
		declaredTableNames[dt.Name] = true
		lt, exists := liveTableNames[dt.Name]
		if !exists {
			plan.CreateTables = append(plan.CreateTables, dt)
			continue
		}
		if alter, changed := diffTable(dt, lt); changed {
			plan.AlterTables = append(plan.AlterTables, alter)
		}
	}

	for name := range liveTableNames {
		if !declaredTableNames[name] {
			plan.DropTables = append(plan.DropTables, name)
		}
	}

	liveViewNames := map[string]bool{}
	for _, v := range live.Views {
		liveViewNames[v.Name] = true
	}
	declaredViewNames := map[string]bool{}
	for _, dv := range declared.Views {
		declaredViewNames[dv.Name] = true
		// Views have no in-place ALTER in SQLite; any declared view
		// whose body differs from the live one is dropped and
		// recreated. We can't compare normalized SQL reliably, so any
		// declared view with a live counterpart is unconditionally
		// recreated to guarantee it matches; this is cheap since views
		// carry no data of their own.
		if liveViewNames[dv.Name] {
			plan.DropViews = append(plan.DropViews, dv.Name)
		}
		plan.CreateViews = append(plan.CreateViews, dv)
	}
	for name := range liveViewNames {
		if !declaredViewNames[name] {
			plan.DropViews = append(plan.DropViews, name)
		}
	}

	sort.Strings(plan.DropTables)
	sort.Strings(plan.DropViews)
	sort.Slice(plan.CreateTables, func(i, j int) bool { return plan.CreateTables[i].Name < plan.CreateTables[j].Name })
	sort.Slice(plan.AlterTables, func(i, j int) bool { return plan.AlterTables[i].Name < plan.AlterTables[j].Name })

	return plan
}

func diffTable(declared schema.Table, live introspect.Table) (AlterTable, bool) {
	alter := AlterTable{Name: declared.Name, Declared: declared}

	liveCols := map[string]introspect.Column{}
	for _, c := range live.Columns {
		liveCols[c.Name] = c
		alter.LiveColumnNames = append(alter.LiveColumnNames, c.Name)
	}
	declaredCols := map[string]bool{}

	for _, dc := range declared.Columns {
		declaredCols[dc.Name] = true
		lc, exists := liveCols[dc.Name]
		if !exists {
			alter.ColumnChanges = append(alter.ColumnChanges, ColumnChange{Kind: "add", Column: dc})
			continue
		}
		if columnDiffers(dc, lc) {
			alter.ColumnChanges = append(alter.ColumnChanges, ColumnChange{
				Kind: "modify", Column: dc, OldRawType: lc.RawType,
			})
			alter.RequiresRebuild = true
		}
	}

	for name := range liveCols {
		if !declaredCols[name] {
			alter.ColumnChanges = append(alter.ColumnChanges, ColumnChange{
				Kind:   "drop",
				Column: schema.Column{Name: name},
			})
			alter.RequiresRebuild = true
		}
	}

	liveKeysByCols := map[string]introspect.Key{}
	for _, k := range live.Keys {
		if k.Origin != "c" {
			// Auto-generated index backing a UNIQUE/PK constraint;
			// its lifecycle follows the constraint, not independent
			// CREATE/DROP INDEX statements.
			continue
		}
		liveKeysByCols[keySignature(k.Columns, k.Unique)] = k
	}
	declaredSigs := map[string]bool{}
	for _, dk := range declared.Keys {
		if dk.Kind == schema.KeyPrimary {
			continue // handled by table creation/rebuild, not CREATE INDEX
		}
		sig := keySignature(dk.Columns, dk.Kind == schema.KeyUnique)
		declaredSigs[sig] = true
		if _, exists := liveKeysByCols[sig]; !exists {
			alter.KeyChanges = append(alter.KeyChanges, KeyChange{Kind: "add", Key: dk})
		}
	}
	for sig, lk := range liveKeysByCols {
		if !declaredSigs[sig] {
			alter.KeyChanges = append(alter.KeyChanges, KeyChange{Kind: "drop", Name: lk.Name})
		}
	}

	changed := len(alter.ColumnChanges) > 0 || len(alter.KeyChanges) > 0
	return alter, changed
}

func keySignature(columns []string, unique bool) string {
	sig := ""
	for _, c := range columns {
		sig += c + ","
	}
	if unique {
		sig += "|unique"
	}
	return sig
}

// columnDiffers compares a declared column's compiled storage class,
// nullability, and default expression text against the live column.
// Comparison is textual per SPEC_FULL.md §4.D/4.E: we don't attempt to
// recover a schema.LogicalType from SQLite's dynamic typing, we compare
// what CREATE TABLE would have emitted against what's actually there.
func columnDiffers(declared schema.Column, live introspect.Column) bool {
	if declared.Type.SQLiteStorageClass() != live.RawType {
		return true
	}
	if declared.Required != live.NotNull {
		return true
	}
	declaredHasDefault := declared.Default != ""
	if declaredHasDefault != live.HasDefault {
		return true
	}
	if declaredHasDefault && declared.Default != live.DefaultExpr {
		return true
	}
	return false
}
