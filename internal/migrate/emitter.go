package migrate

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dsqlite/dsqlite/internal/schema"
)

// maxIdentLength matches the practical index-name length bd stays
// under in its own migrations; names longer than this are hashed down
// to keep CREATE INDEX statements stable across platforms with
// stricter identifier limits than SQLite itself enforces.
const maxIdentLength = 62

// Emit compiles a Plan into the ordered list of DDL statements that
// apply it. Order: drop views, drop tables, create tables, alter
// tables (in the plan's table-name order), create views.
func Emit(plan Plan) []string {
	var stmts []string

	for _, name := range plan.DropViews {
		stmts = append(stmts, fmt.Sprintf(`DROP VIEW IF EXISTS %s`, quote(name)))
	}
	for _, name := range plan.DropTables {
		stmts = append(stmts, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(name)))
	}
	for _, t := range plan.CreateTables {
		stmts = append(stmts, emitCreateTable(t))
		for _, k := range t.Keys {
			if k.Kind == schema.KeyPrimary {
				continue
			}
			stmts = append(stmts, emitCreateIndex(t.Name, k))
		}
	}
	for _, alter := range plan.AlterTables {
		stmts = append(stmts, emitAlterTable(alter)...)
	}
	for _, v := range plan.CreateViews {
		stmts = append(stmts, fmt.Sprintf(`CREATE VIEW %s AS %s`, quote(v.Name), v.RawSQL))
	}

	return stmts
}

func emitCreateTable(t schema.Table) string {
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, emitColumnDef(c))
	}
	for _, k := range t.Keys {
		if k.Kind == schema.KeyPrimary {
			cols = append(cols, fmt.Sprintf(`PRIMARY KEY (%s)`, quoteList(k.Columns)))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(t.Name), strings.Join(cols, ",\n  "))
}

func emitColumnDef(c schema.Column) string {
	def := fmt.Sprintf("%s %s", quote(c.Name), c.Type.SQLiteStorageClass())
	if c.Required {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return def
}

func emitCreateIndex(tableName string, k schema.Key) string {
	name := indexName(tableName, k)
	uniq := ""
	if k.Kind == schema.KeyUnique {
		uniq = "UNIQUE "
	}
	return fmt.Sprintf(`CREATE %sINDEX %s ON %s (%s)`, uniq, quote(name), quote(tableName), quoteList(k.Columns))
}

// indexName derives a stable index identifier from the table and key,
// using the "idx_" or "uniq_" prefix matching k.Kind, and hashing the
// name down to a fixed-width "<prefix>_<table>_<sha1-hex-first-10>"
// form when the natural name would exceed maxIdentLength — threading
// both the table name and the unique/non-unique prefix through the
// hashed branch too, so two different tables' over-length keys of
// different kinds never collide on the same rendered name.
func indexName(tableName string, k schema.Key) string {
	prefix := "idx"
	if k.Kind == schema.KeyUnique {
		prefix = "uniq"
	}

	name := k.Name
	if name == "" {
		name = fmt.Sprintf("%s_%s_%s", prefix, tableName, strings.Join(k.Columns, "_"))
	}
	if len(name) <= maxIdentLength {
		return name
	}
	sum := sha1.Sum([]byte(prefix + "|" + tableName + "|" + name))
	return fmt.Sprintf("%s_%s_%s", prefix, tableName, hex.EncodeToString(sum[:])[:10])
}

// emitAlterTable returns the statements for one table's changes. When
// the change set is additive-only (new columns, new/dropped
// non-system indexes), it emits plain ALTER TABLE / CREATE INDEX /
// DROP INDEX statements. Otherwise it performs the rename-create-
// copy-drop rebuild SQLite requires for dropped or retyped columns.
func emitAlterTable(alter AlterTable) []string {
	if !alter.RequiresRebuild {
		var stmts []string
		for _, cc := range alter.ColumnChanges {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, quote(alter.Name), emitColumnDef(cc.Column)))
		}
		for _, kc := range alter.KeyChanges {
			switch kc.Kind {
			case "add":
				stmts = append(stmts, emitCreateIndex(alter.Name, kc.Key))
			case "drop":
				stmts = append(stmts, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quote(kc.Name)))
			}
		}
		return stmts
	}

	return emitRebuild(alter)
}

// emitRebuild implements the rename+create+copy+drop sequence: the
// live table is renamed aside, a fresh table is created under the
// original name from the full declared definition, surviving data is
// copied column-by-column (dropped columns are simply omitted from
// the SELECT list, new columns fall back to their declared default or
// NULL), and the renamed original is dropped.
func emitRebuild(alter AlterTable) []string {
	tmpName := alter.Name + "__dsqlite_old"

	existedBefore := map[string]bool{}
	for _, n := range alter.LiveColumnNames {
		existedBefore[n] = true
	}

	var selectExprs []string
	for _, c := range alter.Declared.Columns {
		selectExprs = append(selectExprs, selectExpr(c, existedBefore[c.Name]))
	}

	var targetCols []string
	for _, c := range alter.Declared.Columns {
		targetCols = append(targetCols, quote(c.Name))
	}

	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quote(alter.Name), quote(tmpName)),
		emitCreateTable(alter.Declared),
		fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s`,
			quote(alter.Name), strings.Join(targetCols, ", "), strings.Join(selectExprs, ", "), quote(tmpName)),
		fmt.Sprintf(`DROP TABLE %s`, quote(tmpName)),
	}

	for _, k := range alter.Declared.Keys {
		if k.Kind == schema.KeyPrimary {
			continue
		}
		stmts = append(stmts, emitCreateIndex(alter.Name, k))
	}

	return stmts
}

// selectExpr returns the SELECT-list expression used when copying a
// surviving column across a rebuild: the column itself if it existed
// before, or, if it's new, its declared default expression exactly as
// written in Column.Default (NULL when it has none).
func selectExpr(c schema.Column, existedBefore bool) string {
	if existedBefore {
		return quote(c.Name)
	}
	if c.Default != "" {
		return c.Default
	}
	return "NULL"
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}
