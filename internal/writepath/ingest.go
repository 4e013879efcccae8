package writepath

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/hlc"
	"github.com/dsqlite/dsqlite/internal/schema"
)

// IncomingRow is a row received from a remote peer during sync,
// keyed by its system_id, carrying raw storage-form values (already
// serialized the way toStorage would produce them) plus each LWW
// column's incoming HLC timestamp.
type IncomingRow struct {
	SystemID string
	// Values holds every non-system column present on the wire, in
	// storage form (string for DATE/FILESET/GUID/TEXT, as-is for
	// INTEGER/REAL/BLOB).
	Values map[string]interface{}
	// ColumnHLC holds the incoming timestamp for each LWW column
	// present in Values.
	ColumnHLC map[string]hlc.Timestamp
	// RowVersion is the incoming system_version HLC stamp, used to
	// decide non-LWW column conflicts at row scope (see DESIGN.md's
	// Open Question 2 decision): the side with the lexicographically
	// greater system_version wins for any column not individually
	// tracked by LWW.
	RowVersion string
}

// ApplyIncoming ingests one remote row. If the row doesn't exist
// locally, it is inserted outright (and the clock is updated for
// causality with every incoming LWW timestamp). If it exists, each LWW
// column is arbitrated independently against its stored __hlc
// companion; every non-LWW column is overwritten only when the
// incoming system_version is greater than the local one (row-scope
// fallback, since dsqlite has no per-column CRDT for non-LWW columns).
func (db *DB) ApplyIncoming(ctx context.Context, tableName string, row IncomingRow) error {
	table, err := db.table(tableName)
	if err != nil {
		return err
	}

	for _, ts := range row.ColumnHLC {
		if _, err := db.Clock.Update(ts); err != nil {
			return dberrors.New(dberrors.Sync, "writepath.ApplyIncoming: clock update", err)
		}
	}

	var localVersion sql.NullString
	localHLC := map[string]string{}
	err = db.SQL.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT system_version FROM %s WHERE system_id = ?`, quoteIdent(table.Name)),
		row.SystemID,
	).Scan(&localVersion)

	switch {
	case err == sql.ErrNoRows:
		return db.insertIncoming(ctx, table, row)
	case err != nil:
		return dberrors.New(dberrors.IO, "writepath.ApplyIncoming: lookup", err)
	}

	for name, col := range hlcColumns(table) {
		var v sql.NullString
		if scanErr := db.SQL.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE system_id = ?`, quoteIdent(col.HLCColumnName()), quoteIdent(table.Name)),
			row.SystemID,
		).Scan(&v); scanErr == nil {
			localHLC[name] = v.String
		}
	}

	sets := []string{}
	args := []interface{}{}

	rowScopeWins := localVersion.Valid && row.RowVersion > localVersion.String

	for name, v := range row.Values {
		col, ok := table.Column(name)
		if !ok {
			continue
		}
		if col.LWW {
			incoming, hasIncoming := row.ColumnHLC[name]
			if hasIncoming && (localHLC[name] == "" || string(incoming) > localHLC[name]) {
				sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(col.Name)), fmt.Sprintf("%s = ?", quoteIdent(col.HLCColumnName())))
				args = append(args, v, string(incoming))
			}
			continue
		}
		if rowScopeWins {
			sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(col.Name)))
			args = append(args, v)
		}
	}

	if len(sets) == 0 {
		return nil // every incoming value lost arbitration; nothing to apply
	}

	if rowScopeWins {
		sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent("system_version")))
		args = append(args, row.RowVersion)
	}
	sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent("system_is_local_origin")))
	args = append(args, 0)
	args = append(args, row.SystemID)

	stmtSQL := fmt.Sprintf(`UPDATE %s SET %s WHERE system_id = ?`, quoteIdent(table.Name), joinComma(sets))
	if _, err := db.SQL.ExecContext(ctx, stmtSQL, args...); err != nil {
		return dberrors.New(dberrors.Constraint, "writepath.ApplyIncoming: apply", err)
	}

	// Remote-origin writes produce no dirty-row marker: they arrived
	// from the server and are already reflected there.
	return nil
}

func (db *DB) insertIncoming(ctx context.Context, table schema.Table, row IncomingRow) error {
	cols := []string{"system_id", "system_created_at", "system_version", "system_is_local_origin"}
	args := []interface{}{row.SystemID, row.RowVersion, row.RowVersion, 0}

	for name, v := range row.Values {
		col, ok := table.Column(name)
		if !ok {
			continue
		}
		cols = append(cols, col.Name)
		args = append(args, v)
		if col.LWW {
			if ts, ok := row.ColumnHLC[name]; ok {
				cols = append(cols, col.HLCColumnName())
				args = append(args, string(ts))
			}
		}
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
	}

	stmtSQL := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, quoteIdent(table.Name), joinComma(quoted), joinComma(placeholders))
	if _, err := db.SQL.ExecContext(ctx, stmtSQL, args...); err != nil {
		return dberrors.New(dberrors.Constraint, "writepath.ApplyIncoming: insert", err)
	}

	// Remote-origin writes produce no dirty-row marker.
	return nil
}

// hlcColumns returns the LWW columns of table keyed by their own name
// (not the companion's), for scanning current companion values.
func hlcColumns(table schema.Table) map[string]schema.Column {
	out := map[string]schema.Column{}
	for _, c := range table.Columns {
		if c.LWW {
			out[c.Name] = c
		}
	}
	return out
}
