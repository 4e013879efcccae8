// Package sync implements the sync coordinator: orchestrating a
// send/fetch cycle against an external peer through caller-injected
// callbacks, and maintaining the per-table server watermarks that
// bound what a subsequent fetch needs to ask for. The coordinator
// owns no timer of its own; scheduling a cycle is entirely up to the
// caller (periodic, manual, or via the optional TriggerWatcher below).
package sync

import (
	"context"
	"database/sql"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/dirty"
)

// SendFunc durably hands a batch of dirty rows, sorted by HLC
// ascending, to the remote peer. It returns true only if the server
// accepted every item; on false the coordinator leaves the rows dirty
// for the next cycle to retry.
type SendFunc func(ctx context.Context, rows []dirty.Row) (bool, error)

// FetchFunc asks the remote peer for everything newer than the given
// per-table watermark (a nil entry means "since the beginning"). The
// callback is expected to write incoming rows back through the write
// path with remote origin and call Coordinator.UpdateTableTimestamp
// for each table it advances.
type FetchFunc func(ctx context.Context, watermarks map[string]*string) error

// Coordinator runs perform-sync cycles against a single database.
// Concurrent triggers collapse into the single in-flight cycle via
// singleflight: a caller arriving while a cycle runs waits for that
// cycle and receives its result; no second cycle starts.
// The zero value is not usable; construct with New.
type Coordinator struct {
	db    *sql.DB
	dirty *dirty.Store

	onSend  SendFunc
	onFetch FetchFunc

	group singleflight.Group
}

// New constructs a Coordinator. onSend/onFetch may be nil only if the
// caller never invokes PerformSync.
func New(db *sql.DB, dirtyStore *dirty.Store, onSend SendFunc, onFetch FetchFunc) *Coordinator {
	return &Coordinator{db: db, dirty: dirtyStore, onSend: onSend, onFetch: onFetch}
}

// PerformSync runs one send/fetch cycle: snapshot dirty rows, hand
// them to onSend (clearing them only on success), read per-table
// server watermarks, hand those to onFetch, and return. A cycle
// already in flight is joined rather than duplicated; this call
// returns once that shared cycle completes.
func (c *Coordinator) PerformSync(ctx context.Context) error {
	_, err, _ := c.group.Do("sync", func() (interface{}, error) {
		return nil, c.runCycle(ctx)
	})
	return err
}

func (c *Coordinator) runCycle(ctx context.Context) error {
	pending, err := c.dirty.GetAll(ctx)
	if err != nil {
		return err
	}

	if len(pending) > 0 {
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].HLC < pending[j].HLC
		})

		if c.onSend != nil {
			accepted, sendErr := c.onSend(ctx, pending)
			if sendErr != nil {
				return dberrors.New(dberrors.Sync, "sync.PerformSync: on_send", sendErr)
			}
			if accepted {
				for _, row := range pending {
					if err := c.dirty.Remove(ctx, row.Table, row.RowID, row.HLC, row.IsFullRow); err != nil {
						return err
					}
				}
			}
			// accepted == false: leave every row dirty for the next cycle.
		}
	}

	watermarks, err := c.watermarks(ctx)
	if err != nil {
		return err
	}

	if c.onFetch != nil {
		if err := c.onFetch(ctx, watermarks); err != nil {
			return dberrors.New(dberrors.Sync, "sync.PerformSync: on_fetch", err)
		}
	}

	return nil
}

// watermarks reads the latest known server HLC per user table from
// __sync_server_timestamps. A table with no recorded watermark maps
// to a nil pointer, meaning "fetch everything."
func (c *Coordinator) watermarks(ctx context.Context) (map[string]*string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT table_name, last_server_hlc FROM __sync_server_timestamps`)
	if err != nil {
		return nil, dberrors.New(dberrors.IO, "sync.watermarks: query", err)
	}
	defer rows.Close()

	out := map[string]*string{}
	for rows.Next() {
		var table string
		var hlc sql.NullString
		if err := rows.Scan(&table, &hlc); err != nil {
			return nil, dberrors.New(dberrors.IO, "sync.watermarks: scan", err)
		}
		if hlc.Valid {
			v := hlc.String
			out[table] = &v
		} else {
			out[table] = nil
		}
	}
	return out, rows.Err()
}

// UpdateTableTimestamp upserts the server watermark for table,
// keyed on table_name. A FetchFunc calls this for each table it
// advances past.
func (c *Coordinator) UpdateTableTimestamp(ctx context.Context, table, serverHLC string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO __sync_server_timestamps (table_name, last_server_hlc)
		VALUES (?, ?)
		ON CONFLICT (table_name) DO UPDATE SET last_server_hlc = excluded.last_server_hlc
	`, table, serverHLC)
	if err != nil {
		return dberrors.New(dberrors.IO, "sync.UpdateTableTimestamp", err)
	}
	return nil
}
