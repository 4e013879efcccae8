// Package dirty implements the __dirty_rows store: the append/replace
// log of rows changed since the last successful sync, plus a
// broadcast notification channel reactive subscribers listen on.
package dirty

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dsqlite/dsqlite/internal/dberrors"
)

// Row is one entry in the dirty-row log.
type Row struct {
	Table string
	RowID string
	// IsFullRow is true when the whole row should be resent (insert or
	// delete); false when only the columns in Columns changed.
	IsFullRow bool
	Columns   []string
	// HLC is the hybrid-logical-clock stamp of the write that marked
	// this row dirty, the same value stamped into system_version (or a
	// column's __hlc companion). Dirty entries are ordered and matched
	// for removal by this value, not wall-clock time.
	HLC string
}

// Event is published to subscribers whenever a row is marked dirty.
type Event struct {
	Row Row
}

// Store wraps the __dirty_rows table and a broadcast notification
// channel. The zero value is not usable; construct with New.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	subscribers []chan Event
}

// New wraps db's __dirty_rows table. The table itself is created by
// internal/migrate via schema.SystemTables; New does not create it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add marks a single row dirty, replacing any existing entry for the
// same (table, row_id) — grounded on the INSERT ... ON CONFLICT DO
// UPDATE upsert idiom used for marking rows dirty in the teacher's own
// dirty-row helper, generalized from a single-table issue log to the
// engine's per-table (table, row_id) composite key.
func (s *Store) Add(ctx context.Context, row Row) error {
	return s.AddBatch(ctx, []Row{row})
}

// AddBatch marks multiple rows dirty in its own transaction and
// publishes the resulting events once it commits.
func (s *Store) AddBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dberrors.New(dberrors.IO, "dirty.AddBatch: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := addBatchWith(ctx, tx, rows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dberrors.New(dberrors.IO, "dirty.AddBatch: commit", err)
	}

	s.Notify(rows)
	return nil
}

// AddBatchTx marks multiple rows dirty using a transaction the caller
// already holds open — so the row write and its dirty-row marker
// commit or roll back together. The caller is responsible for calling
// Notify with the same rows after the transaction commits; AddBatchTx
// itself never publishes, since publishing before commit would let
// subscribers observe a marker that a later rollback erases.
func (s *Store) AddBatchTx(ctx context.Context, tx *sql.Tx, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	return addBatchWith(ctx, tx, rows)
}

// dbTx is satisfied by both *sql.Tx and *sql.DB's PrepareContext, the
// only method addBatchWith needs.
type dbTx interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func addBatchWith(ctx context.Context, tx dbTx, rows []Row) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO __dirty_rows (table_name, row_id, hlc, is_full_row, columns_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (table_name, row_id) DO UPDATE SET
			hlc = excluded.hlc,
			is_full_row = CASE WHEN __dirty_rows.is_full_row = 1 OR excluded.is_full_row = 1 THEN 1 ELSE 0 END,
			columns_json = excluded.columns_json
	`)
	if err != nil {
		return dberrors.New(dberrors.IO, "dirty.addBatchWith: prepare", err)
	}
	defer stmt.Close()

	for i := range rows {
		colsJSON, err := json.Marshal(rows[i].Columns)
		if err != nil {
			return dberrors.New(dberrors.IO, "dirty.addBatchWith: marshal columns", err)
		}
		fullRow := 0
		if rows[i].IsFullRow {
			fullRow = 1
		}
		if _, err := stmt.ExecContext(ctx, rows[i].Table, rows[i].RowID, rows[i].HLC, fullRow, string(colsJSON)); err != nil {
			return dberrors.New(dberrors.IO, fmt.Sprintf("dirty.addBatchWith: exec for %s/%s", rows[i].Table, rows[i].RowID), err)
		}
	}
	return nil
}

// Notify publishes dirty events for rows already committed by the
// caller (typically via AddBatchTx, inside the caller's own
// transaction). Call it only after that transaction has committed.
func (s *Store) Notify(rows []Row) {
	s.publish(rows)
}

// GetAll returns every row currently marked dirty, oldest first by HLC.
func (s *Store) GetAll(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, row_id, hlc, is_full_row, columns_json
		FROM __dirty_rows ORDER BY hlc ASC`)
	if err != nil {
		return nil, dberrors.New(dberrors.IO, "dirty.GetAll: query", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r           Row
			isFullRow   int
			columnsJSON string
		)
		if err := rows.Scan(&r.Table, &r.RowID, &r.HLC, &isFullRow, &columnsJSON); err != nil {
			return nil, dberrors.New(dberrors.IO, "dirty.GetAll: scan", err)
		}
		r.IsFullRow = isFullRow != 0
		if columnsJSON != "" {
			_ = json.Unmarshal([]byte(columnsJSON), &r.Columns)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remove clears the dirty entry for one row, typically after a
// successful sync send. All four fields must match the entry being
// cleared: a row mutated again between a sync's GetAll snapshot and
// the matching Remove call carries a newer hlc/is_full_row and must
// survive, not be purged as if already sent.
func (s *Store) Remove(ctx context.Context, table, rowID, hlc string, isFullRow bool) error {
	fullRow := 0
	if isFullRow {
		fullRow = 1
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM __dirty_rows
		WHERE table_name = ? AND row_id = ? AND hlc = ? AND is_full_row = ?`,
		table, rowID, hlc, fullRow)
	if err != nil {
		return dberrors.New(dberrors.IO, "dirty.Remove", err)
	}
	return nil
}

// Clear removes every dirty entry, typically after a full sync send succeeds.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM __dirty_rows`)
	if err != nil {
		return dberrors.New(dberrors.IO, "dirty.Clear", err)
	}
	return nil
}

// Subscribe returns a channel that receives an Event each time Add,
// AddBatch or Notify publishes a dirty row. The channel is buffered;
// when a subscriber's buffer is full the event is dropped for that
// subscriber rather than blocking publishers, and the subscriber stays
// registered. Late subscribers never see events published before
// they subscribed. Callers must call the returned cancel function when
// done to release the channel.
func (s *Store) Subscribe(buffer int) (ch <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = 16
	}
	c := make(chan Event, buffer)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, c)
	s.mu.Unlock()

	cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub == c {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(c)
				return
			}
		}
	}
	return c, cancel
}

// publish holds s.mu for the whole send pass, not just the subscriber
// list copy: cancel/Dispose close channels under the same lock, so a
// channel can never be closed while publish is still writing to it.
// Sends themselves are non-blocking (select/default), so holding the
// lock here never stalls on a slow subscriber.
func (s *Store) publish(rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		ev := Event{Row: row}
		for _, sub := range s.subscribers {
			select {
			case sub <- ev:
			default:
				// Slow subscriber; drop rather than block publishers.
			}
		}
	}
}

// Dispose closes every subscriber channel and releases them. The
// Store itself remains usable for Add/GetAll/Remove/Clear afterward;
// Dispose only tears down the broadcast side.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscribers {
		close(sub)
	}
	s.subscribers = nil
}
