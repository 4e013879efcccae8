// Package reactive implements the reactive query manager: subscribers
// register a query, get its current results immediately, and are
// re-run whenever a dirty-row event touches one of the tables/views
// the query depends on.
package reactive

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/dirty"
	"github.com/dsqlite/dsqlite/internal/query"
)

// Result is delivered to a subscriber's handler on every (re-)run.
type Result struct {
	Rows []map[string]interface{}
	Err  error
}

// Handler receives a Result each time its query's dependencies change.
type Handler func(Result)

type subscription struct {
	id      uint64
	q       *query.Query
	deps    map[string]struct{}
	handler Handler

	mu     sync.Mutex
	cancel context.CancelFunc // cancels an in-flight re-run, if any
}

// Manager is the registry of live subscriptions for one database.
// Safe for concurrent use. Construct with New.
type Manager struct {
	db       *sql.DB
	dirty    *dirty.Store
	resolve  query.ViewResolver
	debounce time.Duration

	mu          sync.Mutex
	nextID      uint64
	byDep       map[string][]*subscription
	cancelWatch func()
}

// New constructs a Manager over db, subscribing internally to dirty's
// broadcast channel to drive re-runs. A positive debounce delays each
// re-run by that duration; events are not coalesced, so every matching
// dirty-row event still triggers its own re-run. Zero means re-run
// immediately for every event.
func New(db *sql.DB, dirtyStore *dirty.Store, resolve query.ViewResolver, debounce time.Duration) *Manager {
	m := &Manager{
		db:       db,
		dirty:    dirtyStore,
		resolve:  resolve,
		debounce: debounce,
		byDep:    map[string][]*subscription{},
	}

	ch, cancel := dirtyStore.Subscribe(256)
	m.cancelWatch = cancel

	go m.drain(ch)

	return m
}

// Close stops listening for dirty-row events. Existing subscriptions
// stop re-running but are not individually cancelled; callers should
// Unsubscribe each first if they need in-flight re-runs stopped too.
func (m *Manager) Close() {
	m.cancelWatch()
}

func (m *Manager) drain(ch <-chan dirty.Event) {
	for ev := range ch {
		m.dispatch(ev.Row.Table)
	}
}

func (m *Manager) dispatch(table string) {
	m.mu.Lock()
	var targets []*subscription
	targets = append(targets, m.byDep[table]...)
	targets = append(targets, m.byDep[query.Unknown]...)
	m.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	// Dispatch to every matching subscriber concurrently so a slow
	// handler doesn't delay the others. Each handler already receives
	// its own error in its Result, so the error Wait returns is discarded.
	var g errgroup.Group
	for _, sub := range targets {
		sub := sub
		g.Go(func() error {
			return m.rerun(sub)
		})
	}
	_ = g.Wait()
}

func (m *Manager) rerun(sub *subscription) error {
	if m.debounce > 0 {
		time.Sleep(m.debounce)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub.mu.Lock()
	sub.cancel = cancel
	sub.mu.Unlock()
	defer cancel()

	rows, err := m.run(ctx, sub.q)
	sub.handler(Result{Rows: rows, Err: err})
	return err
}

// Subscribe extracts q's dependencies, registers the subscription,
// runs q once immediately delivering the first Result synchronously,
// and returns an unsubscribe function.
func (m *Manager) Subscribe(q *query.Query, handler Handler) (unsubscribe func()) {
	deps := query.Dependencies(q, m.resolve)

	sub := &subscription{q: q, deps: deps, handler: handler}

	m.mu.Lock()
	m.nextID++
	sub.id = m.nextID
	for dep := range deps {
		m.byDep[dep] = append(m.byDep[dep], sub)
	}
	m.mu.Unlock()

	rows, err := m.run(context.Background(), q)
	handler(Result{Rows: rows, Err: err})

	return func() { m.unsubscribe(sub) }
}

func (m *Manager) unsubscribe(sub *subscription) {
	sub.mu.Lock()
	if sub.cancel != nil {
		sub.cancel()
	}
	sub.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for dep := range sub.deps {
		list := m.byDep[dep]
		for i, s := range list {
			if s == sub {
				m.byDep[dep] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (m *Manager) run(ctx context.Context, q *query.Query) ([]map[string]interface{}, error) {
	sqlText, args, err := q.Compile()
	if err != nil {
		return nil, dberrors.New(dberrors.Schema, "reactive.run: compile", err)
	}

	rows, err := m.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, dberrors.New(dberrors.IO, "reactive.run: query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, dberrors.New(dberrors.IO, "reactive.run: columns", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dberrors.New(dberrors.IO, "reactive.run: scan", err)
		}
		row := map[string]interface{}{}
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
