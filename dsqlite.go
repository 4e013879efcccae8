// Package dsqlite provides the public API for embedding an
// offline-first, CRDT-reconciled SQLite database into a Go program:
// declarative schema with automatic migration, last-write-wins
// conflict resolution on sync, dirty-row tracking, and reactive
// query streams. Most callers only ever import this package; the
// internal/ subpackages it wraps are not part of the public surface.
package dsqlite

import (
	"context"
	"time"

	"github.com/dsqlite/dsqlite/internal/config"
	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/dirty"
	"github.com/dsqlite/dsqlite/internal/hlc"
	"github.com/dsqlite/dsqlite/internal/query"
	"github.com/dsqlite/dsqlite/internal/reactive"
	"github.com/dsqlite/dsqlite/internal/record"
	"github.com/dsqlite/dsqlite/internal/schema"
	"github.com/dsqlite/dsqlite/internal/sync"
	"github.com/dsqlite/dsqlite/internal/writepath"
)

// Schema modeling types, re-exported from internal/schema.
type (
	Schema      = schema.Schema
	Table       = schema.Table
	Column      = schema.Column
	Key         = schema.Key
	View        = schema.View
	LogicalType = schema.LogicalType
)

// Logical column types.
const (
	TEXT    = schema.TEXT
	INTEGER = schema.INTEGER
	REAL    = schema.REAL
	BLOB    = schema.BLOB
	GUID    = schema.GUID
	DATE    = schema.DATE
	FILESET = schema.FILESET
)

// LoadSchemaTOML loads a declarative schema from a TOML file.
func LoadSchemaTOML(path string) (Schema, error) {
	return schema.LoadTOML(path)
}

// ParseSchemaTOML parses a declarative schema from TOML bytes already in memory.
func ParseSchemaTOML(data []byte) (Schema, error) {
	return schema.ParseTOML(data)
}

// DB is an opened, migrated database: the write path, its HLC clock
// and its dirty-row store. The reactive query manager and the sync
// coordinator are built over it separately (NewReactiveManager,
// NewSyncCoordinator).
type DB = writepath.DB

// IncomingRow is one row arriving from a remote peer during sync,
// arbitrated against the local row via LWW on its column timestamps.
type IncomingRow = writepath.IncomingRow

// Open migrates dbPath to match declared and returns a ready-to-use
// DB. nodeID seeds the HLC clock; callers typically persist one GUID
// per local database and reuse it across process restarts.
func Open(ctx context.Context, dbPath string, declared Schema, nodeID string) (*DB, error) {
	return writepath.Open(ctx, dbPath, declared, nodeID)
}

// Clock and timestamp types, re-exported from internal/hlc.
type (
	Clock     = hlc.Clock
	Timestamp = hlc.Timestamp
)

// NewClock constructs a standalone HLC clock for nodeID. DB.Clock is
// normally sufficient; this is exposed for callers that need to stamp
// timestamps independent of any one database (e.g. a sync server).
func NewClock(nodeID string) *Clock {
	return hlc.New(nodeID)
}

// DirtyRow and DirtyEvent, re-exported from internal/dirty, describe
// the rows changed since the last successful sync and the broadcast
// events fired when they change.
type (
	DirtyRow   = dirty.Row
	DirtyEvent = dirty.Event
)

// Query builder types and constructors, re-exported from internal/query.
type (
	Query     = query.Query
	Predicate = query.Predicate
	OrderBy   = query.OrderBy
)

var (
	From    = query.From
	Cmp     = query.Cmp
	InList  = query.InList
	Between = query.BetweenVals
	Null    = query.Null
	And     = query.And
	Or      = query.Or
)

// Comparison operators for Cmp.
const (
	Eq   = query.Eq
	Neq  = query.Neq
	Gt   = query.Gt
	Gte  = query.Gte
	Lt   = query.Lt
	Lte  = query.Lte
	Like = query.Like
)

// Reactive query manager, re-exported from internal/reactive.
type (
	ReactiveManager = reactive.Manager
	ReactiveResult  = reactive.Result
	ReactiveHandler = reactive.Handler
)

// NewReactiveManager builds a reactive query manager over db, driving
// re-runs from its dirty-row broadcast channel. resolve lets
// dependency analysis see through declared views backed by a Query;
// pass nil if none are. A positive debounce delays each re-run by that
// duration; dirty-row events are not coalesced.
func NewReactiveManager(db *DB, resolve query.ViewResolver, debounce time.Duration) *ReactiveManager {
	return reactive.New(db.SQL, db.Dirty, resolve, debounce)
}

// Record view, re-exported from internal/record.
type Record = record.Record

// NewRecord wraps a raw query-result row (column name to scanned
// SQLite value) for tableName into a typed, saveable Record.
func NewRecord(db *DB, tableName string, raw map[string]interface{}) (*Record, error) {
	return record.New(db, tableName, raw)
}

// Sync coordinator types and constructors, re-exported from internal/sync.
type (
	SyncCoordinator = sync.Coordinator
	SendFunc        = sync.SendFunc
	FetchFunc       = sync.FetchFunc
	TriggerWatcher  = sync.TriggerWatcher
)

// NewSyncCoordinator builds a sync coordinator over db. It owns no
// timer; callers schedule PerformSync externally (periodically,
// manually, or via NewTriggerWatcher).
func NewSyncCoordinator(db *DB, onSend SendFunc, onFetch FetchFunc) *SyncCoordinator {
	return sync.New(db.SQL, db.Dirty, onSend, onFetch)
}

// NewTriggerWatcher builds a filesystem-marker watcher that calls
// coordinator.PerformSync on change, debouncing bursts and falling
// back to polling if fsnotify can't watch markerPath.
func NewTriggerWatcher(coordinator *SyncCoordinator, markerPath string, debounce, pollInterval time.Duration) (*TriggerWatcher, error) {
	return sync.NewTriggerWatcher(coordinator, markerPath, debounce, pollInterval)
}

// Error taxonomy, re-exported from internal/dberrors.
type (
	ErrorKind = dberrors.Kind
	Error     = dberrors.Error
)

const (
	KindSchema       = dberrors.Schema
	KindConstraint   = dberrors.Constraint
	KindConflict     = dberrors.Conflict
	KindIO           = dberrors.IO
	KindSync         = dberrors.Sync
	KindInvalidValue = dberrors.InvalidValue
	KindNotFound     = dberrors.NotFound
)

// IsKind reports whether err (or one it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return dberrors.Is(err, kind)
}

// InitConfig discovers and loads the ambient, layered configuration —
// project .dsqlite/config.yaml (walking up from cwd), XDG config dir,
// home dir, then DSQLITE_* environment overrides — re-exported from
// internal/config. Call once at startup; ConfigString/ConfigDuration/
// etc. read through it afterward.
func InitConfig() error {
	return config.Initialize()
}

// ConfigString, ConfigInt, ConfigBool and ConfigDuration read a single
// configuration value by key (e.g. "db", "sync.retry-backoff-initial").
func ConfigString(key string) string {
	return config.GetString(key)
}

func ConfigInt(key string) int {
	return config.GetInt(key)
}

func ConfigBool(key string) bool {
	return config.GetBool(key)
}

func ConfigDuration(key string) time.Duration {
	return config.GetDuration(key)
}

// ConfigDatabasePath resolves the configured database path, or "" if unset.
func ConfigDatabasePath() string { return config.DatabasePath() }
