package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/dsqlite/dsqlite/internal/dberrors"
	"github.com/dsqlite/dsqlite/internal/dblog"
	"github.com/dsqlite/dsqlite/internal/introspect"
	"github.com/dsqlite/dsqlite/internal/schema"
)

// lockRetryInterval is how often Apply retries acquiring the
// migration file lock while ctx remains undone.
const lockRetryInterval = 50 * time.Millisecond

// Apply reconciles the database at dbPath with declared, running the
// whole diff-and-migrate cycle inside a single exclusive transaction.
//
// Because multiple processes, not just goroutines, may race to open
// and migrate the same database file, Apply first takes a
// gofrs/flock file lock alongside the database (a process-level
// analogue of the BEGIN EXCLUSIVE transaction that follows) before
// disabling foreign keys and starting the transaction itself.
func Apply(ctx context.Context, db *sql.DB, dbPath string, declared schema.Schema) (Plan, error) {
	declared = declared.Expanded()
	if err := declared.Validate(); err != nil {
		return Plan{}, dberrors.New(dberrors.Schema, "migrate.Apply", err)
	}

	fileLock := flock.New(dbPath + ".migrate.lock")
	locked, err := fileLock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return Plan{}, dberrors.New(dberrors.IO, "migrate.Apply: acquire file lock", err)
	}
	if !locked {
		return Plan{}, dberrors.New(dberrors.IO, "migrate.Apply", fmt.Errorf("could not acquire migration lock on %s", dbPath))
	}
	defer func() { _ = fileLock.Unlock() }()

	// PRAGMA foreign_keys cannot be changed inside a transaction.
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return Plan{}, dberrors.New(dberrors.IO, "migrate.Apply: disable foreign_keys", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, `PRAGMA foreign_keys = ON`)
	}()

	conn, err := db.Conn(ctx)
	if err != nil {
		return Plan{}, dberrors.New(dberrors.IO, "migrate.Apply: acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN EXCLUSIVE`); err != nil {
		return Plan{}, dberrors.New(dberrors.IO, "migrate.Apply: BEGIN EXCLUSIVE", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, `ROLLBACK`)
		}
	}()

	live, err := introspect.Read(ctx, conn)
	if err != nil {
		return Plan{}, dberrors.New(dberrors.Schema, "migrate.Apply: introspect", err)
	}

	plan := Diff(declared, live)
	if plan.Empty() {
		if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
			return plan, dberrors.New(dberrors.IO, "migrate.Apply: COMMIT", err)
		}
		committed = true
		return plan, nil
	}

	for _, stmt := range Emit(plan) {
		dblog.Debugf("migrate: %s", stmt)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return plan, dberrors.New(dberrors.Schema, fmt.Sprintf("migrate.Apply: exec %q", stmt), err)
		}
	}

	if err := verifyInvariants(ctx, conn, declared); err != nil {
		return plan, dberrors.New(dberrors.Schema, "migrate.Apply: post-migration verification", err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return plan, dberrors.New(dberrors.IO, "migrate.Apply: COMMIT", err)
	}
	committed = true

	return plan, nil
}

// verifyInvariants re-reads the database after applying a plan and
// confirms every declared table now exists with its declared columns,
// catching an emitter bug before it's committed rather than after.
func verifyInvariants(ctx context.Context, conn *sql.Conn, declared schema.Schema) error {
	live, err := introspect.Read(ctx, conn)
	if err != nil {
		return fmt.Errorf("re-introspect after migration: %w", err)
	}

	for _, dt := range declared.Tables {
		lt, ok := live.Table(dt.Name)
		if !ok {
			return fmt.Errorf("table %q missing after migration", dt.Name)
		}
		for _, dc := range dt.Columns {
			found := false
			for _, lc := range lt.Columns {
				if lc.Name == dc.Name {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("table %q missing declared column %q after migration", dt.Name, dc.Name)
			}
		}
	}
	return nil
}
