// Package store implements the node's relational block/state store
// schema bootstrap, a bounded connection pool, and
// the typed parametric read/write operations the relayer and validation
// stream depend on.
//
// The embedded database is SQLite via github.com/ncruces/go-sqlite3, a
// pure-Go driver (no cgo) that runs SQLite compiled to WASM under
// github.com/tetratelabs/wazero, registered under database/sql exactly as
// a single *sql.DB does.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gofrs/flock"

	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/store/pool"
)

// changeNotifier is the subset of *notifier.Notifier the store needs.
// Declared locally rather than importing internal/notifier to keep
// internal/store free of a dependency on the component that consumes it
// (internal/notifier imports nothing from internal/store either; the
// facade wires the two together).
type changeNotifier interface {
	Notify()
}

// Store is the node's persistent state. All mutation methods run inside a
// single transaction; all read methods may run on any leased connection.
type Store struct {
	pool     *pool.Pool
	log      *slog.Logger
	notifier changeNotifier
}

// SetNotifier attaches the notifier that InsertBlock fires after each
// committed block-insertion transaction. Safe to
// call once during node startup, before any relayer worker begins
// inserting blocks.
func (s *Store) SetNotifier(n changeNotifier) {
	s.notifier = n
}

// InMemoryDBPath is the sentinel config.Config.DBPath value meaning
// "process-local, in-memory database". The database is opened in shared
// cache mode, so every Store opened with it in the same process sees the
// same data.
const InMemoryDBPath = "in-memory"

// Open creates or verifies the schema at dbPath and returns a Store backed
// by a connection pool of the given capacity.
//
// A file lock (github.com/gofrs/flock) guards schema bootstrap against a
// second process racing the CREATE TABLE IF NOT EXISTS script on first
// run.
func Open(ctx context.Context, dbPath string, capacity int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := dbPath
	if dbPath == InMemoryDBPath || dbPath == "" {
		dsn = "file::memory:?cache=shared"
	} else {
		if unlock, err := lockSchemaBootstrap(dbPath); err != nil {
			return nil, nodeerr.New(nodeerr.Schema, "acquire schema lock", err)
		} else {
			defer unlock()
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Schema, "open database", err)
	}
	db.SetMaxOpenConns(capacity)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nodeerr.New(nodeerr.Schema, "open bootstrap connection", err)
	}

	if err := bootstrap(ctx, conn); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	_ = conn.Close()

	p := pool.Open(db, capacity)
	return &Store{pool: p, log: log}, nil
}

// bootstrap enables WAL + NORMAL synchronous mode + foreign keys, checks
// (and sets, on a fresh file) the schema version, then runs the schema
// script.
func bootstrap(ctx context.Context, conn *sql.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			return nodeerr.New(nodeerr.Schema, "apply pragma: "+p, err)
		}
	}

	var current int
	row := conn.QueryRowContext(ctx, "PRAGMA user_version")
	if err := row.Scan(&current); err != nil {
		return nodeerr.New(nodeerr.Schema, "read schema version", err)
	}

	if current != 0 && current != schemaVersion {
		return nodeerr.New(nodeerr.Schema, fmt.Sprintf(
			"database schema version %d is incompatible with this binary's version %d; "+
				"schema migration is not supported, recreate the database file", current, schemaVersion), nil)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nodeerr.New(nodeerr.Schema, "apply schema", err)
	}

	if current == 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return nodeerr.New(nodeerr.Schema, "stamp schema version", err)
		}
	}

	return nil
}

func lockSchemaBootstrap(dbPath string) (func(), error) {
	fl := flock.New(dbPath + ".schema.lock")
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return func() {
		_ = fl.Unlock()
		_ = os.Remove(dbPath + ".schema.lock")
	}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	return s.pool.CloseAll()
}

// withTx runs fn inside a single transaction on a pool-leased connection,
// committing on success and rolling back on error or panic, exactly the
// usual commit/rollback contract.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	tx, err := h.Conn().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nodeerr.New(nodeerr.Storage, "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			h.Poison()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return nodeerr.New(nodeerr.Storage, "commit transaction", err)
	}
	return nil
}

// withConn runs fn against a pool-leased connection outside a transaction,
// for pure reads.
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h.Conn())
}
