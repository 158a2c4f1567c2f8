// Package pool implements the node's connection pool: a fixed-capacity,
// thread-safe queue of database/sql connections gated by a counting
// semaphore whose permit count equals the queue capacity.
//
// database/sql already pools connections internally, but it does not give
// callers a bounded-wait acquire/release handle with guaranteed release on
// cancellation, which the relayer and validation stream both need to avoid
// over-subscribing the single-writer SQLite connection. Pool wraps exactly
// one *sql.DB and leases out at most Capacity of its *sql.Conn at a time,
// using golang.org/x/sync/semaphore the way the node facade elsewhere uses
// errgroup from the same module for worker supervision.
package pool

import (
	"context"
	"database/sql"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// Pool hands out bounded, serialized access to connections opened against
// a single *sql.DB.
type Pool struct {
	db  *sql.DB
	sem *semaphore.Weighted

	mu       sync.Mutex
	conns    []*sql.Conn
	capacity int
	closed   bool
}

// Open creates a Pool of the given capacity against db. db should itself
// be configured with SetMaxOpenConns(capacity) (or left unbounded; the
// semaphore is the real gate) by the caller.
func Open(db *sql.DB, capacity int) *Pool {
	return &Pool{
		db:       db,
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Handle is a leased connection. Callers must call Release exactly once,
// typically via defer immediately after Acquire succeeds.
type Handle struct {
	p     *Pool
	conn  *sql.Conn
	freed bool
}

// Conn returns the underlying *sql.Conn for use in queries/transactions.
func (h *Handle) Conn() *sql.Conn { return h.conn }

// Release returns the connection to the pool and releases its semaphore
// permit. Safe to call multiple times; only the first call has effect.
// MUST run even if the holder's goroutine was cancelled mid-use, so
// callers should defer it unconditionally rather than guard it on error
// paths.
func (h *Handle) Release() {
	if h.freed {
		return
	}
	h.freed = true
	h.p.release(h.conn)
}

// Poison discards the connection instead of returning it to the queue
// (e.g. after a panic recovery or a driver-level error that may have left
// the connection in a bad state), then releases the semaphore permit so
// pool capacity is not permanently reduced.
func (h *Handle) Poison() {
	if h.freed {
		return
	}
	h.freed = true
	_ = h.conn.Close()
	h.p.sem.Release(1)
}

// Acquire waits for a free permit, then leases a connection. The wait is a
// suspension point: it honours ctx cancellation and returns
// nodeerr.ErrCancelled-classified errors promptly.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nodeerr.New(nodeerr.Cancelled, "acquire connection", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, nodeerr.New(nodeerr.Storage, "pool is closed", nil)
	}
	var conn *sql.Conn
	if n := len(p.conns); n > 0 {
		conn = p.conns[n-1]
		p.conns = p.conns[:n-1]
	}
	p.mu.Unlock()

	if conn == nil {
		var err error
		conn, err = p.db.Conn(ctx)
		if err != nil {
			p.sem.Release(1)
			return nil, nodeerr.New(nodeerr.Storage, "open connection", err)
		}
	}

	return &Handle{p: p, conn: conn}, nil
}

func (p *Pool) release(conn *sql.Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		p.sem.Release(1)
		return
	}
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	p.sem.Release(1)
}

// CloseAll drains the queue and prevents further acquisitions. In-flight
// handles remain valid until their holder calls Release or Poison, at
// which point their connection is closed rather than requeued.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return nodeerr.New(nodeerr.Storage, "close pool", firstErr)
	}
	return nil
}

// Capacity returns the pool's fixed permit count.
func (p *Pool) Capacity() int { return p.capacity }
