package pool

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := Open(openTestDB(t), 2)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, h.Conn())
	h.Release()
	h.Release() // idempotent
}

func TestAcquireBlocksAtCapacityUntilRelease(t *testing.T) {
	p := Open(openTestDB(t), 1)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h2, err := p.Acquire(ctx)
		require.NoError(t, err)
		h2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded before first release")
	case <-time.After(50 * time.Millisecond):
	}

	h1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := Open(openTestDB(t), 1)
	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	require.Error(t, err)
}

func TestPoisonDoesNotReturnConnectionToQueue(t *testing.T) {
	p := Open(openTestDB(t), 1)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	h.Poison()

	require.Empty(t, p.conns)

	h2, err := p.Acquire(ctx)
	require.NoError(t, err)
	h2.Release()
}

func TestCloseAllClosesQueuedConnections(t *testing.T) {
	p := Open(openTestDB(t), 2)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	h.Release()

	require.NoError(t, p.CloseAll())

	_, err = p.Acquire(ctx)
	require.Error(t, err)
}

func TestCapacity(t *testing.T) {
	p := Open(openTestDB(t), 3)
	require.Equal(t, 3, p.Capacity())
}
