package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.InMemoryDBPath, 2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ndjsonServer(t *testing.T, records []any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, rec := range records {
			b, err := json.Marshal(rec)
			require.NoError(t, err)
			_, _ = w.Write(b)
			_, _ = w.Write([]byte("\n"))
		}
	}))
}

func TestClientStreamBlocksDecodesRecords(t *testing.T) {
	want := []blockRecord{
		{BlockAddress: []byte("b0"), Number: 0},
		{BlockAddress: []byte("b1"), ParentBlockAddress: []byte("b0"), Number: 1},
	}
	srv := ndjsonServer(t, []any{want[0], want[1]})
	defer srv.Close()

	c := NewClient(srv.URL, 10*time.Millisecond, time.Second)
	var got []blockRecord
	err := c.StreamBlocks(context.Background(), nil, func(rec blockRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, bytes.Equal(want[0].BlockAddress, got[0].BlockAddress))
	require.True(t, bytes.Equal(want[1].BlockAddress, got[1].BlockAddress))
}

func TestBlockWorkerRunOnceInsertsChain(t *testing.T) {
	genesis := blockRecord{BlockAddress: []byte("genesis"), Number: 0}
	child := blockRecord{BlockAddress: []byte("child"), ParentBlockAddress: []byte("genesis"), Number: 1}
	srv := ndjsonServer(t, []any{genesis, child})
	defer srv.Close()

	s := setupTestStore(t)
	client := NewClient(srv.URL, 10*time.Millisecond, time.Second)
	w := NewBlockWorker(s, client, 10*time.Millisecond, time.Second, nil)

	err := w.runOnce(context.Background())
	require.NoError(t, err)

	blk, err := s.GetBlockByAddress(context.Background(), []byte("child"))
	require.NoError(t, err)
	require.NotNil(t, blk)
	require.Equal(t, uint64(1), blk.Number)

	status := w.Status()
	require.Equal(t, 0, status.ConsecutiveFailures)
}

func TestBlockWorkerParentMismatchIsIntegrityError(t *testing.T) {
	bad := blockRecord{BlockAddress: []byte("orphan"), ParentBlockAddress: []byte("not-genesis"), Number: 0}
	srv := ndjsonServer(t, []any{bad})
	defer srv.Close()

	s := setupTestStore(t)
	client := NewClient(srv.URL, 10*time.Millisecond, time.Second)
	w := NewBlockWorker(s, client, 10*time.Millisecond, time.Second, nil)

	err := w.runOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, nodeerr.Integrity, nodeerr.Classify(err))
}

func TestContractWorkerRunOnceInsertsContracts(t *testing.T) {
	rec := contractRecord{
		ContentHash: []byte("c0"),
		Salt:        []byte("salt"),
		Predicates: []predicateRecord{
			{ContentHash: []byte("p0"), Bytecode: []byte{0x00, 0x61, 0x73, 0x6d}},
		},
	}
	srv := ndjsonServer(t, []any{rec})
	defer srv.Close()

	s := setupTestStore(t)
	client := NewClient(srv.URL, 10*time.Millisecond, time.Second)
	w := NewContractWorker(s, client, 10*time.Millisecond, time.Second, nil)

	cursor, err := w.runOnce(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, cursor)

	c, err := s.GetContractByHash(context.Background(), []byte("c0"))
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Len(t, c.Predicates, 1)
}

func TestBlockWorkerRunStopsOnCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		// No records; connection stays open briefly then the handler
		// returns, simulating an upstream with nothing new yet.
	}))
	defer srv.Close()

	s := setupTestStore(t)
	client := NewClient(srv.URL, 5*time.Millisecond, 20*time.Millisecond)
	w := NewBlockWorker(s, client, 5*time.Millisecond, 20*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, nodeerr.ErrCancelled)
}
