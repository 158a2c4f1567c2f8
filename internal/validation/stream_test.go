package validation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/predicate"
	"github.com/essential-labs/essential-node/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "node.db"), 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertGenesis(t *testing.T, s *store.Store) int64 {
	t.Helper()
	id, err := s.InsertBlock(context.Background(), &store.Block{
		BlockAddress:  []byte("genesis"),
		ParentBlockID: store.GenesisParentID,
		Number:        0,
	})
	require.NoError(t, err)
	return id
}

func insertContract(t *testing.T, s *store.Store, contractAddr, predicateAddr, bytecode []byte) {
	t.Helper()
	_, err := s.InsertContract(context.Background(), &store.Contract{
		ContentHash: contractAddr,
		Predicates: []store.Predicate{
			{ContentHash: predicateAddr, Bytecode: bytecode},
		},
	})
	require.NoError(t, err)
}

func TestValidateBlockAllSolutionsPassAdvancesProgress(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)
	insertContract(t, s, []byte{0x11}, []byte{0x22}, []byte{0xde, 0xad})

	_, err := s.InsertBlock(ctx, &store.Block{
		BlockAddress:  []byte("b1"),
		ParentBlockID: genesisID,
		Number:        1,
		SolutionSets: []store.SolutionSet{{
			ContentHash: []byte("s0"),
			Solutions: []store.Solution{{
				ContractAddr:  []byte{0x11},
				PredicateAddr: []byte{0x22},
				Mutations:     []store.Mutation{{Key: []byte{0xAA}, Value: []byte{0xFF}}},
			}},
		}},
	})
	require.NoError(t, err)

	engine := &predicate.StubEngine{Outcome: predicate.Outcome{Accepted: true}}
	stream := NewStream(s, engine, time.Millisecond, time.Second, nil)

	require.NoError(t, stream.catchUp(ctx))

	progress, err := s.GetValidationProgress(ctx)
	require.NoError(t, err)
	require.NotNil(t, progress)
	require.EqualValues(t, 1, progress.BlockNumber)

	recent := stream.Recent()
	require.Len(t, recent, 2) // genesis + b1
	require.True(t, recent[1].Passed)
	require.Len(t, engine.Calls, 1)
}

func TestValidateBlockFailingSolutionRecordsFailedSet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)
	insertContract(t, s, []byte{0x11}, []byte{0x22}, []byte{0xde, 0xad})

	blockID, err := s.InsertBlock(ctx, &store.Block{
		BlockAddress:  []byte("b1"),
		ParentBlockID: genesisID,
		Number:        1,
		SolutionSets: []store.SolutionSet{{
			ContentHash: []byte("s0"),
			Solutions: []store.Solution{{
				ContractAddr:  []byte{0x11},
				PredicateAddr: []byte{0x22},
				Mutations:     []store.Mutation{{Key: []byte{0xAA}, Value: []byte{0xFF}}},
			}},
		}},
	})
	require.NoError(t, err)

	engine := &predicate.StubEngine{Outcome: predicate.Outcome{Accepted: false, Failure: predicate.FailureRejected}}
	stream := NewStream(s, engine, time.Millisecond, time.Second, nil)

	require.NoError(t, stream.catchUp(ctx))

	recent := stream.Recent()
	require.False(t, recent[1].Passed)
	require.Equal(t, []uint64{0}, recent[1].FailedSetIndex)

	sets, err := s.FailedSolutionSets(ctx, blockID)
	require.NoError(t, err)
	require.Len(t, sets, 1)
}

func TestRunStopsOnCancellation(t *testing.T) {
	s := setupTestStore(t)
	insertGenesis(t, s)

	engine := &predicate.StubEngine{Outcome: predicate.Outcome{Accepted: true}}
	stream := NewStream(s, engine, time.Millisecond, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := stream.Run(ctx, nil)
	require.ErrorIs(t, err, nodeerr.ErrCancelled)
}
