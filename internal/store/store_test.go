package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "node.db")
	s, err := Open(context.Background(), dbPath, 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertGenesis(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.InsertBlock(context.Background(), &Block{
		BlockAddress:  []byte("genesis"),
		ParentBlockID: GenesisParentID,
		Number:        0,
		Timestamp:     Timestamp{Seconds: 1, Nanoseconds: 0},
	})
	require.NoError(t, err)
	return id
}

// Scenario 1: genesis only.
func TestGenesisOnly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	insertGenesis(t, s)

	v, err := s.QueryOptimistic(ctx, []byte("genesis"), []byte{0x11}, []byte{0xAA}, nil)
	require.NoError(t, err)
	require.False(t, v.Found)
}

// Scenario 2: single write.
func TestSingleWrite(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	_, err := s.InsertBlock(ctx, &Block{
		BlockAddress:  []byte("b1"),
		ParentBlockID: genesisID,
		Number:        1,
		Timestamp:     Timestamp{Seconds: 2, Nanoseconds: 0},
		SolutionSets: []SolutionSet{{
			ContentHash: []byte("s0"),
			Solutions: []Solution{{
				SolutionIndex: 0,
				ContractAddr:  []byte{0x11},
				PredicateAddr: []byte{0x22},
				Mutations: []Mutation{{
					MutationIndex: 0,
					Key:           []byte{0xAA},
					Value:         []byte{0xFF},
				}},
			}},
		}},
	})
	require.NoError(t, err)

	v, err := s.QueryOptimistic(ctx, []byte("b1"), []byte{0x11}, []byte{0xAA}, nil)
	require.NoError(t, err)
	require.True(t, v.Found)
	require.Equal(t, []byte{0xFF}, v.Value)
	require.EqualValues(t, 1, v.BlockNumber)

	fv, err := s.QueryFinalized(ctx, []byte{0x11}, []byte{0xAA}, 1, 0)
	require.NoError(t, err)
	require.False(t, fv.Found, "finalized query must not see an unfinalized block")
}

// Scenario 3: finalize and re-query.
func TestFinalizeAndRequery(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	b1ID, err := s.InsertBlock(ctx, &Block{
		BlockAddress:  []byte("b1"),
		ParentBlockID: genesisID,
		Number:        1,
		Timestamp:     Timestamp{Seconds: 2},
		SolutionSets: []SolutionSet{{
			ContentHash: []byte("s0"),
			Solutions: []Solution{{
				ContractAddr:  []byte{0x11},
				PredicateAddr: []byte{0x22},
				Mutations:     []Mutation{{Key: []byte{0xAA}, Value: []byte{0xFF}}},
			}},
		}},
	})
	require.NoError(t, err)

	require.NoError(t, s.FinalizeBlock(ctx, 1, b1ID))

	fv, err := s.QueryFinalized(ctx, []byte{0x11}, []byte{0xAA}, 1, 0)
	require.NoError(t, err)
	require.True(t, fv.Found)
	require.Equal(t, []byte{0xFF}, fv.Value)

	latest, err := s.LatestFinalizedBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, []byte("b1"), latest.BlockAddress)
}

// Double-finalize returns an Integrity error, not a silent no-op.
func TestDoubleFinalizeFails(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	b1ID, err := s.InsertBlock(ctx, &Block{
		BlockAddress: []byte("b1"), ParentBlockID: genesisID, Number: 1,
	})
	require.NoError(t, err)
	require.NoError(t, s.FinalizeBlock(ctx, 1, b1ID))

	err = s.FinalizeBlock(ctx, 1, b1ID)
	require.Error(t, err)
}

// Scenario 4: fork resolution.
func TestForkResolution(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	b1ID, err := s.InsertBlock(ctx, &Block{
		BlockAddress: []byte("b1"), ParentBlockID: genesisID, Number: 1,
	})
	require.NoError(t, err)

	_, err = s.InsertBlock(ctx, &Block{
		BlockAddress:  []byte("b2a"),
		ParentBlockID: b1ID,
		Number:        2,
		SolutionSets: []SolutionSet{{
			ContentHash: []byte("s2a"),
			Solutions: []Solution{{
				ContractAddr: []byte{0x11}, PredicateAddr: []byte{0x22},
				Mutations: []Mutation{{Key: []byte{0xAA}, Value: []byte{0x01}}},
			}},
		}},
	})
	require.NoError(t, err)

	_, err = s.InsertBlock(ctx, &Block{
		BlockAddress:  []byte("b2b"),
		ParentBlockID: b1ID,
		Number:        2,
		SolutionSets: []SolutionSet{{
			ContentHash: []byte("s2b"),
			Solutions: []Solution{{
				ContractAddr: []byte{0x11}, PredicateAddr: []byte{0x22},
				Mutations: []Mutation{{Key: []byte{0xAA}, Value: []byte{0x02}}},
			}},
		}},
	})
	require.NoError(t, err)

	v2a, err := s.QueryOptimistic(ctx, []byte("b2a"), []byte{0x11}, []byte{0xAA}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, v2a.Value)

	v2b, err := s.QueryOptimistic(ctx, []byte("b2b"), []byte{0x11}, []byte{0xAA}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, v2b.Value)

	v1, err := s.QueryOptimistic(ctx, []byte("b1"), []byte{0x11}, []byte{0xAA}, nil)
	require.NoError(t, err)
	require.False(t, v1.Found, "parent block must be unaffected by either child fork")
}

// Idempotence: replaying a block's insert is a no-op.
func TestInsertBlockIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	block := &Block{
		BlockAddress:  []byte("b1"),
		ParentBlockID: genesisID,
		Number:        1,
		SolutionSets: []SolutionSet{{
			ContentHash: []byte("s0"),
			Solutions: []Solution{{
				ContractAddr: []byte{0x11}, PredicateAddr: []byte{0x22},
				Mutations: []Mutation{{Key: []byte{0xAA}, Value: []byte{0xFF}}},
				DecVars:   []DecVar{{Value: []byte{0x01}}},
			}},
		}},
	}

	id1, err := s.InsertBlock(ctx, block)
	require.NoError(t, err)
	id2, err := s.InsertBlock(ctx, block)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	n, err := s.CountBlocks(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n) // genesis + b1, inserted exactly once each
}

func TestListBlocksByNumberRangeRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	inserted := &Block{
		BlockAddress:  []byte("b1"),
		ParentBlockID: genesisID,
		Number:        1,
		Timestamp:     Timestamp{Seconds: 7, Nanoseconds: 9},
		SolutionSets: []SolutionSet{{
			ContentHash: []byte("s0"),
			Solutions: []Solution{{
				ContractAddr: []byte{0x11}, PredicateAddr: []byte{0x22},
				Mutations: []Mutation{{Key: []byte{0xAA}, Value: []byte{0xFF}}},
			}},
		}},
	}
	_, err := s.InsertBlock(ctx, inserted)
	require.NoError(t, err)

	got, err := s.ListBlocksByNumberRange(ctx, 1, 2, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, inserted.BlockAddress, got[0].BlockAddress)
	require.Equal(t, inserted.Timestamp, got[0].Timestamp)
	require.Len(t, got[0].SolutionSets, 1)
	require.Len(t, got[0].SolutionSets[0].Solutions, 1)
	require.Equal(t, []byte{0xFF}, got[0].SolutionSets[0].Solutions[0].Mutations[0].Value)
}

func TestEmptyStoreQueriesReturnAbsent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	v, err := s.QueryOptimistic(ctx, []byte("nope"), []byte{0x01}, []byte{0x02}, nil)
	require.NoError(t, err)
	require.False(t, v.Found)

	blocks, err := s.ListBlocksByNumberRange(ctx, 0, 100, 10, 0)
	require.NoError(t, err)
	require.Empty(t, blocks)

	latest, err := s.LatestFinalizedBlock(ctx)
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestUnfinalizedDescendants(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	b1ID, err := s.InsertBlock(ctx, &Block{BlockAddress: []byte("b1"), ParentBlockID: genesisID, Number: 1})
	require.NoError(t, err)
	_, err = s.InsertBlock(ctx, &Block{BlockAddress: []byte("b2"), ParentBlockID: b1ID, Number: 2})
	require.NoError(t, err)

	require.NoError(t, s.FinalizeBlock(ctx, 1, b1ID))

	descendants, err := s.ListUnfinalizedDescendants(ctx, genesisID)
	require.NoError(t, err)
	require.Len(t, descendants, 1)
	require.Equal(t, []byte("b2"), descendants[0].BlockAddress)
}

func TestValidationProgressMonotone(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	genesisID := insertGenesis(t, s)

	p, err := s.GetValidationProgress(ctx)
	require.NoError(t, err)
	require.Nil(t, p)

	require.NoError(t, s.SetValidationProgress(ctx, genesisID, 0))
	p, err = s.GetValidationProgress(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, p.BlockNumber)

	b1ID, err := s.InsertBlock(ctx, &Block{BlockAddress: []byte("b1"), ParentBlockID: genesisID, Number: 1})
	require.NoError(t, err)
	require.NoError(t, s.SetValidationProgress(ctx, b1ID, 1))

	p, err = s.GetValidationProgress(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.BlockNumber)
}
