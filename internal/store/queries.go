package store

import (
	"context"
	"database/sql"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// StateValue is the result of a state query: the value found and the
// block number at which it was written, or Found == false if no
// matching mutation exists anywhere in the searched range.
type StateValue struct {
	Value       []byte
	BlockNumber uint64
	Found       bool
}

// QueryOptimistic resolves (contractAddr, key) as of blockAddress: it
// walks the block tree from blockAddress up through parent pointers,
// stopping at the first finalized ancestor (inclusive), and returns the
// value from the first block along that walk containing a matching
// mutation. Within that block, ties break on the greatest
// solution_set_index, optionally bounded by solutionSetIndexBound when
// the query originates from within that same block.
func (s *Store) QueryOptimistic(ctx context.Context, blockAddress, contractAddr, key []byte, solutionSetIndexBound *uint64) (StateValue, error) {
	var out StateValue
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		query := `
			WITH RECURSIVE chain(id, parent_id, number, depth, stop) AS (
				SELECT b.id, b.parent_block_id, b.number, 0,
					(SELECT COUNT(*) FROM finalized_block fb WHERE fb.block_id = b.id)
				FROM block b WHERE b.block_address = ?
				UNION ALL
				SELECT b.id, b.parent_block_id, b.number, c.depth + 1,
					(SELECT COUNT(*) FROM finalized_block fb WHERE fb.block_id = b.id)
				FROM chain c
				JOIN block b ON b.id = c.parent_id
				WHERE c.stop = 0 AND c.parent_id != 0
			)
			SELECT m.value, chain.number
			FROM chain
			JOIN block_solution_set bss ON bss.block_id = chain.id
			JOIN solution_set ss ON ss.id = bss.solution_set_id
			JOIN solution sol ON sol.solution_set_id = ss.id
			JOIN mutation m ON m.solution_id = sol.id
			WHERE sol.contract_addr = ? AND m.key = ?`
		args := []interface{}{blockAddress, contractAddr, key}
		if solutionSetIndexBound != nil {
			query += ` AND (chain.depth > 0 OR bss.solution_set_index <= ?)`
			args = append(args, *solutionSetIndexBound)
		}
		query += `
			ORDER BY chain.depth ASC, bss.solution_set_index DESC, sol.solution_index DESC, m.mutation_index DESC
			LIMIT 1`

		row := conn.QueryRowContext(ctx, query, args...)
		if err := row.Scan(&out.Value, &out.BlockNumber); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return nodeerr.New(nodeerr.Storage, "query optimistic state", err)
		}
		out.Found = true
		return nil
	})
	return out, err
}

// QueryFinalized resolves (contractAddr, key) as of the finalized chain,
// bounded by the lexicographic tuple (blockNumber, solutionSetIndex):
// the latest mutation whose (finalized_block.block_number,
// block_solution_set.solution_set_index) is <= the bound.
func (s *Store) QueryFinalized(ctx context.Context, contractAddr, key []byte, blockNumber, solutionSetIndex uint64) (StateValue, error) {
	var out StateValue
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT m.value, fb.block_number
			FROM finalized_block fb
			JOIN block_solution_set bss ON bss.block_id = fb.block_id
			JOIN solution_set ss ON ss.id = bss.solution_set_id
			JOIN solution sol ON sol.solution_set_id = ss.id
			JOIN mutation m ON m.solution_id = sol.id
			WHERE sol.contract_addr = ? AND m.key = ?
			  AND (fb.block_number < ? OR (fb.block_number = ? AND bss.solution_set_index <= ?))
			ORDER BY fb.block_number DESC, bss.solution_set_index DESC, sol.solution_index DESC, m.mutation_index DESC
			LIMIT 1`,
			contractAddr, key, blockNumber, blockNumber, solutionSetIndex)
		if err := row.Scan(&out.Value, &out.BlockNumber); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return nodeerr.New(nodeerr.Storage, "query finalized state", err)
		}
		out.Found = true
		return nil
	})
	return out, err
}
