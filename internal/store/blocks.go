package store

import (
	"context"
	"database/sql"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// GenesisParentID is the sentinel parent_block_id of the genesis block.
const GenesisParentID = 0

// InsertBlock inserts b and its nested solution sets, solutions,
// mutations, dec_vars and pred_data in one transaction.
// Natural-key rows (solution_set by content_hash) use insert-or-ignore so
// replaying an already-stored block is a no-op, and the resolved solution_set id is always read back so a
// reused set is linked correctly even when another block already inserted
// its rows.
//
// InsertBlock does not itself enforce parent-chain consistency; that
// check is the relayer's responsibility before
// calling InsertBlock, so the store stays usable for out-of-order test
// fixtures and administrative repair.
func (s *Store) InsertBlock(ctx context.Context, b *Block) (int64, error) {
	var blockID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO block (block_address, parent_block_id, number, timestamp_secs, timestamp_nanos)
			 VALUES (?, ?, ?, ?, ?)`,
			b.BlockAddress, b.ParentBlockID, b.Number, b.Timestamp.Seconds, b.Timestamp.Nanoseconds)
		if err != nil {
			return classifyWriteErr("insert block", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Already present from a prior ingest attempt; resolve its id so
			// a replayed block is a no-op rather than a conflict.
			if err := tx.QueryRowContext(ctx,
				`SELECT id FROM block WHERE block_address = ?`, b.BlockAddress).Scan(&blockID); err != nil {
				return nodeerr.New(nodeerr.Storage, "resolve block id", err)
			}
			return nil
		}
		blockID, err = res.LastInsertId()
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "read block id", err)
		}

		for idx, set := range b.SolutionSets {
			setID, err := upsertSolutionSet(ctx, tx, set.ContentHash)
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO block_solution_set (block_id, solution_set_id, solution_set_index)
				 VALUES (?, ?, ?)`,
				blockID, setID, idx); err != nil {
				return nodeerr.New(nodeerr.Storage, "insert block_solution_set", err)
			}

			for _, sol := range set.Solutions {
				if err := insertSolution(ctx, tx, setID, &sol); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return blockID, nil
}

func upsertSolutionSet(ctx context.Context, tx *sql.Tx, contentHash []byte) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO solution_set (content_hash) VALUES (?)`, contentHash); err != nil {
		return 0, nodeerr.New(nodeerr.Storage, "insert solution_set", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM solution_set WHERE content_hash = ?`, contentHash).Scan(&id); err != nil {
		return 0, nodeerr.New(nodeerr.Storage, "resolve solution_set id", err)
	}
	return id, nil
}

func insertSolution(ctx context.Context, tx *sql.Tx, setID int64, sol *Solution) error {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO solution (solution_set_id, solution_index, contract_addr, predicate_addr)
		 VALUES (?, ?, ?, ?)`,
		setID, sol.SolutionIndex, sol.ContractAddr, sol.PredicateAddr)
	if err != nil {
		return nodeerr.New(nodeerr.Storage, "insert solution", err)
	}

	var solID int64
	if n, _ := res.RowsAffected(); n == 0 {
		// Already present from a prior ingest attempt; resolve its id so
		// callers replaying a block are a no-op rather than a conflict.
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM solution WHERE solution_set_id = ? AND solution_index = ?`,
			setID, sol.SolutionIndex).Scan(&solID); err != nil {
			return nodeerr.New(nodeerr.Storage, "resolve solution id", err)
		}
		return nil
	}
	solID, err = res.LastInsertId()
	if err != nil {
		return nodeerr.New(nodeerr.Storage, "read solution id", err)
	}

	for _, m := range sol.Mutations {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO mutation (solution_id, mutation_index, key, value) VALUES (?, ?, ?, ?)`,
			solID, m.MutationIndex, m.Key, m.Value); err != nil {
			return nodeerr.New(nodeerr.Storage, "insert mutation", err)
		}
	}
	for _, dv := range sol.DecVars {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO dec_var (solution_id, dec_var_index, value) VALUES (?, ?, ?)`,
			solID, dv.DecVarIndex, dv.Value); err != nil {
			return nodeerr.New(nodeerr.Storage, "insert dec_var", err)
		}
	}
	for _, pd := range sol.PredData {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO pred_data (solution_id, pred_data_index, value) VALUES (?, ?, ?)`,
			solID, pd.PredDataIndex, pd.Value); err != nil {
			return nodeerr.New(nodeerr.Storage, "insert pred_data", err)
		}
	}
	return nil
}

// GetBlockByAddress reads a block and its nested structure by content
// address, or (nil, nil) if absent.
func (s *Store) GetBlockByAddress(ctx context.Context, addr []byte) (*Block, error) {
	var b *Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT id, block_address, parent_block_id, number, timestamp_secs, timestamp_nanos
			 FROM block WHERE block_address = ?`, addr)
		blk, err := scanBlock(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "get block by address", err)
		}
		if err := loadSolutionSets(ctx, conn, blk); err != nil {
			return err
		}
		b = blk
		return nil
	})
	return b, err
}

// GetBlockByID is GetBlockByAddress keyed on the internal integer id.
func (s *Store) GetBlockByID(ctx context.Context, id int64) (*Block, error) {
	var b *Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT id, block_address, parent_block_id, number, timestamp_secs, timestamp_nanos
			 FROM block WHERE id = ?`, id)
		blk, err := scanBlock(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "get block by id", err)
		}
		if err := loadSolutionSets(ctx, conn, blk); err != nil {
			return err
		}
		b = blk
		return nil
	})
	return b, err
}

func scanBlock(row *sql.Row) (*Block, error) {
	b := &Block{}
	if err := row.Scan(&b.ID, &b.BlockAddress, &b.ParentBlockID, &b.Number, &b.Timestamp.Seconds, &b.Timestamp.Nanoseconds); err != nil {
		return nil, err
	}
	return b, nil
}

func loadSolutionSets(ctx context.Context, conn *sql.Conn, b *Block) error {
	rows, err := conn.QueryContext(ctx,
		`SELECT ss.id, ss.content_hash, bss.solution_set_index
		 FROM block_solution_set bss JOIN solution_set ss ON ss.id = bss.solution_set_id
		 WHERE bss.block_id = ? ORDER BY bss.solution_set_index`, b.ID)
	if err != nil {
		return nodeerr.New(nodeerr.Storage, "list block solution sets", err)
	}
	defer rows.Close()

	var sets []SolutionSet
	for rows.Next() {
		var set SolutionSet
		if err := rows.Scan(&set.ID, &set.ContentHash, &set.SolutionSetIndex); err != nil {
			return nodeerr.New(nodeerr.Storage, "scan solution set", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nodeerr.New(nodeerr.Storage, "iterate solution sets", err)
	}

	for i := range sets {
		sols, err := loadSolutions(ctx, conn, sets[i].ID)
		if err != nil {
			return err
		}
		sets[i].Solutions = sols
	}
	b.SolutionSets = sets
	return nil
}

func loadSolutions(ctx context.Context, conn *sql.Conn, setID int64) ([]Solution, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, solution_set_id, solution_index, contract_addr, predicate_addr
		 FROM solution WHERE solution_set_id = ? ORDER BY solution_index`, setID)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Storage, "list solutions", err)
	}
	defer rows.Close()

	var sols []Solution
	for rows.Next() {
		var sol Solution
		if err := rows.Scan(&sol.ID, &sol.SolutionSetID, &sol.SolutionIndex, &sol.ContractAddr, &sol.PredicateAddr); err != nil {
			return nil, nodeerr.New(nodeerr.Storage, "scan solution", err)
		}
		sols = append(sols, sol)
	}
	if err := rows.Err(); err != nil {
		return nil, nodeerr.New(nodeerr.Storage, "iterate solutions", err)
	}

	for i := range sols {
		muts, err := loadMutations(ctx, conn, sols[i].ID)
		if err != nil {
			return nil, err
		}
		sols[i].Mutations = muts

		dvs, err := loadDecVars(ctx, conn, sols[i].ID)
		if err != nil {
			return nil, err
		}
		sols[i].DecVars = dvs

		pds, err := loadPredData(ctx, conn, sols[i].ID)
		if err != nil {
			return nil, err
		}
		sols[i].PredData = pds
	}
	return sols, nil
}

func loadMutations(ctx context.Context, conn *sql.Conn, solID int64) ([]Mutation, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, solution_id, mutation_index, key, value FROM mutation
		 WHERE solution_id = ? ORDER BY mutation_index`, solID)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Storage, "list mutations", err)
	}
	defer rows.Close()
	var out []Mutation
	for rows.Next() {
		var m Mutation
		if err := rows.Scan(&m.ID, &m.SolutionID, &m.MutationIndex, &m.Key, &m.Value); err != nil {
			return nil, nodeerr.New(nodeerr.Storage, "scan mutation", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func loadDecVars(ctx context.Context, conn *sql.Conn, solID int64) ([]DecVar, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, solution_id, dec_var_index, value FROM dec_var
		 WHERE solution_id = ? ORDER BY dec_var_index`, solID)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Storage, "list dec_vars", err)
	}
	defer rows.Close()
	var out []DecVar
	for rows.Next() {
		var dv DecVar
		if err := rows.Scan(&dv.ID, &dv.SolutionID, &dv.DecVarIndex, &dv.Value); err != nil {
			return nil, nodeerr.New(nodeerr.Storage, "scan dec_var", err)
		}
		out = append(out, dv)
	}
	return out, rows.Err()
}

func loadPredData(ctx context.Context, conn *sql.Conn, solID int64) ([]PredData, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, solution_id, pred_data_index, value FROM pred_data
		 WHERE solution_id = ? ORDER BY pred_data_index`, solID)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Storage, "list pred_data", err)
	}
	defer rows.Close()
	var out []PredData
	for rows.Next() {
		var pd PredData
		if err := rows.Scan(&pd.ID, &pd.SolutionID, &pd.PredDataIndex, &pd.Value); err != nil {
			return nil, nodeerr.New(nodeerr.Storage, "scan pred_data", err)
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

// ListBlocksByNumberRange returns blocks with number in [start, end),
// ordered by (number, block_address), paginated.
func (s *Store) ListBlocksByNumberRange(ctx context.Context, start, end uint64, limit, offset int) ([]*Block, error) {
	var out []*Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, block_address, parent_block_id, number, timestamp_secs, timestamp_nanos
			 FROM block WHERE number >= ? AND number < ?
			 ORDER BY number ASC, block_address ASC LIMIT ? OFFSET ?`,
			start, end, limit, offset)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "list blocks by number range", err)
		}
		defer rows.Close()

		var blocks []*Block
		for rows.Next() {
			b := &Block{}
			if err := rows.Scan(&b.ID, &b.BlockAddress, &b.ParentBlockID, &b.Number, &b.Timestamp.Seconds, &b.Timestamp.Nanoseconds); err != nil {
				return nodeerr.New(nodeerr.Storage, "scan block", err)
			}
			blocks = append(blocks, b)
		}
		if err := rows.Err(); err != nil {
			return nodeerr.New(nodeerr.Storage, "iterate blocks", err)
		}
		for _, b := range blocks {
			if err := loadSolutionSets(ctx, conn, b); err != nil {
				return err
			}
		}
		out = blocks
		return nil
	})
	return out, err
}

// ListBlocksByTimeRange returns blocks whose (seconds, nanos) timestamp
// falls in [startSecs, endSecs), paginated.
func (s *Store) ListBlocksByTimeRange(ctx context.Context, startSecs, endSecs uint64, limit, offset int) ([]*Block, error) {
	var out []*Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, block_address, parent_block_id, number, timestamp_secs, timestamp_nanos
			 FROM block WHERE timestamp_secs >= ? AND timestamp_secs < ?
			 ORDER BY number ASC, block_address ASC LIMIT ? OFFSET ?`,
			startSecs, endSecs, limit, offset)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "list blocks by time range", err)
		}
		defer rows.Close()
		for rows.Next() {
			b := &Block{}
			if err := rows.Scan(&b.ID, &b.BlockAddress, &b.ParentBlockID, &b.Number, &b.Timestamp.Seconds, &b.Timestamp.Nanoseconds); err != nil {
				return nodeerr.New(nodeerr.Storage, "scan block", err)
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

// CountBlocks returns the total number of blocks, for pagination headers.
func (s *Store) CountBlocks(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM block`).Scan(&n)
	})
	if err != nil {
		return 0, nodeerr.New(nodeerr.Storage, "count blocks", err)
	}
	return n, nil
}

// ListUnfinalizedDescendants recursively walks down parent pointers from
// root, returning every block reachable that is not itself finalized.
func (s *Store) ListUnfinalizedDescendants(ctx context.Context, rootBlockID int64) ([]*Block, error) {
	var out []*Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			WITH RECURSIVE descendants(id) AS (
				SELECT id FROM block WHERE parent_block_id = ?
				UNION ALL
				SELECT b.id FROM block b JOIN descendants d ON b.parent_block_id = d.id
			)
			SELECT b.id, b.block_address, b.parent_block_id, b.number, b.timestamp_secs, b.timestamp_nanos
			FROM descendants d JOIN block b ON b.id = d.id
			WHERE b.id NOT IN (SELECT block_id FROM finalized_block)
			ORDER BY b.number ASC, b.block_address ASC`, rootBlockID)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "list unfinalized descendants", err)
		}
		defer rows.Close()
		for rows.Next() {
			b := &Block{}
			if err := rows.Scan(&b.ID, &b.BlockAddress, &b.ParentBlockID, &b.Number, &b.Timestamp.Seconds, &b.Timestamp.Nanoseconds); err != nil {
				return nodeerr.New(nodeerr.Storage, "scan block", err)
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

// classifyWriteErr maps a UNIQUE/constraint violation surfaced by the
// driver to nodeerr.Integrity, and anything else to nodeerr.Storage,
// following the error-handling design's split between invariant
// violations and generic I/O failure.
func classifyWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraintErr(err) {
		return nodeerr.New(nodeerr.Integrity, op, err)
	}
	return nodeerr.New(nodeerr.Storage, op, err)
}
