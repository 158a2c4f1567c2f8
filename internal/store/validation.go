package store

import (
	"context"
	"database/sql"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// GetValidationProgress reads the single validation_progress row, or
// (nil, nil) if no block has been checked yet.
func (s *Store) GetValidationProgress(ctx context.Context) (*ValidationProgress, error) {
	var out *ValidationProgress
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		p := &ValidationProgress{}
		row := conn.QueryRowContext(ctx, `SELECT block_id, block_number FROM validation_progress WHERE id = 1`)
		if err := row.Scan(&p.BlockID, &p.BlockNumber); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return nodeerr.New(nodeerr.Storage, "get validation progress", err)
		}
		out = p
		return nil
	})
	return out, err
}

// SetValidationProgress upserts the single validation_progress row to
// point at blockID/blockNumber, in its own transaction. Callers MUST only
// advance this monotonically — SetValidationProgress does not itself
// check this. The validation stream does not call it; it advances
// progress through RecordValidationResult.
func (s *Store) SetValidationProgress(ctx context.Context, blockID int64, blockNumber uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO validation_progress (id, block_id, block_number) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET block_id = excluded.block_id, block_number = excluded.block_number`,
			blockID, blockNumber)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "set validation progress", err)
		}
		return nil
	})
}

// RecordFailedBlock inserts failed_block(block_id, solution_set_id),
// unique so the same set is never double-recorded for the same block.
func (s *Store) RecordFailedBlock(ctx context.Context, blockID, solutionSetID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO failed_block (block_id, solution_set_id) VALUES (?, ?)`, blockID, solutionSetID)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "record failed block", err)
		}
		return nil
	})
}

// FailedSolutionSets returns the solution_set ids recorded as failed for
// blockID, in no particular order.
func (s *Store) FailedSolutionSets(ctx context.Context, blockID int64) ([]int64, error) {
	var out []int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT solution_set_id FROM failed_block WHERE block_id = ?`, blockID)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "list failed solution sets", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nodeerr.New(nodeerr.Storage, "scan failed solution set", err)
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}

// RecordValidationResult commits a block's validation outcome in a
// single transaction: one failed_block row per failed solution set, then
// the validation_progress advance, exactly the "all writes in step 2-3
// happen in one transaction per block" contract. Callers
// that need the two writes independently (tests, administrative repair)
// can still use RecordFailedBlock/SetValidationProgress directly.
func (s *Store) RecordValidationResult(ctx context.Context, blockID int64, blockNumber uint64, failedSolutionSetIDs []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, setID := range failedSolutionSetIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO failed_block (block_id, solution_set_id) VALUES (?, ?)`,
				blockID, setID); err != nil {
				return nodeerr.New(nodeerr.Storage, "record failed block", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO validation_progress (id, block_id, block_number) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET block_id = excluded.block_id, block_number = excluded.block_number`,
			blockID, blockNumber)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "set validation progress", err)
		}
		return nil
	})
}

// ListUncheckedBlocks returns blocks with number in [start, end) that
// have no failed_block row recorded against them yet, ordered by
// (number, block_address). Genesis is included when start is 0.
// Note this enumerates candidates for
// validation; a block with zero solution sets is trivially "checked" the
// moment it's visited even though it never produces a failed_block row,
// so the validation stream — not this query — is the source of truth for
// whether a given block has actually been visited; callers combine this
// with GetValidationProgress to bound the range to (progress, latest].
func (s *Store) ListUncheckedBlocks(ctx context.Context, start, end uint64) ([]*Block, error) {
	var out []*Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT b.id, b.block_address, b.parent_block_id, b.number, b.timestamp_secs, b.timestamp_nanos
			FROM block b
			WHERE b.number >= ? AND b.number < ?
			  AND b.id NOT IN (SELECT block_id FROM failed_block)
			ORDER BY b.number ASC, b.block_address ASC`, start, end)
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "list unchecked blocks", err)
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
			return err
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
