package store

import (
	"context"
	"database/sql"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// FinalizeBlock inserts finalized_block(block_number, block_id). It
// MUST fail, not silently ignore, if block_number already has a row
// — the schema's
// PRIMARY KEY on block_number gives this for free; FinalizeBlock just
// classifies the resulting constraint violation as nodeerr.Integrity
// instead of swallowing it the way an INSERT OR IGNORE would.
func (s *Store) FinalizeBlock(ctx context.Context, blockNumber uint64, blockID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO finalized_block (block_number, block_id) VALUES (?, ?)`, blockNumber, blockID)
		return classifyWriteErr("finalize block", err)
	})
}

// LatestFinalizedBlock returns the finalized block with the greatest
// number, or (nil, nil) if none are finalized yet.
func (s *Store) LatestFinalizedBlock(ctx context.Context) (*Block, error) {
	var out *Block
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT b.id, b.block_address, b.parent_block_id, b.number, b.timestamp_secs, b.timestamp_nanos
			FROM finalized_block fb
			JOIN block b ON b.id = fb.block_id
			ORDER BY fb.block_number DESC LIMIT 1`)
		b, err := scanBlock(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return nodeerr.New(nodeerr.Storage, "get latest finalized block", err)
		}
		out = b
		return nil
	})
	return out, err
}

// IsFinalized reports whether blockID has a finalized_block row.
func (s *Store) IsFinalized(ctx context.Context, blockID int64) (bool, error) {
	var exists bool
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM finalized_block WHERE block_id = ?)`, blockID).Scan(&exists)
	})
	if err != nil {
		return false, nodeerr.New(nodeerr.Storage, "check finalized", err)
	}
	return exists, nil
}
