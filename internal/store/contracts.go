package store

import (
	"context"
	"database/sql"
)

// InsertContract inserts c, its predicates, and the contract_predicate
// membership rows in one transaction, insert-or-ignore on content hash so
// the contract relayer worker is idempotent on replay.
func (s *Store) InsertContract(ctx context.Context, c *Contract) (int64, error) {
	var contractID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO contract (content_hash, salt, created_at_seconds, created_at_nanos)
			 VALUES (?, ?, ?, ?)`,
			c.ContentHash, c.Salt, c.CreatedAt.Seconds, c.CreatedAt.Nanoseconds); err != nil {
			return classifyWriteErr("insert contract", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM contract WHERE content_hash = ?`, c.ContentHash).Scan(&contractID); err != nil {
			return classifyWriteErr("resolve contract id", err)
		}

		for _, p := range c.Predicates {
			predID, err := upsertPredicate(ctx, tx, &p)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO contract_predicate (contract_id, predicate_id) VALUES (?, ?)`,
				contractID, predID); err != nil {
				return classifyWriteErr("insert contract_predicate", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return contractID, nil
}

func upsertPredicate(ctx context.Context, tx *sql.Tx, p *Predicate) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO predicate (content_hash, predicate) VALUES (?, ?)`,
		p.ContentHash, p.Bytecode); err != nil {
		return 0, classifyWriteErr("insert predicate", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM predicate WHERE content_hash = ?`, p.ContentHash).Scan(&id); err != nil {
		return 0, classifyWriteErr("resolve predicate id", err)
	}
	return id, nil
}

// GetContractByHash reads a contract and its predicates, or (nil, nil) if
// absent.
func (s *Store) GetContractByHash(ctx context.Context, contentHash []byte) (*Contract, error) {
	var out *Contract
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		c := &Contract{}
		row := conn.QueryRowContext(ctx,
			`SELECT id, content_hash, salt, created_at_seconds, created_at_nanos
			 FROM contract WHERE content_hash = ?`, contentHash)
		if err := row.Scan(&c.ID, &c.ContentHash, &c.Salt, &c.CreatedAt.Seconds, &c.CreatedAt.Nanoseconds); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return classifyWriteErr("get contract", err)
		}

		rows, err := conn.QueryContext(ctx,
			`SELECT p.id, p.content_hash, p.predicate FROM predicate p
			 JOIN contract_predicate cp ON cp.predicate_id = p.id
			 WHERE cp.contract_id = ?`, c.ID)
		if err != nil {
			return classifyWriteErr("list contract predicates", err)
		}
		defer rows.Close()
		for rows.Next() {
			var p Predicate
			if err := rows.Scan(&p.ID, &p.ContentHash, &p.Bytecode); err != nil {
				return classifyWriteErr("scan predicate", err)
			}
			c.Predicates = append(c.Predicates, p)
		}
		if err := rows.Err(); err != nil {
			return classifyWriteErr("iterate predicates", err)
		}
		out = c
		return nil
	})
	return out, err
}

// GetPredicateBytecode resolves a predicate's bytecode by
// (contract_addr, predicate_addr), the lookup the validation stream
// performs before invoking the interpreter.
func (s *Store) GetPredicateBytecode(ctx context.Context, contractAddr, predicateAddr []byte) ([]byte, error) {
	var bytecode []byte
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT p.predicate FROM predicate p
			 JOIN contract_predicate cp ON cp.predicate_id = p.id
			 JOIN contract c ON c.id = cp.contract_id
			 WHERE c.content_hash = ? AND p.content_hash = ?`, contractAddr, predicateAddr)
		if err := row.Scan(&bytecode); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return classifyWriteErr("get predicate bytecode", err)
		}
		return nil
	})
	return bytecode, err
}

// ListContractsByTimeRange returns contracts whose created_at_seconds
// falls in [startSecs, endSecs), ordered by creation time then content
// hash, paginated; the contract analogue of ListBlocksByTimeRange.
func (s *Store) ListContractsByTimeRange(ctx context.Context, startSecs, endSecs uint64, limit, offset int) ([]*Contract, error) {
	var out []*Contract
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, content_hash, salt, created_at_seconds, created_at_nanos FROM contract
			 WHERE created_at_seconds >= ? AND created_at_seconds < ?
			 ORDER BY created_at_seconds ASC, content_hash ASC LIMIT ? OFFSET ?`,
			startSecs, endSecs, limit, offset)
		if err != nil {
			return classifyWriteErr("list contracts by time range", err)
		}
		defer rows.Close()
		for rows.Next() {
			c := &Contract{}
			if err := rows.Scan(&c.ID, &c.ContentHash, &c.Salt, &c.CreatedAt.Seconds, &c.CreatedAt.Nanoseconds); err != nil {
				return classifyWriteErr("scan contract", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// CountContracts supplements the contract enumeration queries with a
// total for pagination headers, mirroring CountBlocks.
func (s *Store) CountContracts(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM contract`).Scan(&n)
	})
	if err != nil {
		return 0, classifyWriteErr("count contracts", err)
	}
	return n, nil
}
