package store

// schema is the node's fixed relational schema. Tables and
// indexes are created idempotently at startup and never migrated in
// place: one large CREATE-TABLE-IF-NOT-EXISTS script applied on every
// open.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS block (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_address BLOB NOT NULL UNIQUE,
    parent_block_id INTEGER NOT NULL,
    number INTEGER NOT NULL,
    timestamp_secs INTEGER NOT NULL,
    timestamp_nanos INTEGER NOT NULL CHECK (timestamp_nanos >= 0 AND timestamp_nanos < 1000000000)
);
CREATE INDEX IF NOT EXISTS idx_block_number ON block(number);
CREATE INDEX IF NOT EXISTS idx_block_parent ON block(parent_block_id);

CREATE TABLE IF NOT EXISTS solution_set (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash BLOB NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS block_solution_set (
    block_id INTEGER NOT NULL REFERENCES block(id),
    solution_set_id INTEGER NOT NULL REFERENCES solution_set(id),
    solution_set_index INTEGER NOT NULL,
    PRIMARY KEY (block_id, solution_set_id, solution_set_index)
);
CREATE INDEX IF NOT EXISTS idx_bss_block ON block_solution_set(block_id, solution_set_index);

CREATE TABLE IF NOT EXISTS solution (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    solution_set_id INTEGER NOT NULL REFERENCES solution_set(id),
    solution_index INTEGER NOT NULL,
    contract_addr BLOB NOT NULL,
    predicate_addr BLOB NOT NULL,
    UNIQUE (solution_set_id, solution_index)
);

CREATE TABLE IF NOT EXISTS mutation (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    solution_id INTEGER NOT NULL REFERENCES solution(id),
    mutation_index INTEGER NOT NULL,
    key BLOB NOT NULL,
    value BLOB NOT NULL,
    UNIQUE (solution_id, mutation_index)
);
CREATE INDEX IF NOT EXISTS idx_mutation_solution ON mutation(solution_id);

CREATE TABLE IF NOT EXISTS dec_var (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    solution_id INTEGER NOT NULL REFERENCES solution(id),
    dec_var_index INTEGER NOT NULL,
    value BLOB NOT NULL,
    UNIQUE (solution_id, dec_var_index)
);

CREATE TABLE IF NOT EXISTS pred_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    solution_id INTEGER NOT NULL REFERENCES solution(id),
    pred_data_index INTEGER NOT NULL,
    value BLOB NOT NULL,
    UNIQUE (solution_id, pred_data_index)
);

CREATE TABLE IF NOT EXISTS contract (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash BLOB NOT NULL UNIQUE,
    salt BLOB NOT NULL,
    created_at_seconds INTEGER NOT NULL,
    created_at_nanos INTEGER NOT NULL CHECK (created_at_nanos >= 0 AND created_at_nanos < 1000000000)
);

CREATE TABLE IF NOT EXISTS predicate (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash BLOB NOT NULL UNIQUE,
    predicate BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS contract_predicate (
    contract_id INTEGER NOT NULL REFERENCES contract(id),
    predicate_id INTEGER NOT NULL REFERENCES predicate(id),
    PRIMARY KEY (contract_id, predicate_id)
);

CREATE TABLE IF NOT EXISTS finalized_block (
    block_number INTEGER PRIMARY KEY,
    block_id INTEGER NOT NULL UNIQUE REFERENCES block(id)
);

CREATE TABLE IF NOT EXISTS failed_block (
    block_id INTEGER NOT NULL REFERENCES block(id),
    solution_set_id INTEGER NOT NULL REFERENCES solution_set(id),
    PRIMARY KEY (block_id, solution_set_id)
);

CREATE TABLE IF NOT EXISTS validation_progress (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    block_id INTEGER NOT NULL REFERENCES block(id),
    block_number INTEGER NOT NULL
);
`

// schemaVersion guards against opening a database file created by an
// incompatible schema revision. Supplements the consolidation of
// historical schema variants: rather than attempt to detect and migrate
// a foreign layout, the node refuses to start against one.
const schemaVersion = 1
