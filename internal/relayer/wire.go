// Package relayer implements the node's two ingestion workers: independent, restartable streams that pull blocks and contract
// registrations from an upstream HTTP endpoint into the store.
package relayer

// blockRecord is the wire shape of one line of the blocks NDJSON stream.
// Nested solution/mutation/dec_var/pred_data shapes mirror store.Block's
// fields one for one; blockRecord.toStoreBlock converts between them so the
// store package never needs to know about the upstream wire format.
type blockRecord struct {
	BlockAddress        []byte              `json:"block_address"`
	ParentBlockAddress  []byte              `json:"parent_block_address"`
	Number              uint64              `json:"number"`
	TimestampSeconds    uint64              `json:"timestamp_seconds"`
	TimestampNanoseconds uint32             `json:"timestamp_nanoseconds"`
	SolutionSets        []solutionSetRecord `json:"solution_sets"`
}

type solutionSetRecord struct {
	ContentHash []byte            `json:"content_hash"`
	Solutions   []solutionRecord  `json:"solutions"`
}

type solutionRecord struct {
	ContractAddr  []byte          `json:"contract_addr"`
	PredicateAddr []byte          `json:"predicate_addr"`
	Mutations     []mutationRecord `json:"mutations"`
	DecVars       [][]byte        `json:"dec_vars"`
	PredData      [][]byte        `json:"pred_data"`
}

type mutationRecord struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// contractRecord is the wire shape of one line of the contracts NDJSON
// stream.
type contractRecord struct {
	ContentHash      []byte            `json:"content_hash"`
	Salt             []byte            `json:"salt"`
	CreatedAtSeconds uint64            `json:"created_at_seconds"`
	CreatedAtNanoseconds uint32        `json:"created_at_nanoseconds"`
	Predicates       []predicateRecord `json:"predicates"`
}

type predicateRecord struct {
	ContentHash []byte `json:"content_hash"`
	Bytecode    []byte `json:"bytecode"`
}
