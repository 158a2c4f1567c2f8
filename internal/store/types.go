package store

// Timestamp is a (seconds, nanoseconds) pair, nanoseconds in
// [0, 1_000_000_000).
type Timestamp struct {
	Seconds     uint64
	Nanoseconds uint32
}

// Block is the content-addressed block header.
type Block struct {
	ID             int64
	BlockAddress   []byte
	ParentBlockID  int64 // 0 is the genesis sentinel
	Number         uint64
	Timestamp      Timestamp
	SolutionSets   []SolutionSet // ordered by SolutionSetIndex; populated on read
}

// SolutionSet groups an ordered list of solutions.
type SolutionSet struct {
	ID               int64
	ContentHash      []byte
	SolutionSetIndex uint64 // position within its owning block; only set on read
	Solutions        []Solution
}

// Solution is a declared change to a contract.
type Solution struct {
	ID              int64
	SolutionSetID   int64
	SolutionIndex   uint64
	ContractAddr    []byte
	PredicateAddr   []byte
	Mutations       []Mutation
	DecVars         []DecVar
	PredData        []PredData
}

// Mutation writes Value at Key under the owning solution's ContractAddr.
type Mutation struct {
	ID            int64
	SolutionID    int64
	MutationIndex uint64
	Key           []byte
	Value         []byte
}

// DecVar is an immutable, ordered predicate input.
type DecVar struct {
	ID           int64
	SolutionID   int64
	DecVarIndex  uint64
	Value        []byte
}

// PredData supplies user-provided predicate arguments, ordered like DecVar.
type PredData struct {
	ID           int64
	SolutionID   int64
	PredDataIndex uint64
	Value        []byte
}

// Contract is a deployed predicate bundle.
type Contract struct {
	ID          int64
	ContentHash []byte
	Salt        []byte
	CreatedAt   Timestamp
	Predicates  []Predicate
}

// Predicate is opaque bytecode looked up by (contract_addr, predicate_addr).
type Predicate struct {
	ID          int64
	ContentHash []byte
	Bytecode    []byte
}

// ValidationOutcome is the per-block result of a validation pass.
type ValidationOutcome struct {
	BlockNumber    uint64
	Passed         bool
	FailedSetIndex []uint64 // empty when Passed
}

// ValidationProgress is the single validation_progress row.
type ValidationProgress struct {
	BlockID     int64
	BlockNumber uint64
}
