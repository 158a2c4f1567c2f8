// Package predicate defines the interpreter engine the validation stream
// invokes to accept or reject a solution. Predicates are consumed as
// pure functions over opaque bytecode; this package names the interface
// the validation stream actually calls against, plus one concrete,
// pluggable implementation.
package predicate

import "context"

// FailureKind classifies why a predicate rejected a solution, so the
// validation stream can record more than a boolean into its outcome
// stream without the engine needing to know about the outcome store's
// error taxonomy.
type FailureKind string

const (
	// FailureRejected means the predicate ran to completion and
	// declined the solution.
	FailureRejected FailureKind = "rejected"
	// FailureTrap means the predicate program faulted (e.g. out of
	// bounds memory access, division by zero, explicit trap opcode).
	FailureTrap FailureKind = "trap"
	// FailureResourceLimit means the predicate exceeded the per-call
	// execution time budget (WasmEngine's fixed maxCheckDuration; no fuel
	// or memory budget is enforced), treated as a rejection rather
	// than an infrastructure error so a single pathological predicate
	// cannot stall validation progress indefinitely.
	FailureResourceLimit FailureKind = "resource_limit"
)

// Outcome is the result of a single Check call.
type Outcome struct {
	Accepted bool
	Failure  FailureKind // zero value when Accepted
}

// StateReader resolves a single (contractAddr, key) read the predicate
// issues during execution. The validation stream supplies an
// implementation backed by Store.QueryOptimistic bounded at the
// solution's parent block and solution-set index.
type StateReader func(ctx context.Context, contractAddr, key []byte) (value []byte, found bool, err error)

// Engine is the contract the validation stream depends on. Solution
// bytecode, decision variables and predicate data are all opaque byte
// sequences from the store's point of view; Engine is the only component
// that interprets them.
type Engine interface {
	Check(ctx context.Context, bytecode []byte, decVars, predData [][]byte, read StateReader) (Outcome, error)
}
