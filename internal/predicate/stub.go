package predicate

import "context"

// StubEngine is a fixed-outcome Engine for exercising callers that depend
// on the Engine interface without compiling real predicate bytecode. It
// also records every call it received, and exercises the StateReader if
// ReadKey is set, since the validation stream's read-path wiring should
// be testable without a real WASM module to execute.
type StubEngine struct {
	Outcome Outcome
	Err     error

	// ReadKey and ReadContract, if non-nil, are passed to the supplied
	// StateReader once per Check call so tests can assert the validation
	// stream constructed the reader correctly.
	ReadContract, ReadKey []byte

	Calls []StubCall
}

// StubCall records the arguments of a single Check invocation.
type StubCall struct {
	Bytecode         []byte
	DecVars, PredData [][]byte
}

func (e *StubEngine) Check(ctx context.Context, bytecode []byte, decVars, predData [][]byte, read StateReader) (Outcome, error) {
	e.Calls = append(e.Calls, StubCall{Bytecode: bytecode, DecVars: decVars, PredData: predData})

	if e.ReadKey != nil && read != nil {
		if _, _, err := read(ctx, e.ReadContract, e.ReadKey); err != nil {
			return Outcome{}, err
		}
	}

	if e.Err != nil {
		return Outcome{}, e.Err
	}
	return e.Outcome, nil
}

var _ Engine = (*StubEngine)(nil)
