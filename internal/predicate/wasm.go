package predicate

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/essential-labs/essential-node/internal/nodeerr"
)

// WASM ABI a predicate module must satisfy. The host compiles and caches
// modules keyed by the bytecode itself (the store already deduplicates
// predicate rows by content_hash, so distinct rows always mean distinct
// programs); each Check call gets its own isolated instance since wazero
// module instances are not safe for concurrent invocation.
//
//	memory                                   exported linear memory
//	alloc(size i32) -> ptr i32                guest-side bump allocator
//	check(dv_ptr, dv_len,
//	      pd_ptr, pd_len i32) -> result i32    0 reject, 1 accept, <0 trap code
//
// Decision variables and predicate data are passed as a single buffer: a
// count followed by (offset, length) pairs, then the concatenated bytes —
// a length-prefixed flat encoding similar to a gob-free snapshot format,
// using a fixed-width header since the guest has no access to Go's
// encoding/gob.
//
// A read_state host import lets the guest resolve state lazily instead of
// requiring the validation stream to pre-enumerate every key a predicate
// might read, which isn't statically knowable from opaque bytecode:
//
//	read_state(contract_ptr, contract_len,
//	           key_ptr, key_len,
//	           out_ptr, out_cap) -> packed i64    host writes the value into
//	                                               the guest's out buffer,
//	                                               truncated to out_cap, and
//	                                               returns found<<32 | length
const (
	hostModuleName = "env"

	// maxCheckDuration bounds a single Check call's guest execution
	// (instantiation, alloc calls and the check call itself). wazero's
	// WithCloseOnContextDone aborts a running module the instant its
	// context is done, so this is the execution budget: a predicate that
	// loops forever is interrupted rather than stalling validation.
	maxCheckDuration = 5 * time.Second
)

// WasmEngine interprets predicate bytecode as WASM modules under wazero,
// compiling and caching each distinct program once.
type WasmEngine struct {
	runtime wazero.Runtime

	mu    sync.Mutex
	cache map[string]wazero.CompiledModule
}

// NewWasmEngine constructs an Engine backed by a wazero runtime configured
// to abort a running module as soon as its call context is done, which
// Check uses to enforce a per-call execution budget. The runtime and its
// compilation cache are shared across every Check call for the lifetime
// of the engine.
func NewWasmEngine(ctx context.Context) (*WasmEngine, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	return &WasmEngine{runtime: rt, cache: make(map[string]wazero.CompiledModule)}, nil
}

// Close releases the wazero runtime and every compiled module it holds.
func (e *WasmEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *WasmEngine) compiled(ctx context.Context, bytecode []byte) (wazero.CompiledModule, error) {
	key := string(bytecode)

	e.mu.Lock()
	if cm, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return cm, nil
	}
	e.mu.Unlock()

	cm, err := e.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		return nil, nodeerr.New(nodeerr.Validation, "compile predicate bytecode", err)
	}

	e.mu.Lock()
	e.cache[key] = cm
	e.mu.Unlock()
	return cm, nil
}

// Check instantiates a fresh copy of the predicate's module, wires the
// supplied StateReader as the read_state host import, and invokes the
// module's exported check function. Check is
// not safe to call concurrently on the same engine: the host import
// module is instantiated and torn down under the fixed name "env" each
// call, which a concurrent Check would race against. The validation
// stream only ever checks one solution at a time, so this is not a
// practical constraint today.
func (e *WasmEngine) Check(ctx context.Context, bytecode []byte, decVars, predData [][]byte, read StateReader) (Outcome, error) {
	cm, err := e.compiled(ctx, bytecode)
	if err != nil {
		return Outcome{}, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, maxCheckDuration)
	defer cancel()

	modCfg := wazero.NewModuleConfig().WithName("")
	builder := e.runtime.NewHostModuleBuilder(hostModuleName)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, contractPtr, contractLen, keyPtr, keyLen, outPtr, outCap uint32) uint64 {
			return hostReadState(ctx, mod, read, contractPtr, contractLen, keyPtr, keyLen, outPtr, outCap)
		}).
		Export("read_state")
	hostMod, err := builder.Instantiate(checkCtx)
	if err != nil {
		return Outcome{}, nodeerr.New(nodeerr.Validation, "bind predicate host imports", err)
	}
	defer hostMod.Close(checkCtx)

	mod, err := e.runtime.InstantiateModule(checkCtx, cm, modCfg)
	if err != nil {
		return Outcome{}, nodeerr.New(nodeerr.Validation, "instantiate predicate module", err)
	}
	defer mod.Close(checkCtx)

	dvPtr, dvLen, err := writeBuffers(checkCtx, mod, decVars)
	if err != nil {
		return Outcome{}, err
	}
	pdPtr, pdLen, err := writeBuffers(checkCtx, mod, predData)
	if err != nil {
		return Outcome{}, err
	}

	checkFn := mod.ExportedFunction("check")
	if checkFn == nil {
		return Outcome{}, nodeerr.New(nodeerr.Validation, "predicate module has no exported check function", nil)
	}

	results, err := checkFn.Call(checkCtx, uint64(dvPtr), uint64(dvLen), uint64(pdPtr), uint64(pdLen))
	if err != nil {
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			return Outcome{Accepted: false, Failure: FailureResourceLimit}, nil
		}
		return Outcome{Accepted: false, Failure: FailureTrap}, nil
	}
	if len(results) != 1 {
		return Outcome{}, nodeerr.New(nodeerr.Validation, "predicate check returned unexpected result count", nil)
	}

	code := int32(results[0])
	switch {
	case code == 1:
		return Outcome{Accepted: true}, nil
	case code == 0:
		return Outcome{Accepted: false, Failure: FailureRejected}, nil
	default:
		return Outcome{Accepted: false, Failure: FailureTrap}, nil
	}
}

// writeBuffers flattens a slice of byte buffers into the guest's linear
// memory using its exported alloc function and returns (ptr, totalLen) of
// a count-prefixed, (offset,length)-indexed encoding.
func writeBuffers(ctx context.Context, mod api.Module, bufs [][]byte) (ptr, length uint32, err error) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, nodeerr.New(nodeerr.Validation, "predicate module has no exported alloc function", nil)
	}

	header := 4 + len(bufs)*8
	payload := 0
	for _, b := range bufs {
		payload += len(b)
	}
	total := header + payload

	res, err := alloc.Call(ctx, uint64(total))
	if err != nil {
		return 0, 0, nodeerr.New(nodeerr.Validation, "predicate alloc call failed", err)
	}
	basePtr := uint32(res[0])

	mem := mod.Memory()
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(bufs)))
	offset := uint32(header)
	for i, b := range bufs {
		entry := 4 + i*8
		binary.LittleEndian.PutUint32(buf[entry:entry+4], offset)
		binary.LittleEndian.PutUint32(buf[entry+4:entry+8], uint32(len(b)))
		copy(buf[offset:offset+uint32(len(b))], b)
		offset += uint32(len(b))
	}

	if !mem.Write(basePtr, buf) {
		return 0, 0, nodeerr.New(nodeerr.Validation, "predicate memory write out of range", nil)
	}
	return basePtr, uint32(total), nil
}

// hostReadState backs the read_state import: it calls the StateReader,
// writes the resulting value (if any) into the guest-provided output
// buffer, and packs (found, length) into the returned i64 so the guest
// can tell "not found" apart from "found, zero-length value".
func hostReadState(ctx context.Context, mod api.Module, read StateReader, contractPtr, contractLen, keyPtr, keyLen, outPtr, outCap uint32) uint64 {
	mem := mod.Memory()
	contract, ok := mem.Read(contractPtr, contractLen)
	if !ok {
		return packReadResult(false, 0)
	}
	key, ok := mem.Read(keyPtr, keyLen)
	if !ok {
		return packReadResult(false, 0)
	}

	value, found, err := read(ctx, contract, key)
	if err != nil || !found {
		return packReadResult(false, 0)
	}
	if uint32(len(value)) > outCap {
		value = value[:outCap]
	}
	if !mem.Write(outPtr, value) {
		return packReadResult(false, 0)
	}
	return packReadResult(true, uint32(len(value)))
}

func packReadResult(found bool, length uint32) uint64 {
	var f uint64
	if found {
		f = 1
	}
	return f<<32 | uint64(length)
}

var _ Engine = (*WasmEngine)(nil)
