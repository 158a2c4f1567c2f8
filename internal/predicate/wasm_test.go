package predicate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWasmEngineRejectsMalformedBytecode(t *testing.T) {
	ctx := context.Background()
	e, err := NewWasmEngine(ctx)
	require.NoError(t, err)
	defer e.Close(ctx)

	_, err = e.Check(ctx, []byte("not a wasm module"), nil, nil, nil)
	require.Error(t, err)
}

func TestPackReadResultEncoding(t *testing.T) {
	packed := packReadResult(true, 42)
	require.Equal(t, uint64(1)<<32|42, packed)

	packed = packReadResult(false, 0)
	require.Equal(t, uint64(0), packed)
}

func TestStubEngineRecordsCallsAndInvokesReader(t *testing.T) {
	seen := false
	stub := &StubEngine{
		Outcome:      Outcome{Accepted: true},
		ReadContract: []byte("contract"),
		ReadKey:      []byte("key"),
	}

	reader := func(ctx context.Context, contractAddr, key []byte) ([]byte, bool, error) {
		seen = true
		require.Equal(t, []byte("contract"), contractAddr)
		require.Equal(t, []byte("key"), key)
		return []byte("value"), true, nil
	}

	out, err := stub.Check(context.Background(), []byte{1, 2, 3}, nil, nil, reader)
	require.NoError(t, err)
	require.True(t, out.Accepted)
	require.True(t, seen)
	require.Len(t, stub.Calls, 1)
}
