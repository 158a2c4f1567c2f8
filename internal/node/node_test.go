package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/essential-labs/essential-node/internal/config"
	"github.com/essential-labs/essential-node/internal/store"
)

func TestStartWithEverythingDisabledAndShutdown(t *testing.T) {
	cfg := &config.Config{
		DBPath:       config.InMemoryDBPath,
		ConnPoolSize: 2,
		Retry:        config.RetryConfig{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
	}

	n, err := Start(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, n.Store())
	require.NotEmpty(t, n.InstanceID())

	sub := n.Subscribe()
	defer sub.Close()
	require.Nil(t, n.SubscribeOutcomes())

	require.NoError(t, n.Shutdown())
}

func TestStartWithValidationEnabledProcessesGenesis(t *testing.T) {
	cfg := &config.Config{
		DBPath:       config.InMemoryDBPath,
		ConnPoolSize: 2,
		Validation:   config.ValidationConfig{Enabled: true},
		Retry:        config.RetryConfig{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	}

	n, err := Start(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer n.Shutdown()

	outcomes := n.SubscribeOutcomes()
	require.NotNil(t, outcomes)
	defer outcomes.Close()

	_, err = n.Store().InsertBlock(context.Background(), &store.Block{
		BlockAddress:  []byte("genesis"),
		ParentBlockID: store.GenesisParentID,
		Number:        0,
	})
	require.NoError(t, err)

	select {
	case o := <-outcomes.C():
		require.Equal(t, uint64(0), o.BlockNumber)
		require.True(t, o.Passed)
	case <-time.After(time.Second):
		t.Fatal("validation stream did not produce an outcome for genesis")
	}
}
