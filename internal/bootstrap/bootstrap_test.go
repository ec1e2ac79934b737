package bootstrap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/types"
)

func testStore(t *testing.T) *statestore.Store {
	t.Helper()
	return statestore.NewStore(filepath.Join(t.TempDir(), "sync_state.json"), dbm.NewMemDB())
}

func TestBootstrapPruningNetworkSeedsCheckpoint(t *testing.T) {
	store := testStore(t)
	net := &config.MainnetParams

	state, bootstrapped, err := LoadOrBootstrap(store, net)
	require.NoError(t, err)
	require.True(t, bootstrapped)

	require.Equal(t, net.Checkpoint.Height, state.ChainTip.Height)
	require.Equal(t, net.Checkpoint.Hash, state.ChainTip.Hash)
	require.Equal(t, net.Checkpoint.Height, state.Progress.HeaderHeight)
	require.Len(t, state.Checkpoints, 1)
	require.Equal(t, net.Checkpoint.Hash, BaseHash(state, net))

	// The seeded state is already on disk: a sync session starting now
	// sees the checkpoint, never genesis.
	persisted, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, net.Checkpoint.Height, persisted.ChainTip.Height)
}

func TestBootstrapFullHistoryNetworkStartsAtGenesis(t *testing.T) {
	store := testStore(t)
	net := &config.TestnetParams

	state, bootstrapped, err := LoadOrBootstrap(store, net)
	require.NoError(t, err)
	require.True(t, bootstrapped)

	require.Equal(t, uint32(0), state.ChainTip.Height)
	require.Equal(t, net.GenesisHash, state.ChainTip.Hash)
	require.Empty(t, state.Checkpoints)
	require.Equal(t, net.GenesisHash, BaseHash(state, net))
}

func TestBootstrapHappensExactlyOnce(t *testing.T) {
	store := testStore(t)
	net := &config.MainnetParams

	first, bootstrapped, err := LoadOrBootstrap(store, net)
	require.NoError(t, err)
	require.True(t, bootstrapped)

	// Simulate sync progress, then a process restart.
	first.ChainTip.Height += 500
	first.Progress.HeaderHeight += 500
	require.NoError(t, store.Save(first))

	second, bootstrapped, err := LoadOrBootstrap(store, net)
	require.NoError(t, err)
	require.False(t, bootstrapped)
	require.Equal(t, net.Checkpoint.Height+500, second.ChainTip.Height)
}

func TestBootstrapRejectsWrongNetworkState(t *testing.T) {
	store := testStore(t)

	_, _, err := LoadOrBootstrap(store, &config.TestnetParams)
	require.NoError(t, err)

	_, _, err = LoadOrBootstrap(store, &config.MainnetParams)
	require.Error(t, err)
	require.Contains(t, err.Error(), "network")
}

func TestVerifyRejectsGenesisStateOnPruningNetwork(t *testing.T) {
	// The known failure mode: sync was started from genesis before the
	// checkpoint was injected. Verify must fail fast instead of letting
	// the first locator reference height 0.
	net := &config.MainnetParams
	state := &statestore.PersistedChainState{
		Network:  net.Name,
		ChainTip: types.ChainTip{Height: 0, Hash: net.GenesisHash},
	}

	err := Verify(state, net)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checkpoint")
}

func TestVerifyAcceptsGenesisStateOnFullHistoryNetwork(t *testing.T) {
	net := &config.TestnetParams
	state := &statestore.PersistedChainState{
		Network:  net.Name,
		ChainTip: types.ChainTip{Height: 0, Hash: net.GenesisHash},
	}
	require.NoError(t, Verify(state, net))
}
