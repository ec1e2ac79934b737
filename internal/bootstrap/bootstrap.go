// Package bootstrap seeds a fresh install's chain state before any sync
// activity starts. On networks whose peers prune old history the state
// is rooted at a configured checkpoint instead of genesis; the
// checkpoint must be in place strictly before the first locator is
// built, and Verify enforces that precondition.
package bootstrap

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/types"
)

// LoadOrBootstrap loads the persisted chain state, or constructs and
// persists the initial state for a fresh install. The second return
// reports whether bootstrapping took place. Existing state is never
// overwritten, so bootstrapping happens exactly once per fresh install
// per network.
func LoadOrBootstrap(store *statestore.Store, net *config.Network) (*statestore.PersistedChainState, bool, error) {
	state, err := store.Load()
	if err == nil {
		if state.Network != net.Name {
			return nil, false, fmt.Errorf(
				"persisted state belongs to network %q, not %q", state.Network, net.Name)
		}
		if err := Verify(state, net); err != nil {
			return nil, false, err
		}
		return state, false, nil
	}
	if !errors.Is(err, statestore.ErrNotFound) {
		return nil, false, err
	}

	state = freshState(net)
	if err := store.Save(state); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// Verify enforces the checkpoint-before-sync precondition: on a pruning
// network the stored chain must be rooted at the configured checkpoint.
// A genesis-rooted state on such a network means sync once started
// without the checkpoint in place, which is explicitly disallowed.
func Verify(state *statestore.PersistedChainState, net *config.Network) error {
	if !net.PrunesHistory || net.Checkpoint == nil {
		return nil
	}
	cp := state.ActiveCheckpoint()
	if cp == nil {
		return fmt.Errorf(
			"network %s requires a checkpoint but the stored chain is rooted at genesis; "+
				"reset the chain state before syncing", net.Name)
	}
	if cp.Height < net.Checkpoint.Height && state.ChainTip.Height < net.Checkpoint.Height {
		// An older checkpoint is fine only if the chain already grew
		// past the configured one.
		return fmt.Errorf(
			"stored checkpoint at height %d predates the configured checkpoint at height %d",
			cp.Height, net.Checkpoint.Height)
	}
	return nil
}

// BaseHash returns the trust-root hash the stored chain is built on:
// the active checkpoint's hash, or the network's genesis hash.
func BaseHash(state *statestore.PersistedChainState, net *config.Network) chainhash.Hash {
	if cp := state.ActiveCheckpoint(); cp != nil {
		return cp.Hash
	}
	return net.GenesisHash
}

func freshState(net *config.Network) *statestore.PersistedChainState {
	now := time.Now().UTC()

	if net.PrunesHistory && net.Checkpoint != nil {
		cp := *net.Checkpoint
		return &statestore.PersistedChainState{
			Network: net.Name,
			ChainTip: types.ChainTip{
				Height: cp.Height,
				Hash:   cp.Hash,
				Time:   cp.Time,
			},
			Progress: types.SyncProgress{
				HeaderHeight: cp.Height,
				SyncStart:    now,
				LastUpdate:   now,
			},
			Checkpoints: []types.Checkpoint{cp},
			ChainWork:   new(big.Int),
		}
	}

	return &statestore.PersistedChainState{
		Network: net.Name,
		ChainTip: types.ChainTip{
			Height: 0,
			Hash:   net.GenesisHash,
			Time:   net.GenesisTime,
		},
		Progress: types.SyncProgress{
			SyncStart:  now,
			LastUpdate: now,
		},
		ChainWork: new(big.Int),
	}
}
