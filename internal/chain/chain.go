package chain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/types"
)

// MaxHeadersPerBatch is the largest number of headers a peer returns in
// a single response. A batch of exactly this size implies more headers
// are likely available and another request should be issued immediately.
const MaxHeadersPerBatch = 2000

// Chain owns the in-memory height-to-hash index over the header store
// and the single mutable handle on the persisted state during a
// session. Only ExtendChain (and the bootstrapper, before a session
// starts) writes; everything else reads snapshots.
type Chain struct {
	mtx      sync.RWMutex
	store    *statestore.Store
	state    *statestore.PersistedChainState
	powLimit *big.Int

	// hashes maps every stored height to its header hash, plus the
	// base (checkpoint or genesis) entry, which is trusted without a
	// stored header.
	hashes     map[uint32]chainhash.Hash
	baseHeight uint32
	baseHash   chainhash.Hash
}

// New builds a chain over previously loaded state, rebuilding the
// height index from the header store. The index invariant — tip height
// equals base height plus the number of stored headers above it — is
// checked and a violation is reported as corruption.
func New(store *statestore.Store, state *statestore.PersistedChainState, powLimit *big.Int, baseHash chainhash.Hash) (*Chain, error) {
	c := &Chain{
		store:      store,
		state:      state,
		powLimit:   powLimit,
		hashes:     make(map[uint32]chainhash.Hash),
		baseHeight: state.BaseHeight(),
		baseHash:   baseHash,
	}
	c.hashes[c.baseHeight] = baseHash

	count := uint32(0)
	err := store.ForEachHeader(func(height uint32, header *types.BlockHeader) error {
		if height <= c.baseHeight {
			// Headers below the base are stale leftovers from before a
			// checkpoint reset; ignore them.
			return nil
		}
		if height > state.ChainTip.Height {
			// Headers above the recorded tip are leftovers from a crash
			// between the header write and the state write. The tip is
			// authoritative; the next extension overwrites them.
			return nil
		}
		c.hashes[height] = header.Hash()
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if want := c.baseHeight + count; state.ChainTip.Height != want {
		return nil, fmt.Errorf(
			"chain state corrupt: tip height %d does not match base %d plus %d stored headers",
			state.ChainTip.Height, c.baseHeight, count,
		)
	}
	return c, nil
}

// TipHeight returns the height of the highest accepted header.
func (c *Chain) TipHeight() uint32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state.ChainTip.Height
}

// Tip returns the current chain tip.
func (c *Chain) Tip() types.ChainTip {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state.ChainTip
}

// BaseHeight returns the checkpoint height, or zero for a
// genesis-rooted chain.
func (c *Chain) BaseHeight() uint32 {
	return c.baseHeight
}

// HashAt returns the hash stored at the given height. The second return
// is false when no header is stored there.
func (c *Chain) HashAt(height uint32) (chainhash.Hash, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	hash, ok := c.hashes[height]
	return hash, ok
}

// StateSnapshot returns a deep copy of the persisted state for
// read-only consumers. It reflects only fully validated, persisted
// prefixes, never an in-progress batch.
func (c *Chain) StateSnapshot() *statestore.PersistedChainState {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state.Copy()
}

// SetPeerCount records the connected peer count in the progress
// snapshot. It does not persist; the count is transient session data
// written out with the next accepted batch.
func (c *Chain) SetPeerCount(n int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.state.Progress.PeerCount = n
	c.state.Progress.LastUpdate = time.Now().UTC()
}

// MarkHeadersSynced flags the headers as caught up after a short batch
// and persists the flag so a restart does not re-enter active sync
// needlessly.
func (c *Chain) MarkHeadersSynced() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.state.Progress.HeadersSynced = true
	c.state.Progress.LastUpdate = time.Now().UTC()
	return c.store.Save(c.state)
}
