package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BuildLocator produces the block locator sent with a header request: a
// finite sequence of hashes at strictly decreasing heights, dense for
// the 10 most recent entries, then spaced with an exponentially
// doubling step, terminating at the checkpoint/genesis hash.
//
// Every returned hash is the hash of a header actually stored at the
// referenced height. A height whose lookup fails is skipped, never
// substituted with a stale or default value.
func (c *Chain) BuildLocator() []chainhash.Hash {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var locator []chainhash.Hash
	height := int64(c.state.ChainTip.Height)
	base := int64(c.baseHeight)
	step := int64(1)

	for height > base {
		if hash, ok := c.hashes[uint32(height)]; ok {
			locator = append(locator, hash)
		}
		if len(locator) >= 10 {
			step *= 2
		}
		height -= step
	}

	// The base hash is the final, unconditional entry.
	return append(locator, c.baseHash)
}
