package chain

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dashpay/spvsync/types"
)

// ExtendResult describes the outcome of an attempted chain extension.
type ExtendResult struct {
	TipHeight uint32
	TipHash   chainhash.Hash
	// Accepted is the number of headers appended.
	Accepted int
	// FullBatch reports whether the batch was a maximum-size page,
	// which implies the peer likely has more headers and a follow-up
	// request should be issued immediately.
	FullBatch bool
}

// ExtendChain validates a batch of headers in order and extends the
// stored chain. Each header must link to the previously accepted one
// and satisfy its proof-of-work target. On the first failure the
// remainder of the batch is rejected; the valid prefix is still
// accepted.
//
// The new state is persisted before the call returns, so a reported
// extension is always durable. On partial acceptance both a result and
// a *ValidationError are returned. A batch whose first header does not
// connect to the tip yields a *ProtocolMismatchError and no progress.
func (c *Chain) ExtendChain(headers []*types.BlockHeader) (*ExtendResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if len(headers) == 0 {
		return &ExtendResult{
			TipHeight: c.state.ChainTip.Height,
			TipHash:   c.state.ChainTip.Hash,
		}, nil
	}

	tipHash := c.state.ChainTip.Hash
	tipHeight := c.state.ChainTip.Height

	if headers[0].PrevHash != tipHash {
		return nil, &ProtocolMismatchError{
			TipHash:   tipHash.String(),
			GotPrev:   headers[0].PrevHash.String(),
			TipHeight: tipHeight,
		}
	}

	var (
		accepted  []*types.BlockHeader
		hashes    []chainhash.Hash
		work      = new(big.Int)
		vErr      *ValidationError
		prevHash  = tipHash
	)
	for i, header := range headers {
		height := tipHeight + uint32(i) + 1
		if header.PrevHash != prevHash {
			vErr = &ValidationError{
				Index:  i,
				Height: height,
				Err:    errBrokenLink(prevHash, header.PrevHash),
			}
			break
		}
		if err := types.CheckProofOfWork(header, c.powLimit); err != nil {
			vErr = &ValidationError{Index: i, Height: height, Err: err}
			break
		}
		hash := header.Hash()
		accepted = append(accepted, header)
		hashes = append(hashes, hash)
		work.Add(work, types.CalcWork(header.Bits))
		prevHash = hash
	}

	if len(accepted) > 0 {
		// Durability before externally visible progress: headers and
		// the state record hit disk before the in-memory chain moves.
		if err := c.store.SaveHeaders(tipHeight+1, accepted); err != nil {
			return nil, err
		}

		last := accepted[len(accepted)-1]
		newState := c.state.Copy()
		newState.ChainTip = types.ChainTip{
			Height:   tipHeight + uint32(len(accepted)),
			Hash:     hashes[len(hashes)-1],
			PrevHash: last.PrevHash,
			Time:     last.Timestamp,
		}
		newState.Progress.HeaderHeight = newState.ChainTip.Height
		newState.Progress.LastUpdate = time.Now().UTC()
		if newState.ChainWork == nil {
			newState.ChainWork = new(big.Int)
		}
		newState.ChainWork.Add(newState.ChainWork, work)

		if err := c.store.Save(newState); err != nil {
			return nil, err
		}

		c.state = newState
		for i, hash := range hashes {
			c.hashes[tipHeight+uint32(i)+1] = hash
		}
	}

	res := &ExtendResult{
		TipHeight: c.state.ChainTip.Height,
		TipHash:   c.state.ChainTip.Hash,
		Accepted:  len(accepted),
		FullBatch: vErr == nil && len(headers) == MaxHeadersPerBatch,
	}
	if vErr != nil {
		return res, vErr
	}
	return res, nil
}

func errBrokenLink(want, got chainhash.Hash) error {
	return &brokenLinkError{want: want.String(), got: got.String()}
}

type brokenLinkError struct {
	want, got string
}

func (e *brokenLinkError) Error() string {
	return "previous hash " + e.got + " does not match accepted header " + e.want
}
