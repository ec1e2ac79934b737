package supervisor

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dashpay/spvsync/internal/peers"
	"github.com/dashpay/spvsync/types"
)

// Transport is the peer-transport collaborator. It owns connection
// management and the wire encoding of peer-to-peer messages; the
// supervisor only ever talks to one session at a time.
type Transport interface {
	// Connect establishes connections to the peers of a group and
	// returns the session for it.
	Connect(ctx context.Context, group peers.Group) (PeerSession, error)
}

// PeerSession is an open exchange with a single peer group.
type PeerSession interface {
	// SendGetHeaders issues a header request described by the locator.
	// A zero stop hash requests as many headers as the peer will serve.
	SendGetHeaders(ctx context.Context, locator []chainhash.Hash, stopHash chainhash.Hash) error

	// Headers delivers response batches strictly in arrival order. The
	// channel is closed when the session ends.
	Headers() <-chan []*types.BlockHeader

	// PeerCount reports the number of currently connected peers.
	PeerCount() int

	// Close tears the session down, abandoning any in-flight request
	// without blocking on its response. It returns only once teardown
	// is confirmed, so the caller can safely open the next session
	// without duplicate in-flight state.
	Close() error
}
