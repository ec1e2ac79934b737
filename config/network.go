package config

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dashpay/spvsync/types"
)

// Supported networks.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
)

// Network holds the chain parameters of a single network: its trust
// root, proof-of-work limit, peer-to-peer port and the static fallback
// peer list used when no platform-advertised addresses are available.
type Network struct {
	Name string

	// Port peers listen on for peer-to-peer connections.
	P2PPort uint16

	// Magic is the message-start value identifying this network on the
	// peer-to-peer wire.
	Magic uint32

	// ProtocolVersion is the peer-to-peer protocol version advertised in
	// the version handshake.
	ProtocolVersion uint32

	// Compact representation of the highest permitted difficulty target.
	PowLimitBits uint32

	// Hash of the genesis block.
	GenesisHash chainhash.Hash

	// Time of the genesis block.
	GenesisTime uint32

	// PrunesHistory reports whether peers on this network typically
	// serve only recent blocks. When true a fresh install is seeded
	// from Checkpoint instead of genesis.
	PrunesHistory bool

	// Checkpoint is the trusted triple a fresh install starts from on
	// pruning networks. Nil when the network retains full history.
	Checkpoint *types.Checkpoint

	// FallbackPeers are tried after all platform-advertised addresses.
	FallbackPeers []string
}

// PowLimit returns the proof-of-work limit as a big integer.
func (n *Network) PowLimit() *big.Int {
	return types.CompactToBig(n.PowLimitBits)
}

func mustHashFromStr(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

var (
	// MainnetParams describes the production network. Most mainnet
	// nodes only serve recent blocks, so fresh installs are seeded from
	// a recent checkpoint rather than genesis.
	MainnetParams = Network{
		Name:            NetworkMainnet,
		P2PPort:         9999,
		Magic:           0xBD6B0CBF,
		ProtocolVersion: 70227,
		PowLimitBits:    0x1e0ffff0,
		GenesisHash:     mustHashFromStr("00000ffd590b1485b3caadc19b22e6379c733355108f107a430458cdf3407ab6"),
		GenesisTime:     1390095618,
		PrunesHistory:   true,
		Checkpoint: &types.Checkpoint{
			Height: 2290000,
			Hash:   mustHashFromStr("00000000000000158a0aa3adfd733a2e58bd1d78c88a5ecfe2a51d37fc90d844"),
			Time:   1734883200,
		},
		FallbackPeers: []string{
			"188.40.190.52:9999",
			"162.243.219.25:9999",
			"95.216.255.72:9999",
			"139.59.254.15:9999",
			"188.166.156.58:9999",
			"82.211.21.195:9999",
		},
	}

	// TestnetParams describes the public test network, whose peers
	// retain full history.
	TestnetParams = Network{
		Name:            NetworkTestnet,
		P2PPort:         19999,
		Magic:           0xFFCAE2CE,
		ProtocolVersion: 70227,
		PowLimitBits:    0x1e0ffff0,
		GenesisHash:     mustHashFromStr("00000bafbc94add76cb75e2ec92894837288a481e5c005f6563d91623bf8bc2c"),
		GenesisTime:     1390666206,
		FallbackPeers: []string{
			"139.60.95.71:19999",
			"18.185.254.104:19999",
			"35.197.207.178:19999",
			"35.246.224.79:19999",
		},
	}

	// RegtestParams describes a local regression-test network.
	RegtestParams = Network{
		Name:            NetworkRegtest,
		P2PPort:         19899,
		Magic:           0xDCB7C1FC,
		ProtocolVersion: 70227,
		PowLimitBits:    0x207fffff,
		GenesisHash:     mustHashFromStr("000008ca1832a4baf228eb1553c03d3a2c8e02399550dd6ea8d65cec3ef23d2e"),
		GenesisTime:     1417713337,
	}
)

// NetworkParams returns the chain parameters of the named network.
func NetworkParams(name string) (*Network, error) {
	switch name {
	case NetworkMainnet:
		n := MainnetParams
		return &n, nil
	case NetworkTestnet:
		n := TestnetParams
		return &n, nil
	case NetworkRegtest:
		n := RegtestParams
		return &n, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", name)
	}
}
