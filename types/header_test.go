package types

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testHeader() *BlockHeader {
	return &BlockHeader{
		Version:    2,
		PrevHash:   chainhash.DoubleHashH([]byte("prev")),
		MerkleRoot: chainhash.DoubleHashH([]byte("merkle")),
		Timestamp:  1734883200,
		Bits:       0x1e0ffff0,
		Nonce:      42,
	}
}

func TestHeaderSerializationRoundTrip(t *testing.T) {
	h := testHeader()

	var buf bytes.Buffer
	require.NoError(t, h.Serialize(&buf))
	require.Equal(t, HeaderSize, buf.Len())

	decoded := new(BlockHeader)
	require.NoError(t, decoded.Deserialize(&buf))
	require.Equal(t, h, decoded)

	fromBytes, err := HeaderFromBytes(h.Bytes())
	require.NoError(t, err)
	require.Equal(t, h, fromBytes)
}

func TestHeaderSerializationRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := &BlockHeader{
			Version:   rapid.Int32().Draw(rt, "version").(int32),
			Timestamp: rapid.Uint32().Draw(rt, "timestamp").(uint32),
			Bits:      rapid.Uint32().Draw(rt, "bits").(uint32),
			Nonce:     rapid.Uint32().Draw(rt, "nonce").(uint32),
		}
		copy(h.PrevHash[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(rt, "prev").([]byte))
		copy(h.MerkleRoot[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(rt, "merkle").([]byte))

		decoded, err := HeaderFromBytes(h.Bytes())
		require.NoError(rt, err)
		require.Equal(rt, h, decoded)
	})
}

func TestHeaderFromBytesRejectsWrongSize(t *testing.T) {
	_, err := HeaderFromBytes(make([]byte, 79))
	require.Error(t, err)
	_, err = HeaderFromBytes(make([]byte, 81))
	require.Error(t, err)
}

func TestHeaderHashMatchesWireEncoding(t *testing.T) {
	h := testHeader()
	wireHeader := &wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  time.Unix(int64(h.Timestamp), 0),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
	require.Equal(t, wireHeader.BlockHash(), h.Hash())
}

func TestHeaderHashIsDerived(t *testing.T) {
	h := testHeader()
	before := h.Hash()
	h.Nonce++
	require.NotEqual(t, before, h.Hash())
	h.Nonce--
	require.Equal(t, before, h.Hash())
}
