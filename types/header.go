package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HeaderSize is the size of a serialized block header in bytes.
const HeaderSize = 80

// BlockHeader is a block header as exchanged on the peer-to-peer wire.
// The height of a header is not part of the serialized form; it is
// implied by the header's position in the chain and tracked by the
// header store.
type BlockHeader struct {
	Version    int32
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Hash computes the proof-of-work hash of the header, the double
// SHA-256 of its 80-byte serialization. The hash is always derived,
// never cached, so a header can not carry a stale identity.
func (h *BlockHeader) Hash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	// Serialize never fails on a bytes.Buffer.
	_ = h.Serialize(&buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Serialize writes the 80-byte wire encoding of the header to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	_, err := w.Write(buf[:])
	return err
}

// Deserialize reads the 80-byte wire encoding of the header from r.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	h.Version = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(h.PrevHash[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(buf[68:72])
	h.Bits = binary.LittleEndian.Uint32(buf[72:76])
	h.Nonce = binary.LittleEndian.Uint32(buf[76:80])
	return nil
}

// Bytes returns the 80-byte wire encoding of the header.
func (h *BlockHeader) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	_ = h.Serialize(&buf)
	return buf.Bytes()
}

// HeaderFromBytes decodes a header from its 80-byte wire encoding.
func HeaderFromBytes(b []byte) (*BlockHeader, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(b))
	}
	h := new(BlockHeader)
	if err := h.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return h, nil
}

// ChainTip is the highest accepted header of the stored chain.
type ChainTip struct {
	Height   uint32
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Time     uint32
}

// Checkpoint is an axiomatically trusted (height, hash, time) triple
// used as an alternative trust root so sync does not have to start at
// genesis on networks whose peers prune old history. Immutable once
// created.
type Checkpoint struct {
	Height uint32
	Hash   chainhash.Hash
	Time   uint32
}
