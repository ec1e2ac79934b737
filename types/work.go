package types

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// oneLsh256 is 1 shifted left 256 bits, used in the work calculation.
	oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)
)

// CompactToBig converts a difficulty target from its compact "bits"
// representation to a big integer. The compact form packs a 256-bit
// target into 32 bits: the high byte is a base-256 exponent and the
// low 23 bits are the mantissa, with bit 24 as a sign bit.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}
	return bn
}

// BigToCompact converts a target back to its compact representation.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// Normalize when the sign bit of the mantissa is set.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// HashToBig interprets a block hash as a big-endian big integer so it
// can be compared against a difficulty target.
func HashToBig(hash *chainhash.Hash) *big.Int {
	// Hashes are little-endian on the wire.
	var buf [32]byte
	for i, b := range hash {
		buf[31-i] = b
	}
	return new(big.Int).SetBytes(buf[:])
}

// CalcWork returns the amount of chain work a header with the given
// compact difficulty target contributes: 2^256 / (target + 1).
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denom)
}

// CheckProofOfWork verifies that the header's hash satisfies its
// declared difficulty target and that the target itself is within the
// network's proof-of-work limit.
func CheckProofOfWork(header *BlockHeader, powLimit *big.Int) error {
	target := CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		return fmt.Errorf("difficulty target %064x is not positive", target)
	}
	if target.Cmp(powLimit) > 0 {
		return fmt.Errorf("difficulty target %064x exceeds the proof-of-work limit", target)
	}

	hash := header.Hash()
	if HashToBig(&hash).Cmp(target) > 0 {
		return fmt.Errorf("hash %s does not meet target %064x", hash, target)
	}
	return nil
}
