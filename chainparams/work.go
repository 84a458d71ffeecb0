// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainparams

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var bigOne = big.NewInt(1)

// CompactToBig converts the 32-bit compact representation of a whole number
// N to a big.Int. The representation is similar to IEEE754 floating point
// numbers: the high 8 bits hold the exponent (in bytes), bit 23 is the sign
// and the low 23 bits hold the mantissa. This is the format used to encode
// difficulty targets ("bits") on the wire.
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

// HashToBig converts a chainhash-style, little-endian hash into a big.Int
// suitable for target comparisons.
func HashToBig(hash chainhash.Hash) *big.Int {
	buf := make([]byte, len(hash))
	for i := 0; i < len(hash); i++ {
		buf[len(hash)-1-i] = hash[i]
	}
	return new(big.Int).SetBytes(buf)
}

// CalcWork calculates the expected number of hashes needed to produce a
// block whose difficulty target is bits, i.e. the proof-of-work "work"
// contributed by a single header. This is the value chain_work
// accumulates across the header tree.
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}

var oneLsh256 = new(big.Int).Lsh(bigOne, 256)

// CheckProofOfWork verifies that powHash, interpreted as a 256-bit number,
// does not exceed the difficulty target encoded by bits, and that bits
// itself does not claim a target easier than powLimitBits allows.
func CheckProofOfWork(powHash chainhash.Hash, bits uint32, powLimitBits uint32) error {
	target := CompactToBig(bits)

	powLimit := CompactToBig(powLimitBits)
	if target.Sign() <= 0 {
		return errInvalidTarget("target difficulty is zero or negative")
	}
	if target.Cmp(powLimit) > 0 {
		return errInvalidTarget("target difficulty is higher than max of network")
	}

	hashNum := HashToBig(powHash)
	if hashNum.Cmp(target) > 0 {
		return errInvalidTarget("block hash does not meet claimed target difficulty")
	}
	return nil
}

type errInvalidTarget string

func (e errInvalidTarget) Error() string { return string(e) }
