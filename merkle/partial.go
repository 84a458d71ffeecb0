// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package merkle

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxTransactions bounds the transaction count a single merkleblock message
// may claim, guarding against a hostile peer forcing an oversized traversal
// from a message that is otherwise only a few kilobytes on the wire.
const maxTransactions = 1 << 24

// ExtractMatchedTxHashes recovers, in ascending transaction-index order, the
// leaf hashes a partial Merkle tree claims matched the filter that produced
// it. It recomputes the tree's root while doing so and fails with
// ErrRootMismatch if it does not equal header.MerkleRoot, so a caller never
// has to trust an unverified branch.
func ExtractMatchedTxHashes(mb *wire.MsgMerkleBlock) ([]chainhash.Hash, error) {
	numTx := mb.Transactions
	if numTx == 0 {
		return nil, ErrNoTransactions
	}
	if numTx > maxTransactions {
		return nil, ErrTooManyTransactions
	}

	e := &extractor{
		numTx:  numTx,
		hashes: mb.Hashes,
		flags:  mb.Flags,
	}

	height := uint32(0)
	for e.calcTreeWidth(height) > 1 {
		height++
	}

	root, err := e.traverse(height, 0)
	if err != nil {
		return nil, err
	}
	if e.hashUsed != uint32(len(e.hashes)) {
		return nil, ErrUnusedHashes
	}
	// The wire format pads the flag bitfield out to a whole number of
	// bytes; only the final partial byte may be unused, and it must be
	// all zero padding.
	if (e.bitsUsed+7)/8 != uint32(len(e.flags)) {
		return nil, ErrUnusedFlagBits
	}
	if e.bitsUsed < uint32(len(e.flags))*8 {
		unused := e.flags[e.bitsUsed/8]
		unused >>= e.bitsUsed % 8
		if unused != 0 {
			return nil, ErrUnusedFlagBits
		}
	}
	if !root.IsEqual(&mb.Header.MerkleRoot) {
		return nil, ErrRootMismatch
	}

	return e.matched, nil
}

type extractor struct {
	numTx  uint32
	hashes []*chainhash.Hash
	flags  []byte

	bitsUsed uint32
	hashUsed uint32
	matched  []chainhash.Hash
}

// calcTreeWidth returns the number of nodes at the given height, where
// height 0 is the leaf (transaction) level.
func (e *extractor) calcTreeWidth(height uint32) uint32 {
	return (e.numTx + (1 << height) - 1) >> height
}

func (e *extractor) readFlagBit() (bool, error) {
	if e.bitsUsed >= uint32(len(e.flags))*8 {
		return false, ErrTooManyFlagBits
	}
	bit := (e.flags[e.bitsUsed/8] >> (e.bitsUsed % 8)) & 1
	e.bitsUsed++
	return bit != 0, nil
}

func (e *extractor) readHash() (chainhash.Hash, error) {
	if e.hashUsed >= uint32(len(e.hashes)) {
		return chainhash.Hash{}, ErrTooManyHashes
	}
	h := *e.hashes[e.hashUsed]
	e.hashUsed++
	return h, nil
}

// traverse walks the partial tree depth-first, mirroring the encoder's
// pre-order flag/hash interleaving: one flag bit per visited node, then
// either a stored hash (leaf, or an unexplored internal subtree) or two
// recursive calls whose results are combined with sha256d.
func (e *extractor) traverse(height, pos uint32) (chainhash.Hash, error) {
	isParentOfMatch, err := e.readFlagBit()
	if err != nil {
		return chainhash.Hash{}, err
	}

	if height == 0 || !isParentOfMatch {
		hash, err := e.readHash()
		if err != nil {
			return chainhash.Hash{}, err
		}
		if height == 0 && isParentOfMatch {
			e.matched = append(e.matched, hash)
		}
		return hash, nil
	}

	left, err := e.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}

	var right chainhash.Hash
	if pos*2+1 < e.calcTreeWidth(height-1) {
		right, err = e.traverse(height-1, pos*2+1)
		if err != nil {
			return chainhash.Hash{}, err
		}
		if right.IsEqual(&left) {
			return chainhash.Hash{}, ErrDuplicateLeaves
		}
	} else {
		right = left
	}

	return hashPair(left, right), nil
}

func hashPair(left, right chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}
