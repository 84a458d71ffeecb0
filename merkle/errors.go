// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package merkle implements BIP37 partial Merkle tree traversal: recovering
// the transaction hashes a peer claims matched a Bloom filter from the
// compact branch carried by a merkleblock message.
package merkle

import "errors"

var (
	// ErrTooManyHashes reports a partial Merkle tree whose traversal
	// needed more hashes than the message supplied.
	ErrTooManyHashes = errors.New("merkle: more hashes used than available")

	// ErrTooManyFlagBits reports a partial Merkle tree whose traversal
	// read past the end of the supplied flag bits.
	ErrTooManyFlagBits = errors.New("merkle: more flag bits consumed than available")

	// ErrUnusedHashes reports a partial Merkle tree that left unread
	// leaf hashes after traversal, evidence of a malformed branch.
	ErrUnusedHashes = errors.New("merkle: not all hashes consumed")

	// ErrUnusedFlagBits reports flag bytes beyond those the traversal
	// touched, or nonzero padding bits in the final byte.
	ErrUnusedFlagBits = errors.New("merkle: too many flag bits for tree size")

	// ErrDuplicateLeaves reports an internal node whose right child is
	// identical to its left sibling, the classic CVE-2012-2459 mutation.
	ErrDuplicateLeaves = errors.New("merkle: duplicate leaf hashes at internal node")

	// ErrRootMismatch reports a partial tree whose recomputed root does
	// not match the block header's merkle root.
	ErrRootMismatch = errors.New("merkle: computed root does not match header")

	// ErrNoTransactions reports a merkle block claiming zero
	// transactions, which is never valid (every block has a coinbase).
	ErrNoTransactions = errors.New("merkle: transaction count is zero")

	// ErrTooManyTransactions caps the claimed transaction count to guard
	// against a peer forcing an oversized traversal.
	ErrTooManyTransactions = errors.New("merkle: transaction count exceeds maximum")
)
