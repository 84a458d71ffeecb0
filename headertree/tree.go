// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package headertree persists a proof-of-work-validated header chain and
// answers the queries a Synchronizer needs to drive header-first sync and
// locator negotiation: best chain lookups, locator generation, and
// before-a-timestamp lookups used to resume from a wallet birthday.
//
// A Tree forms a rooted forest whose root is the network's genesis header.
// The best chain is the root-to-tip path of greatest cumulative
// proof-of-work; ties are broken by first-seen. A Tree is not safe for
// concurrent use — callers serialize access themselves (the Synchronizer
// does so with its sync mutex).
package headertree

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainHeader is a BlockHeader plus the state derived from its position in
// the tree.
type ChainHeader struct {
	Header      *wire.BlockHeader
	Hash        chainhash.Hash
	Height      int32
	ChainWork   *big.Int
	InBestChain bool
}

// ProgressFunc is invoked periodically while loading a snapshot from disk,
// so a caller can drive a progress bar. It may be nil.
type ProgressFunc func(loaded ChainHeader)

// ChainMerkleBlock is a MerkleBlock augmented with the same derived state
// as ChainHeader, since a filtered block is only ever handled once its
// header has a known position in the tree.
type ChainMerkleBlock struct {
	ChainHeader
	Msg *wire.MsgMerkleBlock
}

// Tree is the header storage and query surface the Synchronizer depends on.
type Tree interface {
	// SetGenesis initializes an empty tree with header as height 0.
	// Returns ErrAlreadyInitialized if the tree already has a genesis.
	SetGenesis(header *wire.BlockHeader) error

	// InsertHeader validates and inserts header. It returns true iff the
	// insertion extended or replaced the best chain. Returns
	// ErrInvalidHeader (wrapped with the specific reason) for bad PoW, a
	// missing parent, or a malformed header.
	InsertHeader(header *wire.BlockHeader) (extendedBest bool, err error)

	// HasHeader reports whether hash is present anywhere in the tree.
	HasHeader(hash chainhash.Hash) bool

	// HeaderByHash returns the header identified by hash, or ErrNotFound.
	HeaderByHash(hash chainhash.Hash) (ChainHeader, error)

	// HeaderByHeight returns the best-chain header at height. A negative
	// height is an offset from the tip; -1 is the tip. Returns
	// ErrNotFound if height is out of range.
	HeaderByHeight(height int32) (ChainHeader, error)

	// HeaderBefore returns the best-chain header with the greatest
	// height whose timestamp is <= t. Used to resume sync from a wallet
	// birthday.
	HeaderBefore(t time.Time) (ChainHeader, error)

	// LocatorHashes returns a standard P2P block locator: a
	// geometrically sparse list of best-chain hashes going back from
	// startingHeight to genesis. A negative startingHeight (e.g. -1)
	// starts at the tip; a non-negative one starts at that best-chain
	// height, clamped to the tip, so 1 yields the hashes at heights 1
	// and 0.
	LocatorHashes(startingHeight int32) []chainhash.Hash

	// BestHeight returns the height of the best chain's tip, or -1 if
	// the tree is uninitialized.
	BestHeight() int32

	// TotalWork returns the cumulative proof-of-work of the best chain.
	TotalWork() *big.Int

	// LoadFromFile replaces the tree's contents with a snapshot read
	// from path. If checkPoW is false, proof-of-work is not
	// re-validated for headers loaded from a trusted snapshot.
	LoadFromFile(path string, checkPoW bool, progress ProgressFunc) error

	// FlushToFile atomically writes a snapshot of the tree to path.
	FlushToFile(path string) error

	// Clear empties the tree back to an uninitialized state.
	Clear()
}
