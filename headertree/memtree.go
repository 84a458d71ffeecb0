// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headertree

import (
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/chainparams"
)

// node is a header plus the tree-internal bookkeeping used to compute the
// best chain.
type node struct {
	header    *wire.BlockHeader
	hash      chainhash.Hash
	height    int32
	chainWork *big.Int
	parent    *node
}

// MemTree is an in-memory Tree with atomic file snapshotting. It is the
// concrete HeaderTree used by the default Synchronizer wiring; anything
// implementing Tree can be substituted (e.g. a database-backed one).
type MemTree struct {
	params *chainparams.Params

	byHash map[chainhash.Hash]*node
	// bestChain[h] is the best-chain header at height h.
	bestChain []*node
}

// NewMemTree creates an empty, uninitialized MemTree for the given network
// parameters. Call SetGenesis or LoadFromFile before using it.
func NewMemTree(params *chainparams.Params) *MemTree {
	return &MemTree{
		params: params,
		byHash: make(map[chainhash.Hash]*node),
	}
}

func (t *MemTree) tip() *node {
	if len(t.bestChain) == 0 {
		return nil
	}
	return t.bestChain[len(t.bestChain)-1]
}

// SetGenesis implements Tree.
func (t *MemTree) SetGenesis(header *wire.BlockHeader) error {
	if len(t.bestChain) != 0 {
		return ErrAlreadyInitialized
	}
	hash := t.params.HeaderHash(header)
	n := &node{
		header:    header,
		hash:      hash,
		height:    0,
		chainWork: chainparams.CalcWork(header.Bits),
	}
	t.byHash[hash] = n
	t.bestChain = []*node{n}
	log.Infof("Set genesis header %s", hash)
	return nil
}

// InsertHeader implements Tree.
func (t *MemTree) InsertHeader(header *wire.BlockHeader) (bool, error) {
	if len(t.bestChain) == 0 {
		return false, ErrUninitialized
	}

	hash := t.params.HeaderHash(header)
	if _, ok := t.byHash[hash]; ok {
		// Already known; not new, but not an error either.
		return false, nil
	}

	parent, ok := t.byHash[header.PrevBlock]
	if !ok {
		return false, fmt.Errorf("%w: parent %s not found", ErrInvalidHeader, header.PrevBlock)
	}

	powHash := t.params.PowHash(header)
	if err := chainparams.CheckProofOfWork(powHash, header.Bits, t.params.PowLimitBits); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	work := new(big.Int).Add(parent.chainWork, chainparams.CalcWork(header.Bits))
	n := &node{
		header:    header,
		hash:      hash,
		height:    parent.height + 1,
		chainWork: work,
		parent:    parent,
	}
	t.byHash[hash] = n

	best := t.tip()
	if best == nil || work.Cmp(best.chainWork) > 0 {
		t.reorgTo(n)
		return true, nil
	}
	return false, nil
}

// reorgTo rebuilds bestChain as the root-to-n path, replacing whatever was
// there before. Ties on chain_work are impossible here because callers only
// call reorgTo on strictly greater work (first-seen tie-break: a later
// header with equal work never displaces the incumbent).
func (t *MemTree) reorgTo(n *node) {
	path := make([]*node, n.height+1)
	for cur := n; cur != nil; cur = cur.parent {
		path[cur.height] = cur
	}
	t.bestChain = path
	log.Debugf("New best chain tip %s height %d work %s", n.hash, n.height, n.chainWork)
}

// HasHeader implements Tree.
func (t *MemTree) HasHeader(hash chainhash.Hash) bool {
	_, ok := t.byHash[hash]
	return ok
}

// HeaderByHash implements Tree.
func (t *MemTree) HeaderByHash(hash chainhash.Hash) (ChainHeader, error) {
	n, ok := t.byHash[hash]
	if !ok {
		return ChainHeader{}, ErrNotFound
	}
	return t.toChainHeader(n), nil
}

// HeaderByHeight implements Tree.
func (t *MemTree) HeaderByHeight(height int32) (ChainHeader, error) {
	if len(t.bestChain) == 0 {
		return ChainHeader{}, ErrUninitialized
	}
	if height < 0 {
		height = int32(len(t.bestChain)) + height
	}
	if height < 0 || int(height) >= len(t.bestChain) {
		return ChainHeader{}, ErrNotFound
	}
	return t.toChainHeader(t.bestChain[height]), nil
}

// HeaderBefore implements Tree.
func (t *MemTree) HeaderBefore(when time.Time) (ChainHeader, error) {
	if len(t.bestChain) == 0 {
		return ChainHeader{}, ErrUninitialized
	}
	for i := len(t.bestChain) - 1; i >= 0; i-- {
		n := t.bestChain[i]
		if !n.header.Timestamp.After(when) {
			return t.toChainHeader(n), nil
		}
	}
	// Every header is after `when`; genesis is the best we can do.
	return t.toChainHeader(t.bestChain[0]), nil
}

// LocatorHashes implements Tree.
func (t *MemTree) LocatorHashes(startingHeight int32) []chainhash.Hash {
	if len(t.bestChain) == 0 {
		return nil
	}

	start := startingHeight
	if start < 0 {
		start = int32(len(t.bestChain)) - 1
	}
	if start >= int32(len(t.bestChain)) {
		start = int32(len(t.bestChain)) - 1
	}
	if start < 0 {
		start = 0
	}

	var locator []chainhash.Hash
	step := int32(1)
	height := start
	for {
		locator = append(locator, t.bestChain[height].hash)
		if height == 0 {
			break
		}
		if len(locator) >= 10 {
			step *= 2
		}
		height -= step
		if height < 0 {
			height = 0
		}
	}
	return locator
}

// BestHeight implements Tree.
func (t *MemTree) BestHeight() int32 {
	tip := t.tip()
	if tip == nil {
		return -1
	}
	return tip.height
}

// TotalWork implements Tree.
func (t *MemTree) TotalWork() *big.Int {
	tip := t.tip()
	if tip == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(tip.chainWork)
}

// Clear implements Tree.
func (t *MemTree) Clear() {
	t.byHash = make(map[chainhash.Hash]*node)
	t.bestChain = nil
}

func (t *MemTree) toChainHeader(n *node) ChainHeader {
	return ChainHeader{
		Header:      n.header,
		Hash:        n.hash,
		Height:      n.height,
		ChainWork:   new(big.Int).Set(n.chainWork),
		InBestChain: int(n.height) < len(t.bestChain) && t.bestChain[n.height] == n,
	}
}
