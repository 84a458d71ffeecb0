// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package observer defines the outward notification surface a Synchronizer
// drives, and a panic-safe fan-out to any number of registered listeners.
package observer

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/headertree"
)

// Observer receives every notification a Synchronizer emits. Implementers
// should embed NopObserver so new methods added later don't break existing
// implementations.
type Observer interface {
	OnStarted()
	OnStopped()
	OnOpen()
	OnClose()
	OnTimeout()
	OnConnectionError(msg string)
	OnProtocolError(msg string)
	OnBlockTreeError(msg string)
	OnBlockTreeChanged()
	OnStatus(msg string)
	OnFetchingHeaders()
	OnHeadersSynched()
	OnFetchingBlocks()
	OnBlocksSynched()
	// OnBlocksSyncStopped fires after StopSyncBlocks clears the
	// fetching_blocks flag, distinguishing an operator-requested pause
	// from an in-progress fetch.
	OnBlocksSyncStopped()
	OnMerkleBlock(block headertree.ChainMerkleBlock)
	OnMerkleTx(block headertree.ChainMerkleBlock, tx *wire.MsgTx, index, count uint32)
	OnBlock(block *wire.MsgBlock)
	OnNewTx(tx *wire.MsgTx)
}

// NopObserver implements Observer with no-op methods. Embed it to satisfy
// the interface while overriding only the notifications a caller cares
// about.
type NopObserver struct{}

func (NopObserver) OnStarted()                                                  {}
func (NopObserver) OnStopped()                                                  {}
func (NopObserver) OnOpen()                                                     {}
func (NopObserver) OnClose()                                                    {}
func (NopObserver) OnTimeout()                                                  {}
func (NopObserver) OnConnectionError(string)                                    {}
func (NopObserver) OnProtocolError(string)                                      {}
func (NopObserver) OnBlockTreeError(string)                                     {}
func (NopObserver) OnBlockTreeChanged()                                         {}
func (NopObserver) OnStatus(string)                                             {}
func (NopObserver) OnFetchingHeaders()                                          {}
func (NopObserver) OnHeadersSynched()                                           {}
func (NopObserver) OnFetchingBlocks()                                           {}
func (NopObserver) OnBlocksSynched()                                            {}
func (NopObserver) OnBlocksSyncStopped()                                        {}
func (NopObserver) OnMerkleBlock(headertree.ChainMerkleBlock)                      {}
func (NopObserver) OnMerkleTx(headertree.ChainMerkleBlock, *wire.MsgTx, uint32, uint32) {}
func (NopObserver) OnBlock(*wire.MsgBlock)                                      {}
func (NopObserver) OnNewTx(*wire.MsgTx)                                         {}

var _ Observer = NopObserver{}
