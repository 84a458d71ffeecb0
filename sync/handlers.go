// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sync

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/headertree"
	"github.com/omegasuite/spvsync/merkle"
)

// handleOpen fires once the version/verack handshake completes. It marks
// the peer connected, sends any pending Bloom filter, and kicks off header
// sync from the tree's current tip.
func (s *Synchronizer) handleOpen() {
	s.syncMu.Lock()
	s.connected = true
	s.fetchingHeaders = true
	filter := s.filter
	locator := s.tree.LocatorHashes(-1)
	s.syncMu.Unlock()

	s.obs.OnOpen()
	s.obs.OnFetchingHeaders()

	p := s.currentPeer()
	if p == nil {
		return
	}
	if filter != nil {
		if err := p.Send(filter); err != nil {
			log.Warnf("sync: send filterload on open: %v", err)
		}
	}
	if err := p.GetHeaders(locator); err != nil {
		log.Warnf("sync: get_headers on open: %v", err)
	}
}

func (s *Synchronizer) handleClose() {
	s.Stop()
	s.syncMu.Lock()
	s.connected = false
	s.fetchingHeaders = false
	s.fetchingBlocks = false
	s.syncMu.Unlock()
	s.obs.OnClose()
}

func (s *Synchronizer) handleTimeout() {
	s.obs.OnTimeout()
}

func (s *Synchronizer) handleConnectionError(msg string) {
	s.obs.OnConnectionError(msg)
}

func (s *Synchronizer) handleProtocolError(msg string) {
	s.obs.OnProtocolError(msg)
}

// handleInv rewrites inv items per the current sync state before passing
// them on: a block advertisement is only useful as a filtered block once
// headers are synched, and transaction advertisements are only meaningful
// once the block chain itself has caught up, otherwise every historical tx
// broadcast during header sync would trigger a spurious getdata.
func (s *Synchronizer) handleInv(items []*wire.InvVect) {
	s.syncMu.Lock()
	headersSynched := s.headersSynched
	blocksSynched := s.blocksSynched
	s.syncMu.Unlock()

	out := make([]*wire.InvVect, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case wire.InvTypeBlock:
			if headersSynched {
				out = append(out, wire.NewInvVect(wire.InvTypeFilteredBlock, &item.Hash))
			}
		case wire.InvTypeTx:
			if blocksSynched {
				out = append(out, item)
			}
		}
	}
	if len(out) == 0 {
		return
	}
	s.obs.OnStatus(fmt.Sprintf("Received inv with %d item(s)", len(out)))
	if p := s.currentPeer(); p != nil {
		gd := wire.NewMsgGetData()
		for _, item := range out {
			_ = gd.AddInvVect(item)
		}
		if err := p.Send(gd); err != nil {
			log.Warnf("sync: send getdata: %v", err)
		}
	}
}

// handleHeaders inserts a batch of announced headers into the tree. An
// empty batch is the peer's way of saying "you're caught up"; anything else
// triggers another get_headers request anchored at the new tip.
func (s *Synchronizer) handleHeaders(headers []*wire.BlockHeader) {
	if len(headers) == 0 {
		s.syncMu.Lock()
		s.fetchingHeaders = false
		path := s.headersPath
		s.syncMu.Unlock()

		if path != "" {
			if err := s.tree.FlushToFile(path); err != nil {
				s.obs.OnBlockTreeError(fmt.Sprintf("flush headers: %v", err))
				return
			}
		}

		s.syncMu.Lock()
		s.headersSynched = true
		s.syncMu.Unlock()
		s.obs.OnHeadersSynched()
		return
	}

	s.syncMu.Lock()
	for _, h := range headers {
		extended, err := s.tree.InsertHeader(h)
		if err != nil {
			s.syncMu.Unlock()
			s.obs.OnBlockTreeError(fmt.Sprintf("insert header: %v", err))
			return
		}
		if extended {
			s.headersSynched = false
		}
	}
	best := s.tree.BestHeight()
	work := s.tree.TotalWork()
	locator := s.tree.LocatorHashes(-1)
	s.syncMu.Unlock()

	s.obs.OnBlockTreeChanged()
	s.obs.OnStatus(fmt.Sprintf("Best Height: %d / Total Work: %s", best, work.String()))

	if p := s.currentPeer(); p != nil {
		if err := p.GetHeaders(locator); err != nil {
			log.Warnf("sync: get_headers: %v", err)
		}
	}
}

// handleBlock handles an unfiltered full block, requested directly by hash
// rather than as part of the Bloom-filtered sync path.
func (s *Synchronizer) handleBlock(block *wire.MsgBlock) {
	s.obs.OnBlock(block)
}

// handleMerkleBlock correlates a filtered block with the header tree. The
// correlation buffer, merkle_block emission and cursor advance only apply
// while a sync_blocks session is active (fetching_blocks): an unsolicited
// merkleblock for a routine new-tip announcement while idle must still
// update the header tree, but must not be mistaken for content requested by
// sync_blocks.
//
// An unknown header is not necessarily an error: a peer that has itself
// moved to a new tip announces the corresponding merkleblock before its
// header arrives via a headers message on some implementations, so the
// header is inserted here too. If insertion does not extend the best
// chain — either because it is a known side-chain header or because the
// freshly inserted one loses the work tie-break — header sync is restarted
// from the current best chain.
func (s *Synchronizer) handleMerkleBlock(mb *wire.MsgMerkleBlock) {
	s.syncMu.Lock()
	fetchingBlocks := s.fetchingBlocks
	if fetchingBlocks && s.txCount != s.txIndex {
		s.syncMu.Unlock()
		s.obs.OnProtocolError("Block was received before getting transactions from last block.")
		return
	}

	hash := mb.Header.BlockHash()
	header, err := s.tree.HeaderByHash(hash)
	if err != nil {
		extended, ierr := s.tree.InsertHeader(&mb.Header)
		if ierr != nil {
			s.syncMu.Unlock()
			s.obs.OnBlockTreeError(fmt.Sprintf("merkleblock for unknown header %s: %v", hash, ierr))
			return
		}
		if !extended {
			s.restartHeaderSyncLocked(fmt.Sprintf("merkleblock %s does not extend best chain", hash))
			return
		}

		header, err = s.tree.HeaderByHash(hash)
		if err != nil {
			s.syncMu.Unlock()
			s.obs.OnBlockTreeError(fmt.Sprintf("merkleblock for freshly inserted header %s: %v", hash, err))
			return
		}

		path := s.headersPath
		s.syncMu.Unlock()

		if path != "" {
			if ferr := s.tree.FlushToFile(path); ferr != nil {
				s.obs.OnBlockTreeError(fmt.Sprintf("flush headers: %v", ferr))
				return
			}
		}

		s.syncMu.Lock()
		s.headersSynched = true
		s.blocksFetched = false
		s.blocksSynched = false
		fetchingBlocks = s.fetchingBlocks
		s.syncMu.Unlock()

		s.obs.OnHeadersSynched()
	} else if !header.InBestChain {
		s.restartHeaderSyncLocked(fmt.Sprintf("merkleblock %s is on a side chain", hash))
		return
	} else {
		s.syncMu.Unlock()
	}

	if !fetchingBlocks {
		return
	}

	matched, err := merkle.ExtractMatchedTxHashes(mb)
	if err != nil {
		s.obs.OnProtocolError(fmt.Sprintf("bad merkleblock: %v", err))
		return
	}

	cmb := headertree.ChainMerkleBlock{ChainHeader: header, Msg: mb}

	s.syncMu.Lock()
	s.currentMerkleBlock = cmb
	s.txHashesExpected = matched
	s.txIndex = 0
	s.txCount = uint32(len(matched))
	s.lastRequestedBlockHeight = header.Height
	s.syncMu.Unlock()

	s.obs.OnMerkleBlock(cmb)

	if len(matched) == 0 {
		s.advanceBlockSync(header.Height)
	}
}

// restartHeaderSyncLocked clears the sync state machine back to
// header-sync-in-progress and re-requests headers from the current best
// chain. The caller must hold syncMu; it is released before returning.
func (s *Synchronizer) restartHeaderSyncLocked(reason string) {
	s.headersSynched = false
	s.fetchingBlocks = false
	s.blocksFetched = false
	s.blocksSynched = false
	locator := s.tree.LocatorHashes(-1)
	s.syncMu.Unlock()

	s.obs.OnBlockTreeError(reason)
	if p := s.currentPeer(); p != nil {
		if err := p.GetHeaders(locator); err != nil {
			log.Warnf("sync: get_headers after reorg: %v", err)
		}
	}
}

// advanceBlockSync requests the next filtered block after height, or marks
// block sync complete when height is already the tip.
func (s *Synchronizer) advanceBlockSync(height int32) {
	s.syncMu.Lock()
	next, err := s.tree.HeaderByHeight(height + 1)
	if err != nil {
		s.blocksFetched = true
		s.blocksSynched = true
		s.syncMu.Unlock()
		s.obs.OnBlocksSynched()
		return
	}
	s.syncMu.Unlock()

	s.obs.OnStatus(fmt.Sprintf("Asking for block %s / height: %d", next.Hash, next.Height))
	if p := s.currentPeer(); p != nil {
		if err := p.GetFilteredBlock(next.Hash); err != nil {
			log.Warnf("sync: get_filtered_block: %v", err)
			return
		}
	}
	s.syncMu.Lock()
	s.lastRequestedBlockHeight = next.Height
	s.syncMu.Unlock()
}

// handleTx correlates an inbound transaction against the currently open
// merkleblock window. It deliberately does not take syncMu: txCount, txIndex
// and the correlation buffer are only ever touched from this single I/O
// goroutine (the same one that calls handleMerkleBlock and handleHeaders).
// fetchingBlocks and blocksSynched are also written by caller-side
// operations under syncMu; handleTx reads them unlocked and tolerates a
// stale value, which only affects how the transaction is routed.
func (s *Synchronizer) handleTx(tx *wire.MsgTx) {
	if s.blocksSynched {
		s.obs.OnNewTx(tx)
		return
	}
	if !s.fetchingBlocks || s.txCount == 0 {
		s.obs.OnProtocolError("Transaction received outside any expected context.")
		return
	}
	if s.txIndex >= s.txCount {
		s.obs.OnProtocolError("Transaction received before block.")
		return
	}

	hash := tx.TxHash()
	if hash != s.txHashesExpected[s.txIndex] {
		// TODO: a peer that reorders matched transactions within a
		// merkleblock's window is currently just reported, not
		// recovered from; there is no re-request path back to the
		// expected hash.
		s.obs.OnProtocolError("Transaction received out of order.")
		return
	}

	cmb := s.currentMerkleBlock
	index := s.txIndex
	count := s.txCount
	s.txIndex++

	s.obs.OnMerkleTx(cmb, tx, index, count)

	if s.txIndex == s.txCount {
		s.advanceBlockSync(cmb.Height)
	}
}
