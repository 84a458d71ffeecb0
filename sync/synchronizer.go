// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sync implements the Synchronizer: the event-driven coordinator
// that drives a header-first chain sync against a single peer, then
// correlates Bloom-filtered blocks with their matching transactions for an
// external observer.
package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/chainparams"
	"github.com/omegasuite/spvsync/headertree"
	"github.com/omegasuite/spvsync/observer"
	"github.com/omegasuite/spvsync/peerconn"
)

// PeerFactory builds the Peer a Synchronizer drives for one Start/Stop
// lifecycle. cb must be wired to every inbound event and bestHeight passed
// through to the peer's version handshake.
type PeerFactory func(cb peerconn.Callbacks, bestHeight peerconn.BestHeightFunc) peerconn.Peer

// Synchronizer is the network synchronization core: one long-lived object
// composing a Peer connection, a HeaderTree, and an Observer.
//
// Two locks guard disjoint state, per the concurrency model this type
// follows: startMu serializes Start/Stop lifecycle transitions and owns the
// peer reference; syncMu guards the state-machine flags and the Merkle
// correlation buffer. Handlers take syncMu around their state reads and
// updates and release it before calling the observer. on_tx intentionally
// reads fetching_blocks/blocks_synched and mutates the correlation buffer
// without syncMu: the buffer is only ever touched from the single I/O
// goroutine that also calls on_tx, and the two flags, which caller-side
// operations (SyncBlocks, StopSyncBlocks, Stop) also write under syncMu,
// only steer routing, so a stale read is tolerated (see the package's
// design notes).
type Synchronizer struct {
	peerFactory PeerFactory
	tree        headertree.Tree
	obs         observer.Observer

	startMu     sync.Mutex
	started     bool
	params      *chainparams.Params
	peer        peerconn.Peer
	headersPath string

	syncMu                   sync.Mutex
	connected                bool
	fetchingHeaders          bool
	headersSynched           bool
	fetchingBlocks           bool
	blocksFetched            bool
	blocksSynched            bool
	lastRequestedBlockHeight int32
	filter                   *wire.MsgFilterLoad

	currentMerkleBlock headertree.ChainMerkleBlock
	txHashesExpected   []chainhash.Hash
	txIndex            uint32
	txCount            uint32
}

// NewSynchronizer creates a Synchronizer over tree, using peerFactory to
// build a fresh Peer on every Start, and notifying obs of every event. obs
// must not be nil; use observer.NopObserver{} for a silent caller.
func NewSynchronizer(tree headertree.Tree, peerFactory PeerFactory, obs observer.Observer) *Synchronizer {
	return &Synchronizer{
		tree:        tree,
		peerFactory: peerFactory,
		obs:         obs,
	}
}

func (s *Synchronizer) currentPeer() peerconn.Peer {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.peer
}

// SetChainParams implements the caller-facing set_chain_params operation.
func (s *Synchronizer) SetChainParams(p *chainparams.Params) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return ErrBusy
	}
	s.params = p
	return nil
}

// SetBloomFilter stores f and, if already connected, sends it immediately.
func (s *Synchronizer) SetBloomFilter(f *wire.MsgFilterLoad) {
	s.syncMu.Lock()
	s.filter = f
	connected := s.connected
	s.syncMu.Unlock()

	if !connected || f == nil {
		return
	}
	if p := s.currentPeer(); p != nil {
		if err := p.Send(f); err != nil {
			log.Warnf("sync: send filterload: %v", err)
		}
	}
}

// LoadHeaders attempts to load a header tree snapshot from path. On
// failure it clears the tree, reseeds it with the configured genesis
// header, and still reports headers_synched: an empty tree plus genesis is
// a valid starting state (mirrors the original NetworkSync's recovery
// path).
func (s *Synchronizer) LoadHeaders(path string, checkPoW bool, progress headertree.ProgressFunc) error {
	s.startMu.Lock()
	s.headersPath = path
	params := s.params
	s.startMu.Unlock()

	if err := s.tree.LoadFromFile(path, checkPoW, progress); err != nil {
		s.obs.OnBlockTreeError(fmt.Sprintf("load headers: %v", err))
		s.tree.Clear()
		if params == nil {
			return fmt.Errorf("sync: cannot recover header tree: chain params not set")
		}
		if gerr := s.tree.SetGenesis(params.GenesisBlock); gerr != nil {
			return fmt.Errorf("sync: recover header tree: %w", gerr)
		}
	}

	s.syncMu.Lock()
	s.headersSynched = true
	s.syncMu.Unlock()
	s.obs.OnHeadersSynched()
	return nil
}

// BestHeight implements the caller-facing best_height operation.
func (s *Synchronizer) BestHeight() int32 {
	return s.tree.BestHeight()
}

// Start configures and starts the peer connection. Completion of the
// handshake is reported asynchronously via the observer's OnOpen.
func (s *Synchronizer) Start(host, port string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return ErrBusy
	}
	if s.params == nil {
		return fmt.Errorf("sync: chain params not set")
	}

	cb := peerconn.Callbacks{
		OnOpen:            s.handleOpen,
		OnClose:           s.handleClose,
		OnTimeout:         s.handleTimeout,
		OnConnectionError: s.handleConnectionError,
		OnProtocolError:   s.handleProtocolError,
		OnInv:             s.handleInv,
		OnTx:              s.handleTx,
		OnHeaders:         s.handleHeaders,
		OnBlock:           s.handleBlock,
		OnMerkleBlock:     s.handleMerkleBlock,
	}

	p := s.peerFactory(cb, s.tree.BestHeight)
	if err := p.Start(host, port); err != nil {
		return err
	}

	s.peer = p
	s.started = true
	s.obs.OnStarted()
	return nil
}

// Stop is idempotent: it clears started, connected and the fetching flags,
// stops the peer, and emits stopped.
func (s *Synchronizer) Stop() {
	s.startMu.Lock()
	if !s.started {
		s.startMu.Unlock()
		return
	}
	p := s.peer
	s.started = false
	s.startMu.Unlock()

	s.syncMu.Lock()
	s.connected = false
	s.fetchingHeaders = false
	s.fetchingBlocks = false
	s.syncMu.Unlock()

	if p != nil {
		p.Stop()
	}
	s.obs.OnStopped()
}

// Close stops the Synchronizer and waits for its peer's I/O goroutine to
// fully exit, so a caller can safely tear down anything the observer
// touches once Close returns.
func (s *Synchronizer) Close() {
	s.Stop()
	if p := s.currentPeer(); p != nil {
		p.WaitForDisconnect()
	}
}

// SyncBlocks requests filtered-block download starting from the first of
// locatorHashes present in the best chain, falling back to the best-chain
// header at or before startTime when none match or none are given.
func (s *Synchronizer) SyncBlocks(locatorHashes []chainhash.Hash, startTime time.Time) error {
	s.syncMu.Lock()
	if !s.connected {
		s.syncMu.Unlock()
		return ErrNotConnected
	}

	var startHeight int32
	found := false
	for _, h := range locatorHashes {
		ch, err := s.tree.HeaderByHash(h)
		if err != nil {
			log.Debugf("sync: sync_blocks locator hash %s not found: %v", h, err)
			continue
		}
		if ch.InBestChain {
			// The wallet already has this block; resume one past it.
			startHeight = ch.Height + 1
			found = true
			break
		}
		log.Debugf("sync: sync_blocks locator hash %s is stale (not in best chain)", h)
	}

	if !found {
		ch, err := s.tree.HeaderBefore(startTime)
		if err != nil {
			s.syncMu.Unlock()
			return err
		}
		startHeight = ch.Height
	}

	s.fetchingBlocks = true
	s.blocksFetched = false
	s.blocksSynched = false
	best := s.tree.BestHeight()
	s.syncMu.Unlock()

	s.obs.OnFetchingBlocks()

	if best < startHeight {
		s.syncMu.Lock()
		s.blocksSynched = true
		s.syncMu.Unlock()
		s.obs.OnBlocksSynched()
		return nil
	}

	start, err := s.tree.HeaderByHeight(startHeight)
	if err != nil {
		return err
	}
	s.obs.OnStatus(fmt.Sprintf("Asking for block %s / height: %d", start.Hash, start.Height))

	p := s.currentPeer()
	if p == nil {
		return ErrNotConnected
	}
	if err := p.GetFilteredBlock(start.Hash); err != nil {
		return err
	}

	s.syncMu.Lock()
	s.lastRequestedBlockHeight = start.Height
	s.syncMu.Unlock()
	return nil
}

// StopSyncBlocks clears fetching_blocks and notifies the caller the
// cancellation took effect.
func (s *Synchronizer) StopSyncBlocks() {
	s.syncMu.Lock()
	s.fetchingBlocks = false
	s.syncMu.Unlock()
	s.obs.OnBlocksSyncStopped()
}

// SendTx relays tx to the peer.
func (s *Synchronizer) SendTx(tx *wire.MsgTx) error {
	p := s.currentPeer()
	if p == nil {
		return ErrNotConnected
	}
	return p.SendTx(tx)
}

// GetTx requests a single transaction by hash.
func (s *Synchronizer) GetTx(hash chainhash.Hash) error {
	p := s.currentPeer()
	if p == nil {
		return ErrNotConnected
	}
	return p.GetTx(hash)
}

// GetTxs requests a batch of transactions by hash.
func (s *Synchronizer) GetTxs(hashes []chainhash.Hash) error {
	p := s.currentPeer()
	if p == nil {
		return ErrNotConnected
	}
	return p.GetTxs(hashes)
}

// GetMempool requests the peer's mempool contents.
func (s *Synchronizer) GetMempool() error {
	p := s.currentPeer()
	if p == nil {
		return ErrNotConnected
	}
	return p.GetMempool()
}

// GetFilteredBlock requests a single filtered block by hash.
func (s *Synchronizer) GetFilteredBlock(hash chainhash.Hash) error {
	p := s.currentPeer()
	if p == nil {
		return ErrNotConnected
	}
	return p.GetFilteredBlock(hash)
}
