// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/omegasuite/spvsync/chainparams"
	"github.com/omegasuite/spvsync/headertree"
	"github.com/omegasuite/spvsync/observer"
	"github.com/omegasuite/spvsync/peerconn"
)

// easyBits is the regtest-style easiest target. It still rejects about half
// of all hashes, so testParams pairs it with a POWHash that always returns
// the zero hash: every header then passes proof-of-work and tests don't
// need to actually mine.
const easyBits = 0x207fffff

func testParams() *chainparams.Params {
	return &chainparams.Params{
		Name:         "regtest",
		PowLimitBits: easyBits,
		POWHash:      func(*wire.BlockHeader) chainhash.Hash { return chainhash.Hash{} },
	}
}

func mkHeader(prev chainhash.Hash, when time.Time, nonce uint32) *wire.BlockHeader {
	var merkle chainhash.Hash
	merkle[0] = byte(nonce)
	h := wire.NewBlockHeader(1, &prev, &merkle, easyBits, nonce)
	h.Timestamp = when
	return h
}

// mockPeer is a peerconn.Peer double that records every outbound call and
// lets a test drive inbound events by invoking the Callbacks it was handed
// at construction time.
type mockPeer struct {
	mu sync.Mutex

	cb         peerconn.Callbacks
	started    bool
	sentFilter *wire.MsgFilterLoad
	locators   [][]chainhash.Hash
	getdata    []*wire.MsgGetData
	stopped    bool
}

func newMockPeer(cb peerconn.Callbacks, _ peerconn.BestHeightFunc) peerconn.Peer {
	return &mockPeer{cb: cb}
}

func (m *mockPeer) Start(_, _ string) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *mockPeer) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockPeer) WaitForDisconnect() {}

func (m *mockPeer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.stopped
}

func (m *mockPeer) Send(msg wire.Message) error {
	if fl, ok := msg.(*wire.MsgFilterLoad); ok {
		m.mu.Lock()
		m.sentFilter = fl
		m.mu.Unlock()
		return nil
	}
	if gd, ok := msg.(*wire.MsgGetData); ok {
		m.mu.Lock()
		m.getdata = append(m.getdata, gd)
		m.mu.Unlock()
	}
	return nil
}

func (m *mockPeer) GetHeaders(locator []chainhash.Hash) error {
	m.mu.Lock()
	m.locators = append(m.locators, locator)
	m.mu.Unlock()
	return nil
}

func (m *mockPeer) lastFilteredBlockRequest() *chainhash.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.getdata) - 1; i >= 0; i-- {
		for _, item := range m.getdata[i].InvList {
			if item.Type == wire.InvTypeFilteredBlock {
				h := item.Hash
				return &h
			}
		}
	}
	return nil
}

func (m *mockPeer) GetFilteredBlock(hash chainhash.Hash) error {
	gd := wire.NewMsgGetData()
	_ = gd.AddInvVect(wire.NewInvVect(wire.InvTypeFilteredBlock, &hash))
	m.mu.Lock()
	m.getdata = append(m.getdata, gd)
	m.mu.Unlock()
	return nil
}

func (m *mockPeer) GetTx(hash chainhash.Hash) error { return m.GetTxs([]chainhash.Hash{hash}) }

func (m *mockPeer) GetTxs(hashes []chainhash.Hash) error {
	gd := wire.NewMsgGetData()
	for i := range hashes {
		_ = gd.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hashes[i]))
	}
	m.mu.Lock()
	m.getdata = append(m.getdata, gd)
	m.mu.Unlock()
	return nil
}

func (m *mockPeer) GetMempool() error { return nil }

func (m *mockPeer) SendTx(tx *wire.MsgTx) error { return nil }

// recordingObserver tracks the notifications a test cares about.
type recordingObserver struct {
	observer.NopObserver
	mu          sync.Mutex
	opened      int
	synched     int
	merkleCalls []headertree.ChainMerkleBlock
	merkleTxs   []*wire.MsgTx
	protoErrors []string
	treeErrors  []string
}

func (r *recordingObserver) OnOpen() {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
}

func (r *recordingObserver) OnBlocksSynched() {
	r.mu.Lock()
	r.synched++
	r.mu.Unlock()
}

func (r *recordingObserver) OnMerkleBlock(block headertree.ChainMerkleBlock) {
	r.mu.Lock()
	r.merkleCalls = append(r.merkleCalls, block)
	r.mu.Unlock()
}

func (r *recordingObserver) OnMerkleTx(_ headertree.ChainMerkleBlock, tx *wire.MsgTx, _, _ uint32) {
	r.mu.Lock()
	r.merkleTxs = append(r.merkleTxs, tx)
	r.mu.Unlock()
}

func (r *recordingObserver) OnProtocolError(msg string) {
	r.mu.Lock()
	r.protoErrors = append(r.protoErrors, msg)
	r.mu.Unlock()
}

func (r *recordingObserver) OnBlockTreeError(msg string) {
	r.mu.Lock()
	r.treeErrors = append(r.treeErrors, msg)
	r.mu.Unlock()
}

func newTestSetup(t *testing.T) (*Synchronizer, *headertree.MemTree, *recordingObserver, *mockPeer) {
	t.Helper()
	params := testParams()
	tree := headertree.NewMemTree(params)
	genesis := mkHeader(chainhash.Hash{}, time.Unix(1231006505, 0), 0)
	require.NoError(t, tree.SetGenesis(genesis))
	params.GenesisBlock = genesis

	rec := &recordingObserver{}
	var mp *mockPeer
	factory := func(cb peerconn.Callbacks, bh peerconn.BestHeightFunc) peerconn.Peer {
		p := newMockPeer(cb, bh).(*mockPeer)
		mp = p
		return p
	}

	s := NewSynchronizer(tree, factory, rec)
	require.NoError(t, s.SetChainParams(params))
	require.NoError(t, s.Start("127.0.0.1", "0"))
	require.NotNil(t, mp)
	return s, tree, rec, mp
}

func TestStartTriggersHandshakeAndHeaderRequest(t *testing.T) {
	s, _, rec, mp := newTestSetup(t)
	mp.cb.OnOpen()

	require.Equal(t, 1, rec.opened)
	require.Len(t, mp.locators, 1)
	_ = s
}

// TestHandleHeadersFlushFailureReportsTreeError covers the empty-batch
// ("you're caught up") path when the configured snapshot path cannot be
// written: persistence failure must surface as a block_tree_error and
// headers_synched must stay false, not be flipped true on the strength of
// a flush that never actually happened.
func TestHandleHeadersFlushFailureReportsTreeError(t *testing.T) {
	s, _, rec, mp := newTestSetup(t)
	s.startMu.Lock()
	s.headersPath = "/nonexistent-dir/headers.snap"
	s.startMu.Unlock()

	mp.cb.OnHeaders(nil)

	require.NotEmpty(t, rec.treeErrors)
	require.Zero(t, rec.synched)
	s.syncMu.Lock()
	headersSynched := s.headersSynched
	s.syncMu.Unlock()
	require.False(t, headersSynched)
}

func TestSyncBlocksRequestsFilteredGenesisWhenNoLocatorMatches(t *testing.T) {
	s, tree, rec, mp := newTestSetup(t)

	// Force connected without a full handshake so SyncBlocks proceeds.
	s.syncMu.Lock()
	s.connected = true
	s.syncMu.Unlock()

	genesis, err := tree.HeaderByHeight(0)
	require.NoError(t, err)

	require.NoError(t, s.SyncBlocks(nil, genesis.Header.Timestamp))
	require.Equal(t, genesis.Hash, *mp.lastFilteredBlockRequest())
	require.Zero(t, rec.synched)
}

// insertChild inserts a header extending parent with an arbitrary chosen
// merkle root, so a test controls exactly what a correlated merkleblock
// must decode to.
func insertChild(t *testing.T, tree *headertree.MemTree, parent chainhash.Hash, when time.Time, nonce uint32, root chainhash.Hash) *wire.BlockHeader {
	t.Helper()
	h := wire.NewBlockHeader(1, &parent, &root, easyBits, nonce)
	h.Timestamp = when
	_, err := tree.InsertHeader(h)
	require.NoError(t, err)
	return h
}

func TestHandleMerkleBlockWithNoMatchesAdvancesImmediately(t *testing.T) {
	s, tree, rec, mp := newTestSetup(t)
	s.syncMu.Lock()
	s.connected = true
	s.fetchingBlocks = true
	s.syncMu.Unlock()

	genesis, err := tree.HeaderByHeight(0)
	require.NoError(t, err)

	// Single-leaf tree, unmatched: BIP37 still emits the leaf hash and it
	// is also the root.
	var leaf chainhash.Hash
	leaf[0] = 0x42
	h1 := insertChild(t, tree, genesis.Hash, genesis.Header.Timestamp.Add(time.Minute), 1, leaf)

	mb := wire.NewMsgMerkleBlock(h1)
	mb.Transactions = 1
	mb.Flags = []byte{0x00}
	mb.Hashes = []*chainhash.Hash{&leaf}

	mp.cb.OnMerkleBlock(mb)

	require.Len(t, rec.merkleCalls, 1)
	require.Equal(t, h1.BlockHash(), rec.merkleCalls[0].Hash)
	// No more headers past h1 in this tree, so sync completes.
	require.Equal(t, 1, rec.synched)
	require.Empty(t, rec.protoErrors)
}

// TestHandleMerkleBlockUnsolicitedOrphanReportsTreeError covers a
// merkleblock whose header's own parent is unknown to the tree: insertion
// itself fails, so there is nothing to extend and no chain state changes.
func TestHandleMerkleBlockUnsolicitedOrphanReportsTreeError(t *testing.T) {
	_, _, rec, mp := newTestSetup(t)

	orphanHeader := mkHeader(chainhash.Hash{0xaa}, time.Now(), 99)
	mb := wire.NewMsgMerkleBlock(orphanHeader)
	mb.Transactions = 1
	mb.Flags = []byte{0x00}
	var h chainhash.Hash
	mb.Hashes = []*chainhash.Hash{&h}

	mp.cb.OnMerkleBlock(mb)

	require.NotEmpty(t, rec.treeErrors)
	require.Empty(t, mp.locators)
}

// TestHandleMerkleBlockUnknownHeaderNotExtendingBestRestartsHeaderSync
// covers a merkleblock for a header that is new to the tree, has a known
// parent, and inserts cleanly, but loses the equal-work tie-break against
// an already-accepted sibling. That must clear headers_synched (and the
// block-sync flags) and re-request headers from the current best chain,
// not silently move on as if the block had been accepted.
func TestHandleMerkleBlockUnknownHeaderNotExtendingBestRestartsHeaderSync(t *testing.T) {
	s, tree, rec, mp := newTestSetup(t)
	s.syncMu.Lock()
	s.headersSynched = true
	s.syncMu.Unlock()

	genesis, err := tree.HeaderByHeight(0)
	require.NoError(t, err)

	var leaf1, leaf2 chainhash.Hash
	leaf1[0] = 0x01
	leaf2[0] = 0x02
	when := genesis.Header.Timestamp.Add(time.Minute)
	// h1 is inserted first and wins the equal-work tie-break, becoming
	// best; h2 is a same-height sibling the tree has never seen.
	insertChild(t, tree, genesis.Hash, when, 1, leaf1)
	h2 := mkHeader(genesis.Hash, when, 2)
	h2.MerkleRoot = leaf2

	mb := wire.NewMsgMerkleBlock(h2)
	mb.Transactions = 1
	mb.Flags = []byte{0x00}
	mb.Hashes = []*chainhash.Hash{&leaf2}

	mp.cb.OnMerkleBlock(mb)

	require.NotEmpty(t, rec.treeErrors)
	require.Len(t, mp.locators, 1)
	s.syncMu.Lock()
	headersSynched := s.headersSynched
	s.syncMu.Unlock()
	require.False(t, headersSynched)
}

// TestHandleMerkleBlockWhileIdleUpdatesTreeWithoutCorrelating covers an
// unsolicited merkleblock delivered with no sync_blocks session active
// (fetching_blocks false) — the routine case of handleInv rewriting a
// BLOCK inv to FILTERED_BLOCK purely because headers are synched. The
// header tree must still absorb the new tip, but merkle_block must not
// fire and blocks_synched must not flip, since no sync_blocks call ever
// opened a correlation window.
func TestHandleMerkleBlockWhileIdleUpdatesTreeWithoutCorrelating(t *testing.T) {
	s, tree, rec, mp := newTestSetup(t)
	s.syncMu.Lock()
	s.headersSynched = true
	s.syncMu.Unlock()

	genesis, err := tree.HeaderByHeight(0)
	require.NoError(t, err)

	var leaf chainhash.Hash
	leaf[0] = 0x7a
	h1 := mkHeader(genesis.Hash, genesis.Header.Timestamp.Add(time.Minute), 1)
	h1.MerkleRoot = leaf

	mb := wire.NewMsgMerkleBlock(h1)
	mb.Transactions = 1
	mb.Flags = []byte{0x00}
	mb.Hashes = []*chainhash.Hash{&leaf}

	mp.cb.OnMerkleBlock(mb)

	require.Empty(t, rec.merkleCalls)
	require.Zero(t, rec.synched)
	require.Empty(t, rec.treeErrors)
	require.Equal(t, int32(1), tree.BestHeight())

	s.syncMu.Lock()
	blocksSynched := s.blocksSynched
	s.syncMu.Unlock()
	require.False(t, blocksSynched)
}

func TestHandleTxOutOfOrderReportsProtocolError(t *testing.T) {
	s, tree, rec, mp := newTestSetup(t)
	s.syncMu.Lock()
	s.connected = true
	s.fetchingBlocks = true
	s.syncMu.Unlock()

	genesis, err := tree.HeaderByHeight(0)
	require.NoError(t, err)

	// A single matched leaf: root and leaf hash coincide.
	tx := wire.NewMsgTx(1)
	txHash := tx.TxHash()
	h1 := insertChild(t, tree, genesis.Hash, genesis.Header.Timestamp.Add(time.Minute), 1, txHash)

	mb := wire.NewMsgMerkleBlock(h1)
	mb.Transactions = 1
	mb.Flags = []byte{0x01}
	mb.Hashes = []*chainhash.Hash{&txHash}

	mp.cb.OnMerkleBlock(mb)
	require.Len(t, rec.merkleCalls, 1)

	// Deliver an unrelated transaction: hash mismatch against the expected
	// leaf triggers the out-of-order path.
	wrongTx := wire.NewMsgTx(2)
	mp.cb.OnTx(wrongTx)

	require.Contains(t, rec.protoErrors, "Transaction received out of order.")
	require.Empty(t, rec.merkleTxs)
	_ = s
}

func TestHandleTxMatchingExpectedHashDeliversMerkleTx(t *testing.T) {
	s, tree, rec, mp := newTestSetup(t)
	s.syncMu.Lock()
	s.connected = true
	s.fetchingBlocks = true
	s.syncMu.Unlock()

	genesis, err := tree.HeaderByHeight(0)
	require.NoError(t, err)

	tx := wire.NewMsgTx(1)
	txHash := tx.TxHash()
	h1 := insertChild(t, tree, genesis.Hash, genesis.Header.Timestamp.Add(time.Minute), 1, txHash)

	mb := wire.NewMsgMerkleBlock(h1)
	mb.Transactions = 1
	mb.Flags = []byte{0x01}
	mb.Hashes = []*chainhash.Hash{&txHash}

	mp.cb.OnMerkleBlock(mb)
	require.Len(t, rec.merkleCalls, 1)

	mp.cb.OnTx(tx)

	require.Len(t, rec.merkleTxs, 1)
	require.Equal(t, txHash, rec.merkleTxs[0].TxHash())
	require.Empty(t, rec.protoErrors)
	// Delivering the sole expected tx closes the window and completes
	// sync, since h1 has no descendant in this tree.
	require.Equal(t, 1, rec.synched)
}
