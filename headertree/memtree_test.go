// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headertree

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/omegasuite/spvsync/chainparams"
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

func newTestTree(t *testing.T) (*MemTree, *wire.BlockHeader) {
	t.Helper()
	params := testParams()
	tree := NewMemTree(params)
	genesis := mkHeader(chainhash.Hash{}, time.Unix(1231006505, 0), 0)
	require.NoError(t, tree.SetGenesis(genesis))
	return tree, genesis
}

func TestSetGenesisTwiceFails(t *testing.T) {
	tree, genesis := newTestTree(t)
	require.ErrorIs(t, tree.SetGenesis(genesis), ErrAlreadyInitialized)
}

func TestInsertHeaderMissingParentFails(t *testing.T) {
	tree, _ := newTestTree(t)
	orphan := mkHeader(chainhash.Hash{0xff}, time.Now(), 1)
	_, err := tree.InsertHeader(orphan)
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestInsertHeaderExtendsBestChain(t *testing.T) {
	tree, genesis := newTestTree(t)
	genesisHash := tree.params.HeaderHash(genesis)

	h1 := mkHeader(genesisHash, genesis.Timestamp.Add(time.Minute), 1)
	extended, err := tree.InsertHeader(h1)
	require.NoError(t, err)
	require.True(t, extended)
	require.EqualValues(t, 1, tree.BestHeight())

	ch, err := tree.HeaderByHeight(-1)
	require.NoError(t, err)
	require.True(t, ch.InBestChain)
	require.EqualValues(t, 1, ch.Height)
}

func TestInsertHeaderReorg(t *testing.T) {
	tree, genesis := newTestTree(t)
	genesisHash := tree.params.HeaderHash(genesis)

	// Fork A: one block.
	a1 := mkHeader(genesisHash, genesis.Timestamp.Add(time.Minute), 1)
	extended, err := tree.InsertHeader(a1)
	require.NoError(t, err)
	require.True(t, extended)
	require.EqualValues(t, 1, tree.BestHeight())

	// Fork B: two blocks off genesis, more cumulative work once both land.
	b1 := mkHeader(genesisHash, genesis.Timestamp.Add(2*time.Minute), 2)
	extended, err = tree.InsertHeader(b1)
	require.NoError(t, err)
	require.False(t, extended, "equal work at the same height must not reorg (first-seen wins)")

	b1Hash := tree.params.HeaderHash(b1)
	b2 := mkHeader(b1Hash, genesis.Timestamp.Add(3*time.Minute), 3)
	extended, err = tree.InsertHeader(b2)
	require.NoError(t, err)
	require.True(t, extended, "fork B now has strictly more work and must become best")

	ch, err := tree.HeaderByHeight(-1)
	require.NoError(t, err)
	require.EqualValues(t, 2, ch.Height)

	// a1 is no longer on the best chain.
	a1ch, err := tree.HeaderByHash(tree.params.HeaderHash(a1))
	require.NoError(t, err)
	require.False(t, a1ch.InBestChain)
}

func TestLocatorHashesIncludesGenesisAndTip(t *testing.T) {
	tree, genesis := newTestTree(t)
	prev := tree.params.HeaderHash(genesis)
	when := genesis.Timestamp
	for i := 0; i < 20; i++ {
		when = when.Add(time.Minute)
		h := mkHeader(prev, when, uint32(i+1))
		_, err := tree.InsertHeader(h)
		require.NoError(t, err)
		prev = tree.params.HeaderHash(h)
	}

	locator := tree.LocatorHashes(-1)
	require.NotEmpty(t, locator)
	require.Equal(t, prev, locator[0], "locator must start at the tip")
	require.Equal(t, tree.params.HeaderHash(genesis), locator[len(locator)-1], "locator must terminate at genesis")
}

func TestHeaderBeforeReturnsGreatestHeightAtOrBeforeTime(t *testing.T) {
	tree, genesis := newTestTree(t)
	prev := tree.params.HeaderHash(genesis)
	when := genesis.Timestamp
	var mid time.Time
	for i := 0; i < 5; i++ {
		when = when.Add(time.Hour)
		if i == 2 {
			mid = when
		}
		h := mkHeader(prev, when, uint32(i+1))
		_, err := tree.InsertHeader(h)
		require.NoError(t, err)
		prev = tree.params.HeaderHash(h)
	}

	ch, err := tree.HeaderBefore(mid)
	require.NoError(t, err)
	require.EqualValues(t, 3, ch.Height)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	tree, genesis := newTestTree(t)
	prev := tree.params.HeaderHash(genesis)
	when := genesis.Timestamp
	for i := 0; i < 10; i++ {
		when = when.Add(time.Minute)
		h := mkHeader(prev, when, uint32(i+1))
		_, err := tree.InsertHeader(h)
		require.NoError(t, err)
		prev = tree.params.HeaderHash(h)
	}

	path := filepath.Join(t.TempDir(), "headers.dat")
	require.NoError(t, tree.FlushToFile(path))

	loaded := NewMemTree(testParams())
	require.NoError(t, loaded.LoadFromFile(path, true, nil))

	require.Equal(t, tree.BestHeight(), loaded.BestHeight())
	require.Equal(t, tree.TotalWork(), loaded.TotalWork())

	orig, err := tree.HeaderByHeight(-1)
	require.NoError(t, err)
	got, err := loaded.HeaderByHeight(-1)
	require.NoError(t, err)
	require.Equal(t, orig.Hash, got.Hash)
}
