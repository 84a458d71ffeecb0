// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command spvsyncd drives a single-peer header-first chain sync and
// Bloom-filtered block download, logging every notification the
// synchronizer emits. It is a thin operational shell around the sync,
// headertree, peerconn and observer packages, intended as a reference host
// for embedding those packages into a wallet.
package main

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/chainparams"
	"github.com/omegasuite/spvsync/headertree"
	"github.com/omegasuite/spvsync/observer"
	"github.com/omegasuite/spvsync/peerconn"
	"github.com/omegasuite/spvsync/sync"
)

// consoleObserver logs every notification at an appropriate level, and
// kicks off filtered-block sync the first time the peer connection opens.
// It embeds observer.NopObserver so adding a new Observer method never
// breaks this daemon's build.
type consoleObserver struct {
	observer.NopObserver
	blockSyncStarted atomic.Bool
	startBlockSync   func()
}

func (c *consoleObserver) OnStarted() { mainLog.Info("synchronizer started") }
func (c *consoleObserver) OnStopped() { mainLog.Info("synchronizer stopped") }

// OnOpen fires once the version handshake completes. sync_blocks only
// requires a live connection (not headers_synched, which tracks a separate
// pipeline), so this is also where block download kicks off.
func (c *consoleObserver) OnOpen() {
	mainLog.Info("peer connection established")
	if c.blockSyncStarted.CompareAndSwap(false, true) {
		c.startBlockSync()
	}
}

func (c *consoleObserver) OnClose()   { mainLog.Info("peer connection closed") }
func (c *consoleObserver) OnTimeout() { mainLog.Warn("peer handshake timed out") }

func (c *consoleObserver) OnConnectionError(msg string) { mainLog.Errorf("connection error: %s", msg) }
func (c *consoleObserver) OnProtocolError(msg string)   { mainLog.Errorf("protocol error: %s", msg) }
func (c *consoleObserver) OnBlockTreeError(msg string)  { mainLog.Errorf("header tree error: %s", msg) }
func (c *consoleObserver) OnBlockTreeChanged()          { mainLog.Debug("header tree changed") }
func (c *consoleObserver) OnStatus(msg string)          { mainLog.Info(msg) }
func (c *consoleObserver) OnFetchingHeaders()           { mainLog.Info("fetching headers") }
func (c *consoleObserver) OnHeadersSynched()            { mainLog.Info("headers synched") }
func (c *consoleObserver) OnFetchingBlocks()            { mainLog.Info("fetching blocks") }
func (c *consoleObserver) OnBlocksSynched()             { mainLog.Info("blocks synched") }
func (c *consoleObserver) OnBlocksSyncStopped()         { mainLog.Info("block sync stopped") }

func (c *consoleObserver) OnMerkleBlock(block headertree.ChainMerkleBlock) {
	mainLog.Infof("merkle block %s at height %d, %d tx(es) in block",
		block.Hash, block.Height, block.Msg.Transactions)
}

func (c *consoleObserver) OnMerkleTx(block headertree.ChainMerkleBlock, tx *wire.MsgTx, index, count uint32) {
	mainLog.Infof("matched tx %s (%d/%d) in block %s", tx.TxHash(), index+1, count, block.Hash)
}

func (c *consoleObserver) OnBlock(block *wire.MsgBlock) {
	mainLog.Infof("full block %s", block.Header.BlockHash())
}

func (c *consoleObserver) OnNewTx(tx *wire.MsgTx) { mainLog.Infof("relayed tx %s", tx.TxHash()) }

var _ observer.Observer = (*consoleObserver)(nil)

func chainParamsFor(cfg *config) *chainparams.Params {
	switch {
	case cfg.TestNet3:
		return chainparams.TestNet3()
	case cfg.SimNet:
		return chainparams.SimNet()
	default:
		return chainparams.MainNet()
	}
}

func spvSyncMain() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := defaultLogFilename
	if cfg.LogDir != "" {
		logFile = cfg.LogDir + string(os.PathSeparator) + defaultLogFilename
	}
	initLogRotator(logFile)
	setLogLevels(cfg.DebugLevel)

	mainLog.Infof("spvsyncd starting, network %s", cfg.netName())

	host, port, err := net.SplitHostPort(cfg.Peer)
	if err != nil {
		return fmt.Errorf("invalid --peer %q: %w", cfg.Peer, err)
	}

	params := chainParamsFor(cfg)
	tree := headertree.NewMemTree(params)

	birthday := time.Unix(0, 0)
	if cfg.Birthday != "" {
		t, err := time.Parse(time.RFC3339, cfg.Birthday)
		if err != nil {
			return fmt.Errorf("invalid --birthday %q: %w", cfg.Birthday, err)
		}
		birthday = t
	}

	mux := observer.NewMultiplexer()
	console := &consoleObserver{}
	mux.Register(console)

	factory := func(cb peerconn.Callbacks, bestHeight peerconn.BestHeightFunc) peerconn.Peer {
		return peerconn.NewTCPPeer(params, cb, bestHeight)
	}

	s := sync.NewSynchronizer(tree, factory, mux)
	console.startBlockSync = func() {
		if err := s.SyncBlocks(tree.LocatorHashes(-1), birthday); err != nil {
			mainLog.Warnf("sync_blocks: %v", err)
		}
	}

	if err := s.SetChainParams(params); err != nil {
		return err
	}

	if err := s.LoadHeaders(cfg.HeadersFile, true, func(loaded headertree.ChainHeader) {
		if loaded.Height%10000 == 0 {
			mainLog.Infof("loaded header %d", loaded.Height)
		}
	}); err != nil {
		mainLog.Warnf("starting from genesis: %v", err)
	}

	if err := s.Start(host, port); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	interrupt := interruptListener()

	<-interrupt

	s.Close()
	if err := tree.FlushToFile(cfg.HeadersFile); err != nil {
		mainLog.Warnf("flush headers on shutdown: %v", err)
	}
	mainLog.Info("spvsyncd shutdown complete")
	return nil
}

func main() {
	if err := spvSyncMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
