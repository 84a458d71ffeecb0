// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peerconn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/peer"
	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/chainparams"
)

// handshakeTimeout bounds how long the version/verack exchange may take
// after Start returns before OnTimeout is reported and the connection is
// torn down.
const handshakeTimeout = 30 * time.Second

// dialTimeout bounds the initial TCP connect.
const dialTimeout = 10 * time.Second

// BestHeightFunc reports the caller's current best chain height, used to
// fill in the version message's start height. Returning a negative height
// is treated as "unknown" (reported as 0).
type BestHeightFunc func() int32

// TCPPeer is the default Peer, built on btcsuite/btcd/peer for wire framing
// and handshake bookkeeping, with a raw net.Conn underneath it.
type TCPPeer struct {
	params     *chainparams.Params
	cb         Callbacks
	bestHeight BestHeightFunc

	mu        sync.Mutex
	inner     *peer.Peer
	conn      net.Conn
	connected atomic.Bool
	handshake chan struct{}
}

// NewTCPPeer creates a Peer for params, dispatching cb from its single I/O
// goroutine. bestHeight may be nil, in which case the version handshake
// always reports height 0.
func NewTCPPeer(params *chainparams.Params, cb Callbacks, bestHeight BestHeightFunc) *TCPPeer {
	return &TCPPeer{
		params:     params,
		cb:         cb,
		bestHeight: bestHeight,
	}
}

func (p *TCPPeer) chainCfg() *chaincfg.Params {
	if p.params.ChainCfg != nil {
		return p.params.ChainCfg
	}
	genesis := p.params.GenesisHash
	return &chaincfg.Params{
		Net:         p.params.Net,
		DefaultPort: p.params.DefaultPort,
		GenesisHash: &genesis,
	}
}

// Start implements Peer.
func (p *TCPPeer) Start(host, port string) error {
	p.mu.Lock()
	if p.inner != nil {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.handshake = make(chan struct{})
	p.mu.Unlock()

	addr := net.JoinHostPort(host, port)

	cfg := &peer.Config{
		UserAgentName:    "spvsync",
		UserAgentVersion: "0.1.0",
		ChainParams:      p.chainCfg(),
		ProtocolVersion:  p.params.ProtocolVersion,
		DisableRelayTx:   true,
		TrickleInterval:  time.Second * 10,
		Listeners: peer.MessageListeners{
			OnVerAck:      p.onVerAck,
			OnHeaders:     p.onHeaders,
			OnInv:         p.onInv,
			OnTx:          p.onTx,
			OnBlock:       p.onBlock,
			OnMerkleBlock: p.onMerkleBlock,
			OnReject:      p.onReject,
		},
		NewestBlock: func() (*chainhash.Hash, int32, error) {
			height := int32(0)
			if p.bestHeight != nil {
				if h := p.bestHeight(); h >= 0 {
					height = h
				}
			}
			hash := p.params.GenesisHash
			return &hash, height, nil
		},
	}

	outPeer, err := peer.NewOutboundPeer(cfg, addr)
	if err != nil {
		p.cb.safe("OnConnectionError", func() { p.cb.OnConnectionError(err.Error()) })
		return err
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		p.cb.safe("OnConnectionError", func() { p.cb.OnConnectionError(err.Error()) })
		return err
	}

	p.mu.Lock()
	p.inner = outPeer
	p.conn = conn
	p.mu.Unlock()

	outPeer.AssociateConnection(conn)

	go p.watchHandshake()
	go p.watchDisconnect()

	return nil
}

func (p *TCPPeer) watchHandshake() {
	select {
	case <-p.handshake:
	case <-time.After(handshakeTimeout):
		if !p.connected.Load() {
			log.Warnf("peerconn: handshake timed out")
			p.cb.safe("OnTimeout", p.cb.OnTimeout)
			p.Stop()
		}
	}
}

func (p *TCPPeer) watchDisconnect() {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return
	}
	inner.WaitForDisconnect()
	p.connected.Store(false)
	p.cb.safe("OnClose", p.cb.OnClose)
}

func (p *TCPPeer) onVerAck(_ *peer.Peer, _ *wire.MsgVerAck) {
	p.connected.Store(true)
	select {
	case <-p.handshake:
	default:
		close(p.handshake)
	}
	p.cb.safe("OnOpen", p.cb.OnOpen)
}

func (p *TCPPeer) onHeaders(_ *peer.Peer, m *wire.MsgHeaders) {
	headers := make([]*wire.BlockHeader, len(m.Headers))
	copy(headers, m.Headers)
	p.cb.safe("OnHeaders", func() { p.cb.OnHeaders(headers) })
}

func (p *TCPPeer) onInv(_ *peer.Peer, m *wire.MsgInv) {
	items := make([]*wire.InvVect, len(m.InvList))
	copy(items, m.InvList)
	p.cb.safe("OnInv", func() { p.cb.OnInv(items) })
}

func (p *TCPPeer) onTx(_ *peer.Peer, m *wire.MsgTx) {
	p.cb.safe("OnTx", func() { p.cb.OnTx(m) })
}

func (p *TCPPeer) onBlock(_ *peer.Peer, m *wire.MsgBlock, _ []byte) {
	p.cb.safe("OnBlock", func() { p.cb.OnBlock(m) })
}

func (p *TCPPeer) onMerkleBlock(_ *peer.Peer, m *wire.MsgMerkleBlock) {
	p.cb.safe("OnMerkleBlock", func() { p.cb.OnMerkleBlock(m) })
}

func (p *TCPPeer) onReject(_ *peer.Peer, m *wire.MsgReject) {
	msg := "peer rejected " + m.Cmd + ": " + m.Reason
	p.cb.safe("OnProtocolError", func() { p.cb.OnProtocolError(msg) })
}

// Connected implements Peer.
func (p *TCPPeer) Connected() bool {
	return p.connected.Load()
}

// WaitForDisconnect implements Peer.
func (p *TCPPeer) WaitForDisconnect() {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return
	}
	inner.WaitForDisconnect()
}

// Stop implements Peer.
func (p *TCPPeer) Stop() {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return
	}
	inner.Disconnect()
}

func (p *TCPPeer) queue(msg wire.Message) error {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return ErrNotStarted
	}
	inner.QueueMessage(msg, nil)
	return nil
}

// Send implements Peer.
func (p *TCPPeer) Send(msg wire.Message) error {
	return p.queue(msg)
}

// GetHeaders implements Peer.
func (p *TCPPeer) GetHeaders(locator []chainhash.Hash) error {
	p.mu.Lock()
	inner := p.inner
	p.mu.Unlock()
	if inner == nil {
		return ErrNotStarted
	}
	bl := make(blockchain.BlockLocator, len(locator))
	for i := range locator {
		h := locator[i]
		bl[i] = &h
	}
	return inner.PushGetHeadersMsg(bl, &chainhash.Hash{})
}

// GetFilteredBlock implements Peer.
func (p *TCPPeer) GetFilteredBlock(hash chainhash.Hash) error {
	gd := wire.NewMsgGetData()
	if err := gd.AddInvVect(wire.NewInvVect(wire.InvTypeFilteredBlock, &hash)); err != nil {
		return err
	}
	return p.queue(gd)
}

// GetTx implements Peer.
func (p *TCPPeer) GetTx(hash chainhash.Hash) error {
	return p.GetTxs([]chainhash.Hash{hash})
}

// GetTxs implements Peer.
func (p *TCPPeer) GetTxs(hashes []chainhash.Hash) error {
	gd := wire.NewMsgGetData()
	for i := range hashes {
		if err := gd.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hashes[i])); err != nil {
			return err
		}
	}
	return p.queue(gd)
}

// GetMempool implements Peer.
func (p *TCPPeer) GetMempool() error {
	return p.queue(wire.NewMsgMemPool())
}

// SendTx implements Peer.
func (p *TCPPeer) SendTx(tx *wire.MsgTx) error {
	return p.queue(tx)
}
