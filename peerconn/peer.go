// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peerconn provides the single-connection P2P transport a
// Synchronizer drives: a version/verack handshake followed by a serialized
// stream of inbound message callbacks, all dispatched from one goroutine.
package peerconn

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrAlreadyStarted is returned by Start when the peer is already connected
// or connecting.
var ErrAlreadyStarted = errors.New("peerconn: already started")

// ErrNotStarted is returned by outbound send helpers when called before a
// successful Start.
var ErrNotStarted = errors.New("peerconn: not started")

// Callbacks are the inbound notifications a Peer dispatches, one at a time,
// from its single I/O goroutine. Every field is optional. TCPPeer skips a nil
// OnOpen, OnClose or OnTimeout; a nil callback that takes an argument is
// still invoked, and the resulting panic is recovered and logged like any
// other callback panic. Callbacks are plain function values; when they are
// an owner's bound methods (as the Synchronizer's are) they reference that
// owner, and a Peer holds no other reference to it.
type Callbacks struct {
	OnOpen             func()
	OnClose            func()
	OnTimeout          func()
	OnConnectionError  func(msg string)
	OnProtocolError    func(msg string)
	OnInv              func(items []*wire.InvVect)
	OnTx               func(tx *wire.MsgTx)
	OnHeaders          func(headers []*wire.BlockHeader)
	OnBlock            func(block *wire.MsgBlock)
	OnMerkleBlock      func(mb *wire.MsgMerkleBlock)
}

func (c Callbacks) safe(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("peerconn: callback %s panicked: %v", name, r)
		}
	}()
	fn()
}

// Peer is the outbound connection to a single remote node. Implementations
// must dispatch every Callbacks method from the same goroutine and in wire
// order, since a Synchronizer relies on that serialization instead of its
// own locking for inbound events.
type Peer interface {
	// Start dials host:port and begins the version handshake. Start
	// returns once the TCP connection attempt completes; a failed dial
	// is returned and also reported via OnConnectionError. Completion of
	// the handshake is reported via OnOpen; TCPPeer reports a handshake
	// that does not complete within its timeout via OnTimeout.
	Start(host, port string) error

	// Stop closes the connection if open. It is idempotent.
	Stop()

	// WaitForDisconnect blocks until the connection has fully closed,
	// including after a Stop initiated by the caller. Used by a
	// Synchronizer's Close to avoid returning while the I/O goroutine is
	// still tearing down.
	WaitForDisconnect()

	// Connected reports whether the handshake has completed and the
	// connection has not since closed.
	Connected() bool

	Send(msg wire.Message) error
	GetHeaders(locator []chainhash.Hash) error
	GetFilteredBlock(hash chainhash.Hash) error
	GetTx(hash chainhash.Hash) error
	GetTxs(hashes []chainhash.Hash) error
	GetMempool() error
	SendTx(tx *wire.MsgTx) error
}
