// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package observer

import (
	"sync"

	"github.com/btcsuite/btcd/wire"

	"github.com/omegasuite/spvsync/headertree"
)

// Multiplexer fans a single stream of notifications out to any number of
// registered Observers. Registration is independent per §4.4: adding one
// listener never affects another. Listeners cannot be removed once
// registered. A listener that panics is
// contained and logged, never allowed to corrupt the Synchronizer that
// drives the Multiplexer.
type Multiplexer struct {
	mu        sync.RWMutex
	listeners []Observer
}

// NewMultiplexer creates an empty Multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{}
}

// Register adds obs to the set of listeners notified on every event.
func (m *Multiplexer) Register(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, obs)
}

func (m *Multiplexer) each(name string, fn func(Observer)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, obs := range m.listeners {
		func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("observer: %s listener panicked: %v", name, r)
				}
			}()
			fn(obs)
		}(obs)
	}
}

func (m *Multiplexer) OnStarted() { m.each("OnStarted", func(o Observer) { o.OnStarted() }) }
func (m *Multiplexer) OnStopped() { m.each("OnStopped", func(o Observer) { o.OnStopped() }) }
func (m *Multiplexer) OnOpen()    { m.each("OnOpen", func(o Observer) { o.OnOpen() }) }
func (m *Multiplexer) OnClose()   { m.each("OnClose", func(o Observer) { o.OnClose() }) }
func (m *Multiplexer) OnTimeout() { m.each("OnTimeout", func(o Observer) { o.OnTimeout() }) }

func (m *Multiplexer) OnConnectionError(msg string) {
	m.each("OnConnectionError", func(o Observer) { o.OnConnectionError(msg) })
}

func (m *Multiplexer) OnProtocolError(msg string) {
	m.each("OnProtocolError", func(o Observer) { o.OnProtocolError(msg) })
}

func (m *Multiplexer) OnBlockTreeError(msg string) {
	m.each("OnBlockTreeError", func(o Observer) { o.OnBlockTreeError(msg) })
}

func (m *Multiplexer) OnBlockTreeChanged() {
	m.each("OnBlockTreeChanged", func(o Observer) { o.OnBlockTreeChanged() })
}

func (m *Multiplexer) OnStatus(msg string) {
	m.each("OnStatus", func(o Observer) { o.OnStatus(msg) })
}

func (m *Multiplexer) OnFetchingHeaders() {
	m.each("OnFetchingHeaders", func(o Observer) { o.OnFetchingHeaders() })
}

func (m *Multiplexer) OnHeadersSynched() {
	m.each("OnHeadersSynched", func(o Observer) { o.OnHeadersSynched() })
}

func (m *Multiplexer) OnFetchingBlocks() {
	m.each("OnFetchingBlocks", func(o Observer) { o.OnFetchingBlocks() })
}

func (m *Multiplexer) OnBlocksSynched() {
	m.each("OnBlocksSynched", func(o Observer) { o.OnBlocksSynched() })
}

func (m *Multiplexer) OnBlocksSyncStopped() {
	m.each("OnBlocksSyncStopped", func(o Observer) { o.OnBlocksSyncStopped() })
}

func (m *Multiplexer) OnMerkleBlock(block headertree.ChainMerkleBlock) {
	m.each("OnMerkleBlock", func(o Observer) { o.OnMerkleBlock(block) })
}

func (m *Multiplexer) OnMerkleTx(block headertree.ChainMerkleBlock, tx *wire.MsgTx, index, count uint32) {
	m.each("OnMerkleTx", func(o Observer) { o.OnMerkleTx(block, tx, index, count) })
}

func (m *Multiplexer) OnBlock(block *wire.MsgBlock) {
	m.each("OnBlock", func(o Observer) { o.OnBlock(block) })
}

func (m *Multiplexer) OnNewTx(tx *wire.MsgTx) {
	m.each("OnNewTx", func(o Observer) { o.OnNewTx(tx) })
}

var _ Observer = (*Multiplexer)(nil)
