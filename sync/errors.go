// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sync

import "errors"

var (
	// ErrBusy is returned by SetChainParams and Start when the
	// Synchronizer is already started.
	ErrBusy = errors.New("sync: already started")

	// ErrNotConnected is returned by SyncBlocks when called while the
	// peer connection is not open, and by the passthrough send
	// operations when called before Start has created a peer.
	ErrNotConnected = errors.New("sync: not connected")
)
