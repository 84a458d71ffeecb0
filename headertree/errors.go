// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headertree

import "errors"

// Sentinel errors returned by Tree operations. Wrap with fmt.Errorf("%w", ...)
// when adding context; callers can still errors.Is against these.
var (
	// ErrAlreadyInitialized is returned by SetGenesis on a non-empty tree.
	ErrAlreadyInitialized = errors.New("headertree: already initialized")

	// ErrNotFound is returned when a header lookup misses.
	ErrNotFound = errors.New("headertree: header not found")

	// ErrInvalidHeader is returned by InsertHeader for a header that
	// fails proof-of-work, has no known parent, or is otherwise malformed.
	ErrInvalidHeader = errors.New("headertree: invalid header")

	// ErrUninitialized is returned by operations that require a genesis
	// header to already be set.
	ErrUninitialized = errors.New("headertree: not initialized")
)
