// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headertree

import "github.com/btcsuite/btclog"

// log is the package-level subsystem logger. It defaults to disabled so the
// package has zero logging overhead until the caller wires a real backend
// in with UseLogger.
var log btclog.Logger

func init() {
	DisableLog()
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
