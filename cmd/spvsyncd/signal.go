// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
)

// shutdownRequestChannel lets an internal subsystem request the same
// shutdown path as an interrupt signal.
var shutdownRequestChannel = make(chan struct{})

// interruptSignals defines the default signals to catch in order to do a
// proper shutdown.
var interruptSignals = []os.Signal{os.Interrupt}

// interruptListener listens for OS signals and shutdown requests, returning
// a channel that is closed the first time either occurs.
func interruptListener() <-chan struct{} {
	c := make(chan struct{})

	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		select {
		case sig := <-interruptChannel:
			mainLog.Infof("Received signal (%s), shutting down...", sig)
		case <-shutdownRequestChannel:
			mainLog.Info("Shutdown requested, shutting down...")
		}
		close(c)
	}()

	return c
}

// interruptRequested reports whether the channel returned by
// interruptListener has been closed.
func interruptRequested(interrupted <-chan struct{}) bool {
	select {
	case <-interrupted:
		return true
	default:
		return false
	}
}
