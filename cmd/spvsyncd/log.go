// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/omegasuite/spvsync/headertree"
	"github.com/omegasuite/spvsync/observer"
	"github.com/omegasuite/spvsync/peerconn"
	"github.com/omegasuite/spvsync/sync"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it write to the backend. Loggers must not
// be used before the log rotator is initialized with a log file, which
// happens early in main via initLogRotator.
var (
	backendLog = btclog.NewBackend(logWriter{})

	logRotator *rotator.Rotator

	mainLog = backendLog.Logger("SPVD")
	syncLog = backendLog.Logger("SYNC")
	peerLog = backendLog.Logger("PEER")
	treeLog = backendLog.Logger("TREE")
	obsvLog = backendLog.Logger("OBSV")
)

func init() {
	sync.UseLogger(syncLog)
	peerconn.UseLogger(peerLog)
	headertree.UseLogger(treeLog)
	observer.UseLogger(obsvLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger,
// used by setLogLevel/setLogLevels to apply an operator-chosen verbosity.
var subsystemLoggers = map[string]btclog.Logger{
	"SPVD": mainLog,
	"SYNC": syncLog,
	"PEER": peerLog,
	"TREE": treeLog,
	"OBSV": obsvLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global loggers are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
	logRotator = r
}

// setLogLevel sets the logging level for the given subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for every subsystem logger.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
