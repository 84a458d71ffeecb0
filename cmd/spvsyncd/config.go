// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "spvsyncd.conf"
	defaultLogFilename    = "spvsyncd.log"
	defaultHeadersFile    = "headers.dat"
	defaultLogLevel       = "info"
	defaultNet            = "mainnet"
)

// config defines the command-line options this daemon accepts. Fields
// mirror the shape of btcd's config: a short/long flag pair plus a
// plain-English description, parsed by go-flags. Only the command line is
// parsed: the ConfigFile option is accepted, but no configuration file is
// read.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`

	Peer string `short:"p" long:"peer" description:"host:port of the single peer to sync against" required:"true"`

	TestNet3 bool `long:"testnet" description:"Use the test network"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`

	HeadersFile string `long:"headers" description:"Path to the header chain snapshot"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	// Birthday is passed to Synchronizer.SyncBlocks as its fallback
	// start time. SyncBlocks uses it only when none of the locator
	// hashes it is given is on the best chain; this daemon passes the
	// header tree's own locator, whose tip always is, so block sync
	// starts one past the current tip and Birthday does not change
	// where it starts. Bloom filter construction itself
	// is out of scope for this daemon: a caller wanting filtered blocks
	// links against the sync package directly and supplies a ready
	// wire.MsgFilterLoad via Synchronizer.SetBloomFilter.
	Birthday string `long:"birthday" description:"RFC3339 fallback start time for block sync, used only when no locator hash is on the best chain"`
}

// cleanAndExpandPath expands environment variables and leading ~ in path,
// then cleans the result.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig parses command-line arguments into a config, applying defaults
// for anything left unset.
func loadConfig() (*config, []string, error) {
	cfg := config{
		HeadersFile: defaultHeadersFile,
		DebugLevel:  defaultLogLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	if cfg.TestNet3 && cfg.SimNet {
		return nil, nil, fmt.Errorf("testnet and simnet cannot be used together")
	}

	cfg.HeadersFile = cleanAndExpandPath(cfg.HeadersFile)
	if cfg.LogDir != "" {
		cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	}

	return &cfg, remainingArgs, nil
}

// netName returns the network selected by cfg, for logging.
func (c *config) netName() string {
	switch {
	case c.TestNet3:
		return "testnet3"
	case c.SimNet:
		return "simnet"
	default:
		return defaultNet
	}
}
