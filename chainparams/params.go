// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainparams describes the network-wide constants a Synchronizer
// needs to talk to a single peer: magic bytes, protocol version, default
// port, genesis header, and the hash functions used to identify and to
// prove-of-work a block header.
package chainparams

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderHashFunc computes a hash of a block header. Two functions are kept
// distinct (BlockHeaderHash and POWHash) because some chains verify
// proof-of-work against a different hash than the one used to identify the
// header (e.g. a memory-hard PoW hash next to a cheap sha256d identity
// hash). Keeping both injectable, rather than process-wide state, lets two
// Synchronizers run against different chains in the same process.
type HeaderHashFunc func(*wire.BlockHeader) chainhash.Hash

// Params is the immutable set of parameters describing one network.
type Params struct {
	Name            string
	Net             wire.BitcoinNet
	DefaultPort     string
	ProtocolVersion uint32
	UserAgent       string

	GenesisBlock *wire.BlockHeader
	GenesisHash  chainhash.Hash

	// PowLimitBits is the highest (easiest) proof-of-work target
	// permitted on this network, in compact "bits" form.
	PowLimitBits uint32

	// BlockHeaderHash returns the identifying hash of a header.
	BlockHeaderHash HeaderHashFunc

	// POWHash returns the hash checked against a header's difficulty
	// target. Defaults to the identifying header hash (see HeaderHash)
	// when nil.
	POWHash HeaderHashFunc

	TargetTimePerBlock time.Duration

	// ChainCfg is the underlying btcsuite chain parameters, when this
	// Params was derived from one via MainNet/TestNet3/SimNet. It is
	// nil for hand-built Params (e.g. in tests), in which case peerconn
	// synthesizes a minimal chaincfg.Params from the fields above.
	ChainCfg *chaincfg.Params
}

func sha256dHash(h *wire.BlockHeader) chainhash.Hash {
	return h.BlockHash()
}

// powHashFunc returns the effective proof-of-work hash function for p,
// defaulting to HeaderHash (BlockHeaderHash, or sha256d when that is nil
// too) when POWHash was left nil.
func (p *Params) powHashFunc() HeaderHashFunc {
	if p.POWHash != nil {
		return p.POWHash
	}
	return p.HeaderHash
}

// PowHash reports the proof-of-work hash of header under p's rules.
func (p *Params) PowHash(header *wire.BlockHeader) chainhash.Hash {
	return p.powHashFunc()(header)
}

// HeaderHash reports the identifying hash of header under p's rules.
func (p *Params) HeaderHash(header *wire.BlockHeader) chainhash.Hash {
	if p.BlockHeaderHash != nil {
		return p.BlockHeaderHash(header)
	}
	return sha256dHash(header)
}

func fromUpstream(name string, up *chaincfg.Params) *Params {
	return &Params{
		Name:               name,
		Net:                up.Net,
		DefaultPort:        up.DefaultPort,
		ProtocolVersion:    uint32(wire.ProtocolVersion),
		UserAgent:          "/spvsync:0.1.0/",
		GenesisBlock:       &up.GenesisBlock.Header,
		GenesisHash:        *up.GenesisHash,
		PowLimitBits:       up.PowLimitBits,
		BlockHeaderHash:    sha256dHash,
		TargetTimePerBlock: up.TargetTimePerBlock,
		ChainCfg:           up,
	}
}

// MainNet returns the parameters for the production Bitcoin-like network,
// derived from the real upstream genesis data in btcsuite/btcd/chaincfg.
func MainNet() *Params { return fromUpstream("mainnet", &chaincfg.MainNetParams) }

// TestNet3 returns the parameters for the public test network.
func TestNet3() *Params { return fromUpstream("testnet3", &chaincfg.TestNet3Params) }

// SimNet returns the parameters for a local simulation network.
func SimNet() *Params { return fromUpstream("simnet", &chaincfg.SimNetParams) }
