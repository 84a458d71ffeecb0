// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headertree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// snapshotMagic and snapshotVersion tag the file format so a future format
// change can be detected instead of silently misparsed.
const (
	snapshotMagic   uint32 = 0x53504854 // "SPHT"
	snapshotVersion uint32 = 1
)

// LoadFromFile implements Tree. The snapshot format is a small header
// (magic, version, header count) followed by that many wire-encoded
// wire.BlockHeader records in height order, genesis first, via
// wire.BlockHeader.Deserialize; this is the "persisted state" contract
// spec.md leaves to the HeaderTree implementer.
func (t *MemTree) LoadFromFile(path string, checkPoW bool, progress ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic, version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("headertree: read snapshot magic: %w", err)
	}
	if magic != snapshotMagic {
		return fmt.Errorf("headertree: snapshot %s: bad magic", path)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("headertree: read snapshot version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("headertree: snapshot %s: unsupported version %d", path, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("headertree: read snapshot count: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("headertree: empty snapshot")
	}

	headers := make([]*wire.BlockHeader, count)
	for i := range headers {
		h := &wire.BlockHeader{}
		if err := h.Deserialize(r); err != nil {
			return fmt.Errorf("headertree: decode snapshot header %d: %w", i, err)
		}
		headers[i] = h
	}

	t.Clear()
	if err := t.SetGenesis(headers[0]); err != nil {
		return err
	}
	if progress != nil {
		ch, _ := t.HeaderByHeight(0)
		progress(ch)
	}

	prevCheck := t.params
	if !checkPoW {
		// Temporarily raise the PoW limit to the easiest target and
		// use a zero PoW hash, so every header with a positive target
		// passes the check inside InsertHeader; restored below
		// regardless of outcome.
		relaxed := *t.params
		relaxed.PowLimitBits = maxCompactBits
		relaxed.POWHash = func(*wire.BlockHeader) chainhash.Hash { return chainhash.Hash{} }
		t.params = &relaxed
	}
	defer func() { t.params = prevCheck }()

	for i := 1; i < len(headers); i++ {
		if _, err := t.InsertHeader(headers[i]); err != nil {
			return fmt.Errorf("headertree: snapshot header %d: %w", i, err)
		}
		if progress != nil {
			ch, _ := t.HeaderByHeight(int32(i))
			progress(ch)
		}
	}
	return nil
}

// maxCompactBits is the compact-form target for the maximum possible
// difficulty target (i.e. the easiest target expressible), used to
// effectively disable the PoW ceiling check when loading a trusted snapshot.
const maxCompactBits = 0xff7fffff

// FlushToFile implements Tree. It writes to a temporary file in the same
// directory and renames it into place, satisfying the "written atomically"
// contract of §5.
func (t *MemTree) FlushToFile(path string) error {
	if len(t.bestChain) == 0 {
		return ErrUninitialized
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".headertree-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if err := writeSnapshotHeader(w, uint32(len(t.bestChain))); err != nil {
		tmp.Close()
		return err
	}
	for _, n := range t.bestChain {
		if err := n.header.Serialize(w); err != nil {
			tmp.Close()
			return fmt.Errorf("headertree: encode header at height %d: %w", n.height, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	log.Debugf("Flushed %d headers to %s", len(t.bestChain), path)
	return nil
}

func writeSnapshotHeader(w io.Writer, count uint32) error {
	if err := binary.Write(w, binary.LittleEndian, snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, count)
}
