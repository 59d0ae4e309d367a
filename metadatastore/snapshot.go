// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tgcryptfs/tgcryptfs/internal/codec"
)

// inodeTableDump is the plaintext wire shape exchanged between a
// master and its replicas, per §4.7's "serialize the full inode table
// (not operations) into a sealed blob." The outer seal is applied by
// the caller's Sealer, keeping this store ignorant of the
// distribution layer's key material.
type inodeTableDump struct {
	Inodes   []*Inode        `cbor:"inodes"`
	ByParent []byParentEntry `cbor:"by_parent"`
	Chunks   []chunksEntry   `cbor:"chunks"`
	NextIno  uint64          `cbor:"next_ino"`
}

// SerializeInodeTable satisfies distributed.InodeTableSnapshotter: it
// walks every inode on disk, decrypts it, and packs the full table
// into one plaintext blob for the caller to seal and publish.
func (s *Store) SerializeInodeTable() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inodesDir := filepath.Join(s.dir, "inodes")
	var inodes []*Inode
	walkErr := filepath.WalkDir(inodesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".sealed") {
			return nil
		}
		inoStr := strings.TrimSuffix(d.Name(), ".sealed")
		ino, parseErr := strconv.ParseUint(inoStr, 10, 64)
		if parseErr != nil {
			return nil
		}
		inode, readErr := s.readInodeLocked(ino)
		if readErr != nil {
			return fmt.Errorf("metadatastore: reading inode %d during snapshot: %w", ino, readErr)
		}
		inodes = append(inodes, inode)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	byParent := make([]byParentEntry, 0, len(s.byParent))
	for k, ino := range s.byParent {
		byParent = append(byParent, byParentEntry{Parent: k.parent, Name: k.name, Ino: ino})
	}
	chunks := make([]chunksEntry, 0, len(s.chunks))
	for id, entry := range s.chunks {
		chunks = append(chunks, chunksEntry{ChunkID: id, chunkEntry: entry})
	}

	dump := inodeTableDump{Inodes: inodes, ByParent: byParent, Chunks: chunks, NextIno: s.nextIno}
	return codec.Marshal(dump)
}

// ReplaceInodeTable atomically swaps the live tree for the one
// encoded in data, per §4.7's replica-side apply step. All existing
// sharded inode files are removed first so that entries deleted on
// the master do not linger locally.
func (s *Store) ReplaceInodeTable(data []byte) error {
	var dump inodeTableDump
	if err := codec.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("metadatastore: decoding inode table snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inodesDir := filepath.Join(s.dir, "inodes")
	if err := os.RemoveAll(inodesDir); err != nil {
		return fmt.Errorf("metadatastore: clearing inode table: %w", err)
	}
	if err := os.MkdirAll(inodesDir, 0755); err != nil {
		return fmt.Errorf("metadatastore: recreating inode directory: %w", err)
	}

	s.hotCache = newHotInodeCache(256)
	for _, inode := range dump.Inodes {
		if err := s.writeInodeLocked(inode); err != nil {
			return fmt.Errorf("metadatastore: writing inode %d from snapshot: %w", inode.Ino, err)
		}
	}

	s.byParent = make(map[parentNameKey]uint64, len(dump.ByParent))
	for _, e := range dump.ByParent {
		s.byParent[parentNameKey{parent: e.Parent, name: e.Name}] = e.Ino
	}
	if err := s.saveByParentIndexLocked(); err != nil {
		return err
	}

	s.chunks = make(map[[32]byte]chunkEntry, len(dump.Chunks))
	for _, e := range dump.Chunks {
		s.chunks[e.ChunkID] = e.chunkEntry
	}
	if err := s.saveChunksIndexLocked(); err != nil {
		return err
	}

	s.nextIno = dump.NextIno
	return s.saveNextIno()
}
