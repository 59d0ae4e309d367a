// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tgcryptfs/tgcryptfs/internal/codec"
)

// The by_parent_name, chunks, and meta sub-stores are each small
// relative to the inode table, so each is kept as a single sealed
// blob rewritten on every mutating operation rather than sharded like
// inodes, per §4.3's sub-store shapes.

var (
	byParentAAD = []byte("by_parent_name")
	chunksAAD   = []byte("chunks")
	metaAAD     = []byte("meta")
)

type byParentEntry struct {
	Parent uint64 `cbor:"parent"`
	Name   string `cbor:"name"`
	Ino    uint64 `cbor:"ino"`
}

type chunksEntry struct {
	ChunkID [32]byte `cbor:"chunk_id"`
	chunkEntry
}

func (s *Store) byParentIndexPath() string {
	return filepath.Join(s.dir, "by_parent_name", "index.sealed")
}

func (s *Store) chunksIndexPath() string {
	return filepath.Join(s.dir, "chunks", "index.sealed")
}

func (s *Store) metaIndexPath() string {
	return filepath.Join(s.dir, "meta", "index.sealed")
}

func (s *Store) loadIndexes() error {
	if err := s.loadByParentIndex(); err != nil {
		return err
	}
	if err := s.loadChunksIndex(); err != nil {
		return err
	}
	return s.loadMetaIndex()
}

func (s *Store) loadByParentIndex() error {
	blob, err := os.ReadFile(s.byParentIndexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metadatastore: reading by_parent_name index: %w", err)
	}
	plaintext, err := s.open(byParentAAD, blob)
	if err != nil {
		return fmt.Errorf("metadatastore: opening by_parent_name index: %w", err)
	}
	var entries []byParentEntry
	if err := codec.Unmarshal(plaintext, &entries); err != nil {
		return fmt.Errorf("metadatastore: decoding by_parent_name index: %w", err)
	}
	for _, e := range entries {
		s.byParent[parentNameKey{parent: e.Parent, name: e.Name}] = e.Ino
	}
	return nil
}

func (s *Store) saveByParentIndexLocked() error {
	entries := make([]byParentEntry, 0, len(s.byParent))
	for k, ino := range s.byParent {
		entries = append(entries, byParentEntry{Parent: k.parent, Name: k.name, Ino: ino})
	}
	plaintext, err := codec.Marshal(entries)
	if err != nil {
		return fmt.Errorf("metadatastore: encoding by_parent_name index: %w", err)
	}
	blob, err := s.seal(byParentAAD, plaintext)
	if err != nil {
		return fmt.Errorf("metadatastore: sealing by_parent_name index: %w", err)
	}
	return writeAtomic(s.byParentIndexPath(), blob)
}

func (s *Store) loadChunksIndex() error {
	blob, err := os.ReadFile(s.chunksIndexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metadatastore: reading chunks index: %w", err)
	}
	plaintext, err := s.open(chunksAAD, blob)
	if err != nil {
		return fmt.Errorf("metadatastore: opening chunks index: %w", err)
	}
	var entries []chunksEntry
	if err := codec.Unmarshal(plaintext, &entries); err != nil {
		return fmt.Errorf("metadatastore: decoding chunks index: %w", err)
	}
	for _, e := range entries {
		s.chunks[e.ChunkID] = e.chunkEntry
	}
	return nil
}

func (s *Store) saveChunksIndexLocked() error {
	entries := make([]chunksEntry, 0, len(s.chunks))
	for id, e := range s.chunks {
		entries = append(entries, chunksEntry{ChunkID: id, chunkEntry: e})
	}
	plaintext, err := codec.Marshal(entries)
	if err != nil {
		return fmt.Errorf("metadatastore: encoding chunks index: %w", err)
	}
	blob, err := s.seal(chunksAAD, plaintext)
	if err != nil {
		return fmt.Errorf("metadatastore: sealing chunks index: %w", err)
	}
	return writeAtomic(s.chunksIndexPath(), blob)
}

type metaDocument struct {
	NextIno uint64            `cbor:"next_ino"`
	KV      map[string][]byte `cbor:"kv,omitempty"`
}

func (s *Store) loadMetaIndex() error {
	blob, err := os.ReadFile(s.metaIndexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metadatastore: reading meta index: %w", err)
	}
	plaintext, err := s.open(metaAAD, blob)
	if err != nil {
		return fmt.Errorf("metadatastore: opening meta index: %w", err)
	}
	var doc metaDocument
	if err := codec.Unmarshal(plaintext, &doc); err != nil {
		return fmt.Errorf("metadatastore: decoding meta index: %w", err)
	}
	s.nextIno = doc.NextIno
	if doc.KV != nil {
		s.metaKV = doc.KV
	}
	return nil
}

func (s *Store) saveMetaIndexLocked() error {
	doc := metaDocument{NextIno: s.nextIno, KV: s.metaKV}
	plaintext, err := codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("metadatastore: encoding meta index: %w", err)
	}
	blob, err := s.seal(metaAAD, plaintext)
	if err != nil {
		return fmt.Errorf("metadatastore: sealing meta index: %w", err)
	}
	return writeAtomic(s.metaIndexPath(), blob)
}

func (s *Store) saveNextIno() error {
	return s.saveMetaIndexLocked()
}
