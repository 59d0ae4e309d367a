// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import (
	"time"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// ChunkDelta describes a chunk reference count adjustment to apply as
// part of a mutation batch.
type ChunkDelta struct {
	ChunkID [32]byte
	Locator string
	Ref     bool // true increments, false decrements
}

// EvictedChunk is a chunk whose refcount reached zero as a side
// effect of a batch, and whose body the caller must now delete from
// the backend.
type EvictedChunk struct {
	ChunkID [32]byte
	Locator string
}

// ApplyMutationBatch updates ino's record via mutate and adjusts the
// chunk refcount table in a single critical section, per §4.3's
// "atomic apply(mutation_batch): either every sub-store change lands,
// or none does." It is the primitive the write path uses to splice a
// new manifest into an inode while ref'ing its new chunks and
// unref'ing the chunks it displaced.
func (s *Store) ApplyMutationBatch(ino uint64, mutate func(*Inode) error, deltas []ChunkDelta) ([]EvictedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.readInodeLocked(ino)
	if err != nil {
		return nil, err
	}
	original := cloneInode(inode)
	if err := mutate(inode); err != nil {
		return nil, err
	}

	// Snapshot only the chunk entries this batch touches, so a
	// failure partway through leaves the chunk table exactly as it
	// was found.
	snapshot := make(map[[32]byte]chunkEntry, len(deltas))
	for _, d := range deltas {
		snapshot[d.ChunkID] = s.chunks[d.ChunkID]
	}
	rollback := func() {
		for id, entry := range snapshot {
			if entry.Refcount == 0 {
				delete(s.chunks, id)
			} else {
				s.chunks[id] = entry
			}
		}
	}

	var evicted []EvictedChunk
	for _, d := range deltas {
		entry, existed := s.chunks[d.ChunkID]
		if d.Ref {
			if !existed {
				entry = chunkEntry{Locator: d.Locator}
			}
			entry.Refcount++
			s.chunks[d.ChunkID] = entry
			continue
		}
		if !existed || entry.Refcount == 0 {
			rollback()
			return nil, coreerr.New(coreerr.NotFound, "metadatastore: chunk not referenced")
		}
		entry.Refcount--
		if entry.Refcount == 0 {
			delete(s.chunks, d.ChunkID)
			evicted = append(evicted, EvictedChunk{ChunkID: d.ChunkID, Locator: entry.Locator})
		} else {
			s.chunks[d.ChunkID] = entry
		}
	}

	inode.Ctime = time.Now().UTC()
	if err := s.writeInodeLocked(inode); err != nil {
		rollback()
		return nil, err
	}
	if err := s.saveChunksIndexLocked(); err != nil {
		rollback()
		_ = s.writeInodeLocked(original)
		return nil, err
	}

	return evicted, nil
}
