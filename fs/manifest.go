// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fs

import (
	"context"
	"sort"

	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/metadatastore"
)

// readRange returns the file content in [start, end) as recorded by
// manifest, zero-filling any gap the manifest does not cover (a
// sparse extension left by a truncate-grow that no write has touched
// yet). end is clamped to size.
func (fs *Filesystem) readRange(ctx context.Context, manifest []metadatastore.ChunkRef, size uint64, start, end int64) ([]byte, error) {
	if end > int64(size) {
		end = int64(size)
	}
	if end <= start {
		return nil, nil
	}

	out := make([]byte, end-start)
	for _, ref := range manifest {
		refStart := int64(ref.Offset)
		refEnd := refStart + int64(ref.Length)
		if refEnd <= start || refStart >= end {
			continue
		}

		data, err := fs.readChunk(ctx, crypto.ChunkID(ref.ChunkID))
		if err != nil {
			return nil, err
		}

		overlapStart := max64(start, refStart)
		overlapEnd := min64(end, refEnd)
		copy(out[overlapStart-start:overlapEnd-start], data[overlapStart-refStart:overlapEnd-refStart])
	}

	fs.prefetchEnqueue(manifest, end)
	return out, nil
}

// prefetchEnqueue populates the cache with up to PrefetchCount chunks
// immediately following afterOffset, speculating that a sequential
// reader will ask for them next, per §4.4's prefetch_enqueue and
// §4.5's read-path step 5. Fetching happens on a detached goroutine:
// a slow or failed prefetch must never hold up the read that triggered
// it.
func (fs *Filesystem) prefetchEnqueue(manifest []metadatastore.ChunkRef, afterOffset int64) {
	if !fs.PrefetchEnabled || fs.PrefetchCount <= 0 {
		return
	}

	ordered := append([]metadatastore.ChunkRef(nil), manifest...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	var candidates []crypto.ChunkID
	for _, ref := range ordered {
		if int64(ref.Offset) < afterOffset {
			continue
		}
		candidates = append(candidates, crypto.ChunkID(ref.ChunkID))
		if len(candidates) >= fs.PrefetchCount {
			break
		}
	}
	if len(candidates) == 0 {
		return
	}

	go func() {
		for _, id := range candidates {
			if fs.Cache.Contains(id) {
				continue
			}
			if _, err := fs.readChunk(context.Background(), id); err != nil {
				fs.Logger.Warn("prefetch failed", "chunk", id.String(), "error", err)
			}
		}
	}()
}

// spliceWrite folds overlay (the bytes buffered by one flush, at file
// offset base) into ino's manifest, re-chunking only the chunk-aligned
// windows the write touched, per §4.5's write path: "splice into
// manifest on flush, chunker, per-chunk dedup/compress/seal/upload/ref,
// unref old chunks, atomic inode update, emit CRDT Write op."
func (fs *Filesystem) spliceWrite(ctx context.Context, ino uint64, path string, base int64, overlay []byte) error {
	fs.WriteMu.Lock()
	defer fs.WriteMu.Unlock()

	current, err := fs.Store.GetInode(ino)
	if err != nil {
		return err
	}

	chunkSize := int64(fs.ChunkSize)
	overlayEnd := base + int64(len(overlay))
	alignedStart := (base / chunkSize) * chunkSize
	alignedEnd := ((overlayEnd + chunkSize - 1) / chunkSize) * chunkSize

	newSize := current.Size
	if uint64(overlayEnd) > newSize {
		newSize = uint64(overlayEnd)
	}

	oldByOffset := make(map[int64]metadatastore.ChunkRef, len(current.Manifest))
	for _, ref := range current.Manifest {
		oldByOffset[int64(ref.Offset)] = ref
	}

	newManifest := make(map[int64]metadatastore.ChunkRef)
	for k, v := range oldByOffset {
		newManifest[k] = v
	}

	var deltas []metadatastore.ChunkDelta
	var evictedLocators []struct {
		id      crypto.ChunkID
		locator string
	}

	for winStart := alignedStart; winStart < alignedEnd; winStart += chunkSize {
		winEnd := winStart + chunkSize
		if winEnd > int64(newSize) {
			winEnd = int64(newSize)
		}
		windowLen := winEnd - winStart
		if windowLen <= 0 {
			continue
		}

		window, err := fs.readRange(ctx, current.Manifest, current.Size, winStart, winEnd)
		if err != nil {
			return err
		}
		if int64(len(window)) < windowLen {
			grown := make([]byte, windowLen)
			copy(grown, window)
			window = grown
		}

		overlapStart := max64(winStart, base)
		overlapEnd := min64(winEnd, overlayEnd)
		if overlapStart < overlapEnd {
			copy(window[overlapStart-winStart:overlapEnd-winStart], overlay[overlapStart-base:overlapEnd-base])
		}

		newID := crypto.ContentHash(window)
		oldRef, hadOld := oldByOffset[winStart]
		if hadOld && crypto.ChunkID(oldRef.ChunkID) == newID && int64(oldRef.Length) == windowLen {
			continue
		}

		_, locator, err := fs.writeChunk(ctx, window)
		if err != nil {
			return err
		}
		deltas = append(deltas, metadatastore.ChunkDelta{ChunkID: newID, Locator: locator, Ref: true})
		if hadOld {
			deltas = append(deltas, metadatastore.ChunkDelta{ChunkID: oldRef.ChunkID, Ref: false})
		}

		newManifest[winStart] = metadatastore.ChunkRef{Offset: uint64(winStart), Length: uint64(windowLen), ChunkID: newID}
	}

	manifestSlice := make([]metadatastore.ChunkRef, 0, len(newManifest))
	for _, ref := range newManifest {
		manifestSlice = append(manifestSlice, ref)
	}
	sort.Slice(manifestSlice, func(i, j int) bool { return manifestSlice[i].Offset < manifestSlice[j].Offset })

	evicted, err := fs.Store.ApplyMutationBatch(ino, func(inode *metadatastore.Inode) error {
		inode.Manifest = manifestSlice
		inode.Size = newSize
		return nil
	}, deltas)
	if err != nil {
		return err
	}

	for _, e := range evicted {
		evictedLocators = append(evictedLocators, struct {
			id      crypto.ChunkID
			locator string
		}{id: crypto.ChunkID(e.ChunkID), locator: e.Locator})
	}
	for _, e := range evictedLocators {
		fs.deleteChunk(ctx, e.id, e.locator)
	}

	fs.emitOperation(ctx, writeOperation(path, uint64(base), overlay))
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
