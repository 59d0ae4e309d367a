// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fs

import (
	"context"
	"fmt"

	"github.com/tgcryptfs/tgcryptfs/chunk"
	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/internal/backend"
	"github.com/tgcryptfs/tgcryptfs/internal/codec"
	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// chunkWire is the plaintext structure sealed and stored as a chunk's
// remote body, per §4.2: a chunk is stored compressed only when doing
// so is beneficial, so the wire form must record whether it is and,
// if so, the original length needed to reverse it.
type chunkWire struct {
	Compressed   bool   `cbor:"compressed"`
	OriginalSize int    `cbor:"original_size,omitempty"`
	Body         []byte `cbor:"body"`
}

// readChunk returns the plaintext bytes for id, consulting the local
// cache before falling back to the backend, per §4.4's cache path:
// "cache.get, on miss fetch from backend, decrypt, populate cache."
func (fs *Filesystem) readChunk(ctx context.Context, id crypto.ChunkID) ([]byte, error) {
	if data, ok, err := fs.Cache.Get(id); err != nil {
		fs.Logger.Warn("corrupt cache entry, evicting", "chunk", id.String(), "error", err)
		fs.Cache.Remove(id)
	} else if ok {
		return data, nil
	}

	locator, ok := fs.Store.ChunkLocator(id)
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, fmt.Sprintf("fs: chunk %s has no known locator", id))
	}

	sealed, err := fs.Backend.Get(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("fs: fetching chunk %s: %w", id, err)
	}

	key, err := fs.MasterKey.ChunkKey(id)
	if err != nil {
		return nil, fmt.Errorf("fs: deriving chunk key: %w", err)
	}
	plaintext, err := crypto.Open(key, id[:], sealed)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.IntegrityFailure, "fs: opening chunk body", err)
	}

	var wire chunkWire
	if err := codec.Unmarshal(plaintext, &wire); err != nil {
		return nil, fmt.Errorf("fs: decoding chunk wire format: %w", err)
	}
	body := wire.Body
	if wire.Compressed {
		body, err = chunk.Decompress(wire.Body, wire.OriginalSize)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.IntegrityFailure, "fs: decompressing chunk body", err)
		}
	}

	if err := fs.Cache.Put(id, body); err != nil {
		fs.Logger.Warn("populating chunk cache failed", "chunk", id.String(), "error", err)
	}
	return body, nil
}

// writeChunk uploads plaintext's content under its content address,
// skipping the upload entirely if this namespace has already stored a
// chunk with that id, per §4.2's dedup-probe step. It returns the
// chunk id and the locator it is now stored under.
func (fs *Filesystem) writeChunk(ctx context.Context, plaintext []byte) (crypto.ChunkID, string, error) {
	id := crypto.ContentHash(plaintext)

	if locator, ok := fs.Store.ChunkLocator(id); ok {
		if err := fs.Cache.Put(id, plaintext); err != nil {
			fs.Logger.Warn("populating chunk cache failed", "chunk", id.String(), "error", err)
		}
		return id, locator, nil
	}

	wire := chunkWire{Body: plaintext}
	if fs.CompressionEnabled {
		if compressed, ok := chunk.Compress(plaintext); ok {
			wire = chunkWire{Compressed: true, OriginalSize: len(plaintext), Body: compressed}
		}
	}

	encoded, err := codec.Marshal(wire)
	if err != nil {
		return id, "", fmt.Errorf("fs: encoding chunk wire format: %w", err)
	}
	key, err := fs.MasterKey.ChunkKey(id)
	if err != nil {
		return id, "", fmt.Errorf("fs: deriving chunk key: %w", err)
	}
	sealed, err := crypto.Seal(key, id[:], encoded)
	if err != nil {
		return id, "", fmt.Errorf("fs: sealing chunk body: %w", err)
	}

	locator, err := fs.Backend.Put(ctx, fs.Namespace, backend.BlobChunk, id.String(), sealed)
	if err != nil {
		return id, "", fmt.Errorf("fs: uploading chunk %s: %w", id, err)
	}

	if err := fs.Cache.Put(id, plaintext); err != nil {
		fs.Logger.Warn("populating chunk cache failed", "chunk", id.String(), "error", err)
	}
	return id, locator, nil
}

// deleteChunk removes a chunk body from the backend after its
// refcount has reached zero. Failure is logged, not propagated: the
// mutation that dropped the last reference has already committed, and
// the orphaned blob can be reclaimed by a later garbage-collection
// pass rather than blocking the caller.
func (fs *Filesystem) deleteChunk(ctx context.Context, id crypto.ChunkID, locator string) {
	if err := fs.Backend.Delete(ctx, locator); err != nil {
		fs.Logger.Warn("deleting orphaned chunk failed", "chunk", id.String(), "locator", locator, "error", err)
	}
}
