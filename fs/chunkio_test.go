// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package fs

import (
	"bytes"
	"context"
	"testing"

	"github.com/tgcryptfs/tgcryptfs/cache"
	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/internal/backend"
	"github.com/tgcryptfs/tgcryptfs/metadatastore"
)

func newTestFilesystem(t *testing.T, compress bool) *Filesystem {
	t.Helper()

	master, err := crypto.DeriveMaster([]byte("correct horse battery staple"), nil, crypto.DefaultKDFParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	t.Cleanup(func() { _ = master.Close() })

	metadataKey, err := master.MetadataKey()
	if err != nil {
		t.Fatalf("MetadataKey: %v", err)
	}
	store, err := metadatastore.Open(t.TempDir(), metadataKey)
	if err != nil {
		t.Fatalf("metadatastore.Open: %v", err)
	}

	chunkCache, err := cache.Open(t.TempDir(), 1<<22, 1<<22)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { _ = chunkCache.Close() })

	return New(Options{
		Namespace:          "test",
		Store:              store,
		Cache:              chunkCache,
		Backend:            backend.NewLoopback(),
		MasterKey:          master,
		ChunkSize:          64 * 1024,
		CompressionEnabled: compress,
	})
}

func TestWriteChunkThenReadChunkRoundTrips(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()

	plaintext := bytes.Repeat([]byte("hello world "), 100)

	id, locator, err := fsys.writeChunk(ctx, plaintext)
	if err != nil {
		t.Fatalf("writeChunk: %v", err)
	}
	if locator == "" {
		t.Fatal("expected a non-empty locator")
	}

	got, err := fsys.readChunk(ctx, id)
	if err != nil {
		t.Fatalf("readChunk: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("round-tripped chunk content mismatch")
	}
}

func TestWriteChunkDedupsIdenticalContent(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()

	plaintext := []byte("identical content")

	id1, locator1, err := fsys.writeChunk(ctx, plaintext)
	if err != nil {
		t.Fatalf("writeChunk (first): %v", err)
	}
	id2, locator2, err := fsys.writeChunk(ctx, plaintext)
	if err != nil {
		t.Fatalf("writeChunk (second): %v", err)
	}
	if id1 != id2 {
		t.Fatal("expected identical content to hash to the same chunk id")
	}
	if locator1 != locator2 {
		t.Fatalf("expected dedup to reuse the existing locator: %q vs %q", locator1, locator2)
	}
	if fsys.Store.ChunkRefcount(id1) != 0 {
		// writeChunk alone never refs a chunk; that happens when the
		// caller commits it through ApplyMutationBatch.
		t.Fatalf("refcount = %d, want 0 before any ApplyMutationBatch", fsys.Store.ChunkRefcount(id1))
	}
}

func TestWriteChunkCompressesWhenEnabled(t *testing.T) {
	fsys := newTestFilesystem(t, true)
	ctx := context.Background()

	plaintext := bytes.Repeat([]byte{0}, 8192)

	id, _, err := fsys.writeChunk(ctx, plaintext)
	if err != nil {
		t.Fatalf("writeChunk: %v", err)
	}

	got, err := fsys.readChunk(ctx, id)
	if err != nil {
		t.Fatalf("readChunk: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("decompressed round trip mismatch")
	}
}

func TestReadChunkUnknownIDFails(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()

	var id crypto.ChunkID
	id[0] = 0xFF
	if _, err := fsys.readChunk(ctx, id); err == nil {
		t.Fatal("expected an error reading an unknown chunk id")
	}
}
