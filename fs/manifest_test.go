// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package fs

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/tgcryptfs/tgcryptfs/metadatastore"
)

func newTestFileInode(t *testing.T, fsys *Filesystem) *metadatastore.Inode {
	t.Helper()
	ino, err := fsys.Store.NewIno()
	if err != nil {
		t.Fatalf("NewIno: %v", err)
	}
	now := time.Now().UTC()
	inode := &metadatastore.Inode{Ino: ino, Kind: metadatastore.Regular, Mode: 0o644, Nlink: 1, Atime: now, Mtime: now, Ctime: now}
	if err := fsys.Store.InsertInode(metadatastore.RootIno, "f", inode); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}
	return inode
}

func TestSpliceWriteThenReadRangeRoundTrips(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()
	file := newTestFileInode(t, fsys)

	payload := bytes.Repeat([]byte("A"), 100)
	if err := fsys.spliceWrite(ctx, file.Ino, "/f", 0, payload); err != nil {
		t.Fatalf("spliceWrite: %v", err)
	}

	updated, err := fsys.Store.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	if updated.Size != 100 {
		t.Fatalf("Size = %d, want 100", updated.Size)
	}

	got, err := fsys.readRange(ctx, updated.Manifest, updated.Size, 0, 100)
	if err != nil {
		t.Fatalf("readRange: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("read back content does not match what was written")
	}
}

func TestSpliceWriteOverlappingRangeOverwritesInPlace(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()
	file := newTestFileInode(t, fsys)

	if err := fsys.spliceWrite(ctx, file.Ino, "/f", 0, bytes.Repeat([]byte("X"), 50)); err != nil {
		t.Fatalf("spliceWrite (first): %v", err)
	}
	if err := fsys.spliceWrite(ctx, file.Ino, "/f", 10, bytes.Repeat([]byte("Y"), 10)); err != nil {
		t.Fatalf("spliceWrite (second): %v", err)
	}

	updated, err := fsys.Store.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}

	got, err := fsys.readRange(ctx, updated.Manifest, updated.Size, 0, 50)
	if err != nil {
		t.Fatalf("readRange: %v", err)
	}
	want := append(append(bytes.Repeat([]byte("X"), 10), bytes.Repeat([]byte("Y"), 10)...), bytes.Repeat([]byte("X"), 30)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("overlapping write result mismatch:\n got  %q\n want %q", got, want)
	}
}

func TestSpliceWriteSkipsUnchangedWindow(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()
	file := newTestFileInode(t, fsys)

	payload := bytes.Repeat([]byte("Z"), 4096)
	if err := fsys.spliceWrite(ctx, file.Ino, "/f", 0, payload); err != nil {
		t.Fatalf("spliceWrite (first): %v", err)
	}
	before, err := fsys.Store.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	firstChunkID := before.Manifest[0].ChunkID

	// Rewriting the exact same bytes should leave the manifest's chunk
	// id untouched, since the content hash of the rebuilt window is
	// identical.
	if err := fsys.spliceWrite(ctx, file.Ino, "/f", 0, payload); err != nil {
		t.Fatalf("spliceWrite (second): %v", err)
	}
	after, err := fsys.Store.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	if after.Manifest[0].ChunkID != firstChunkID {
		t.Fatal("expected the chunk id to be unchanged for an identical rewrite")
	}
}

func TestReadRangeZeroFillsSparseGap(t *testing.T) {
	fsys := newTestFilesystem(t, false)
	ctx := context.Background()
	file := newTestFileInode(t, fsys)

	if err := fsys.spliceWrite(ctx, file.Ino, "/f", 0, []byte("hi")); err != nil {
		t.Fatalf("spliceWrite: %v", err)
	}

	_, err := fsys.Store.UpdateInode(file.Ino, func(inode *metadatastore.Inode) error {
		truncateManifest(inode, 10, fsys)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateInode (grow): %v", err)
	}

	grown, err := fsys.Store.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}

	got, err := fsys.readRange(ctx, grown.Manifest, grown.Size, 0, 10)
	if err != nil {
		t.Fatalf("readRange: %v", err)
	}
	want := append([]byte("hi"), make([]byte, 8)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
