// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import (
	"testing"
	"time"

	"github.com/tgcryptfs/tgcryptfs/crypto"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	master, err := crypto.DeriveMaster([]byte("correct horse battery staple"), nil, crypto.DefaultKDFParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	t.Cleanup(func() { _ = master.Close() })
	key, err := master.MetadataKey()
	if err != nil {
		t.Fatalf("MetadataKey: %v", err)
	}
	return key
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), testKey(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func newFileInode(t *testing.T, s *Store) *Inode {
	t.Helper()
	ino, err := s.NewIno()
	if err != nil {
		t.Fatalf("NewIno: %v", err)
	}
	now := time.Now().UTC()
	return &Inode{Ino: ino, Kind: Regular, Mode: 0o644, Nlink: 1, Atime: now, Mtime: now, Ctime: now}
}

func TestOpenBootstrapsRoot(t *testing.T) {
	s := openTestStore(t)

	root, err := s.GetInode(RootIno)
	if err != nil {
		t.Fatalf("GetInode(root): %v", err)
	}
	if root.Kind != Directory {
		t.Fatalf("root kind = %v, want Directory", root.Kind)
	}
}

func TestInsertLookupGetInode(t *testing.T) {
	s := openTestStore(t)
	file := newFileInode(t, s)

	if err := s.InsertInode(RootIno, "hello.txt", file); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}

	ino, err := s.Lookup(RootIno, "hello.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ino != file.Ino {
		t.Fatalf("Lookup returned %d, want %d", ino, file.Ino)
	}

	got, err := s.GetInode(ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	if got.Mode != 0o644 {
		t.Fatalf("Mode = %o, want 0644", got.Mode)
	}

	root, err := s.GetInode(RootIno)
	if err != nil {
		t.Fatalf("GetInode(root): %v", err)
	}
	if root.Children["hello.txt"] != file.Ino {
		t.Fatalf("root children missing hello.txt -> %d", file.Ino)
	}
}

func TestInsertInodeRejectsDuplicateName(t *testing.T) {
	s := openTestStore(t)
	a := newFileInode(t, s)
	b := newFileInode(t, s)

	if err := s.InsertInode(RootIno, "dup", a); err != nil {
		t.Fatalf("first InsertInode: %v", err)
	}
	if err := s.InsertInode(RootIno, "dup", b); err == nil {
		t.Fatal("expected an error inserting a duplicate name")
	}
}

func TestUpdateInodeBumpsCtime(t *testing.T) {
	s := openTestStore(t)
	file := newFileInode(t, s)
	if err := s.InsertInode(RootIno, "f", file); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}

	before := file.Ctime
	time.Sleep(time.Millisecond)

	updated, err := s.UpdateInode(file.Ino, func(i *Inode) error {
		i.Size = 42
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateInode: %v", err)
	}
	if updated.Size != 42 {
		t.Fatalf("Size = %d, want 42", updated.Size)
	}
	if !updated.Ctime.After(before) {
		t.Fatal("expected Ctime to advance")
	}
}

func TestRemoveInodeRejectsNonEmptyDirectory(t *testing.T) {
	s := openTestStore(t)
	dirIno, err := s.NewIno()
	if err != nil {
		t.Fatalf("NewIno: %v", err)
	}
	now := time.Now().UTC()
	dir := &Inode{Ino: dirIno, Kind: Directory, Mode: 0o755, Nlink: 2, Atime: now, Mtime: now, Ctime: now}
	if err := s.InsertInode(RootIno, "d", dir); err != nil {
		t.Fatalf("InsertInode(dir): %v", err)
	}

	child := newFileInode(t, s)
	if err := s.InsertInode(dirIno, "c", child); err != nil {
		t.Fatalf("InsertInode(child): %v", err)
	}

	if _, _, err := s.RemoveInode(RootIno, "d"); err == nil {
		t.Fatal("expected removing a non-empty directory to fail")
	}

	if _, _, err := s.RemoveInode(dirIno, "c"); err != nil {
		t.Fatalf("RemoveInode(child): %v", err)
	}
	if _, nlink, err := s.RemoveInode(RootIno, "d"); err != nil {
		t.Fatalf("RemoveInode(dir) after emptying: %v", err)
	} else if nlink != 0 {
		t.Fatalf("nlink = %d, want 0", nlink)
	}
	if _, err := s.Lookup(RootIno, "d"); err == nil {
		t.Fatal("expected Lookup to fail after removal")
	}
}

func TestMoveEntryRelocatesAcrossDirectories(t *testing.T) {
	s := openTestStore(t)
	dirIno, err := s.NewIno()
	if err != nil {
		t.Fatalf("NewIno: %v", err)
	}
	now := time.Now().UTC()
	dir := &Inode{Ino: dirIno, Kind: Directory, Mode: 0o755, Nlink: 2, Atime: now, Mtime: now, Ctime: now}
	if err := s.InsertInode(RootIno, "dst", dir); err != nil {
		t.Fatalf("InsertInode(dir): %v", err)
	}

	file := newFileInode(t, s)
	if err := s.InsertInode(RootIno, "src.txt", file); err != nil {
		t.Fatalf("InsertInode(file): %v", err)
	}

	if err := s.MoveEntry(RootIno, "src.txt", dirIno, "dst.txt"); err != nil {
		t.Fatalf("MoveEntry: %v", err)
	}

	if _, err := s.Lookup(RootIno, "src.txt"); err == nil {
		t.Fatal("expected old name to be gone")
	}
	ino, err := s.Lookup(dirIno, "dst.txt")
	if err != nil {
		t.Fatalf("Lookup(new name): %v", err)
	}
	if ino != file.Ino {
		t.Fatalf("moved ino = %d, want %d", ino, file.Ino)
	}

	moved, err := s.GetInode(ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	if moved.ParentIno != dirIno {
		t.Fatalf("ParentIno = %d, want %d", moved.ParentIno, dirIno)
	}
}

func TestRefUnrefChunk(t *testing.T) {
	s := openTestStore(t)
	var id [32]byte
	id[0] = 0xAB

	if err := s.RefChunk(id, "ns1:chunk:ab"); err != nil {
		t.Fatalf("RefChunk: %v", err)
	}
	if err := s.RefChunk(id, "ns1:chunk:ab"); err != nil {
		t.Fatalf("RefChunk (second): %v", err)
	}
	if got := s.ChunkRefcount(id); got != 2 {
		t.Fatalf("refcount = %d, want 2", got)
	}

	zero, _, err := s.UnrefChunk(id)
	if err != nil {
		t.Fatalf("UnrefChunk: %v", err)
	}
	if zero {
		t.Fatal("expected refcount to still be nonzero after one unref")
	}

	zero, locator, err := s.UnrefChunk(id)
	if err != nil {
		t.Fatalf("UnrefChunk (final): %v", err)
	}
	if !zero {
		t.Fatal("expected refcount to reach zero")
	}
	if locator != "ns1:chunk:ab" {
		t.Fatalf("locator = %q, want ns1:chunk:ab", locator)
	}
}

func TestApplyMutationBatchRollsBackOnFailure(t *testing.T) {
	s := openTestStore(t)
	file := newFileInode(t, s)
	if err := s.InsertInode(RootIno, "batch.bin", file); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}

	var staleChunk [32]byte
	staleChunk[0] = 0x01
	_, err := s.ApplyMutationBatch(file.Ino, func(i *Inode) error {
		i.Size = 99
		return nil
	}, []ChunkDelta{{ChunkID: staleChunk, Ref: false}})
	if err == nil {
		t.Fatal("expected failure unref'ing a chunk that was never ref'd")
	}

	got, err := s.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	if got.Size != 0 {
		t.Fatalf("Size = %d, want 0 (mutation should not have been applied)", got.Size)
	}
}

func TestApplyMutationBatchEvictsZeroRefcountChunk(t *testing.T) {
	s := openTestStore(t)
	file := newFileInode(t, s)
	if err := s.InsertInode(RootIno, "f.bin", file); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}

	var oldChunk, newChunk [32]byte
	oldChunk[0] = 0x10
	newChunk[0] = 0x20
	if err := s.RefChunk(oldChunk, "ns1:chunk:10"); err != nil {
		t.Fatalf("RefChunk: %v", err)
	}

	evicted, err := s.ApplyMutationBatch(file.Ino, func(i *Inode) error {
		i.Manifest = []ChunkRef{{Offset: 0, Length: 4096, ChunkID: newChunk}}
		i.Size = 4096
		return nil
	}, []ChunkDelta{
		{ChunkID: newChunk, Locator: "ns1:chunk:20", Ref: true},
		{ChunkID: oldChunk, Ref: false},
	})
	if err != nil {
		t.Fatalf("ApplyMutationBatch: %v", err)
	}
	if len(evicted) != 1 || evicted[0].ChunkID != oldChunk {
		t.Fatalf("evicted = %+v, want exactly oldChunk", evicted)
	}
	if s.ChunkRefcount(newChunk) != 1 {
		t.Fatalf("newChunk refcount = %d, want 1", s.ChunkRefcount(newChunk))
	}
}

func TestSerializeAndReplaceInodeTableRoundTrip(t *testing.T) {
	s := openTestStore(t)
	file := newFileInode(t, s)
	if err := s.InsertInode(RootIno, "persisted.txt", file); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}
	var chunkID [32]byte
	chunkID[0] = 0x55
	if err := s.RefChunk(chunkID, "ns1:chunk:55"); err != nil {
		t.Fatalf("RefChunk: %v", err)
	}

	dump, err := s.SerializeInodeTable()
	if err != nil {
		t.Fatalf("SerializeInodeTable: %v", err)
	}

	replica, err := Open(t.TempDir(), testKey(t))
	if err != nil {
		t.Fatalf("Open(replica): %v", err)
	}
	if err := replica.ReplaceInodeTable(dump); err != nil {
		t.Fatalf("ReplaceInodeTable: %v", err)
	}

	ino, err := replica.Lookup(RootIno, "persisted.txt")
	if err != nil {
		t.Fatalf("Lookup on replica: %v", err)
	}
	if ino != file.Ino {
		t.Fatalf("replica ino = %d, want %d", ino, file.Ino)
	}
	if got := replica.ChunkRefcount(chunkID); got != 1 {
		t.Fatalf("replica chunk refcount = %d, want 1", got)
	}
}

func TestHotCacheReturnsIndependentCopies(t *testing.T) {
	s := openTestStore(t)
	file := newFileInode(t, s)
	if err := s.InsertInode(RootIno, "shared.txt", file); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}

	first, err := s.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	first.Size = 12345

	second, err := s.GetInode(file.Ino)
	if err != nil {
		t.Fatalf("GetInode: %v", err)
	}
	if second.Size == 12345 {
		t.Fatal("mutating a returned inode must not affect the cached copy")
	}
}
