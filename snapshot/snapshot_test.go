// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"testing"
	"time"

	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/metadatastore"
)

func testNamespaceKey(t *testing.T) []byte {
	t.Helper()
	master, err := crypto.DeriveMaster([]byte("correct horse battery staple"), nil, crypto.DefaultKDFParams())
	if err != nil {
		t.Fatalf("DeriveMaster: %v", err)
	}
	t.Cleanup(func() { _ = master.Close() })
	key, err := master.NamespaceKey("test-namespace")
	if err != nil {
		t.Fatalf("NamespaceKey: %v", err)
	}
	return key
}

func testMetadataStore(t *testing.T) *metadatastore.Store {
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
	store, err := metadatastore.Open(t.TempDir(), key)
	if err != nil {
		t.Fatalf("metadatastore.Open: %v", err)
	}
	return store
}

func TestCreateThenListRecordsSnapshot(t *testing.T) {
	meta := testMetadataStore(t)
	store, err := Open(t.TempDir(), meta, testNamespaceKey(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := store.Create("before-deploy", "pre-deployment checkpoint"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list := store.List()
	if len(list) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(list))
	}
	if list[0].Name != "before-deploy" {
		t.Fatalf("Name = %q, want before-deploy", list[0].Name)
	}
	if list[0].Description != "pre-deployment checkpoint" {
		t.Fatalf("Description = %q", list[0].Description)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	meta := testMetadataStore(t)
	store, err := Open(t.TempDir(), meta, testNamespaceKey(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := store.Create("snap1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create("snap1", ""); err == nil {
		t.Fatal("expected an error creating a duplicate snapshot name")
	}
}

func TestRestoreReplacesLiveTree(t *testing.T) {
	meta := testMetadataStore(t)
	store, err := Open(t.TempDir(), meta, testNamespaceKey(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ino, err := meta.NewIno()
	if err != nil {
		t.Fatalf("NewIno: %v", err)
	}
	now := time.Now().UTC()
	if err := meta.InsertInode(metadatastore.RootIno, "keep.txt", &metadatastore.Inode{
		Ino: ino, Kind: metadatastore.Regular, Mode: 0o644, Nlink: 1, Atime: now, Mtime: now, Ctime: now,
	}); err != nil {
		t.Fatalf("InsertInode: %v", err)
	}

	if _, err := store.Create("checkpoint", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	extraIno, err := meta.NewIno()
	if err != nil {
		t.Fatalf("NewIno: %v", err)
	}
	if err := meta.InsertInode(metadatastore.RootIno, "after-checkpoint.txt", &metadatastore.Inode{
		Ino: extraIno, Kind: metadatastore.Regular, Mode: 0o644, Nlink: 1, Atime: now, Mtime: now, Ctime: now,
	}); err != nil {
		t.Fatalf("InsertInode (extra): %v", err)
	}

	if err := store.Restore("checkpoint"); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := meta.Lookup(metadatastore.RootIno, "keep.txt"); err != nil {
		t.Fatalf("Lookup(keep.txt) after restore: %v", err)
	}
	if _, err := meta.Lookup(metadatastore.RootIno, "after-checkpoint.txt"); err == nil {
		t.Fatal("expected after-checkpoint.txt to be gone after restoring an earlier snapshot")
	}
}

func TestRestoreUnknownNameFails(t *testing.T) {
	meta := testMetadataStore(t)
	store, err := Open(t.TempDir(), meta, testNamespaceKey(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Restore("does-not-exist"); err == nil {
		t.Fatal("expected Restore of an unknown snapshot to fail")
	}
}

func TestDeleteRemovesFromCatalog(t *testing.T) {
	meta := testMetadataStore(t)
	store, err := Open(t.TempDir(), meta, testNamespaceKey(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Create("transient", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete("transient"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(store.List()) != 0 {
		t.Fatal("expected the catalog to be empty after Delete")
	}
	if err := store.Restore("transient"); err == nil {
		t.Fatal("expected Restore to fail after Delete")
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadataStore(t)
	key := testNamespaceKey(t)

	store1, err := Open(dir, meta, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store1.Create("persisted", "survives reopen"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	store2, err := Open(dir, meta, key)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list := store2.List()
	if len(list) != 1 || list[0].Name != "persisted" {
		t.Fatalf("List after reopen = %+v", list)
	}
}
