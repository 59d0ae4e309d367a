// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadatastore implements the authoritative local encrypted
// index per namespace, per §4.3: sealed inode records, a
// parent/name lookup index, content-addressed chunk refcounts, and a
// small sealed key-value store, all funneled through a single
// reader-writer discipline.
package metadatastore

import "time"

// Kind tags the type of filesystem entry an Inode represents.
type Kind int

const (
	Regular Kind = iota
	Directory
	Symlink
)

// ChunkRef is one entry in a file's manifest: the chunk occupying
// byte range [Offset, Offset+Length) of the file's contents.
type ChunkRef struct {
	Offset   uint64   `cbor:"offset"`
	Length   uint64   `cbor:"length"`
	ChunkID  [32]byte `cbor:"chunk_id"`
}

// Inode is the authoritative record for one filesystem entry, per
// §3's inode shape and §4.3's sealed-inode sub-store.
type Inode struct {
	Ino       uint64            `cbor:"ino"`
	Kind      Kind              `cbor:"kind"`
	Mode      uint32            `cbor:"mode"`
	UID       uint32            `cbor:"uid"`
	GID       uint32            `cbor:"gid"`
	Size      uint64            `cbor:"size"`
	Nlink     uint32            `cbor:"nlink"`
	Version   uint64            `cbor:"version"`
	Atime     time.Time         `cbor:"atime"`
	Mtime     time.Time         `cbor:"mtime"`
	Ctime     time.Time         `cbor:"ctime"`
	ParentIno uint64            `cbor:"parent_ino"`

	// Manifest covers [0, Size) for regular files, except that a
	// truncate which grows the file adds no entry for the new range;
	// byte ranges without an entry read as zeros.
	Manifest []ChunkRef `cbor:"manifest,omitempty"`

	// Children maps entry name to ino for directories.
	Children map[string]uint64 `cbor:"children,omitempty"`

	SymlinkTarget string            `cbor:"symlink_target,omitempty"`
	Xattrs        map[string][]byte `cbor:"xattrs,omitempty"`
}

// MaxXattrTotalSize bounds the combined size of an inode's extended
// attributes, per §4.5: "size-bounded."
const MaxXattrTotalSize = 16 * 1024

// RootIno is the well-known inode number of the namespace root, per
// §3: "Root inode (ino=1) exists for every namespace."
const RootIno uint64 = 1

func newRootInode(now time.Time, mode uint32) *Inode {
	return &Inode{
		Ino:      RootIno,
		Kind:     Directory,
		Mode:     mode,
		Nlink:    2,
		Atime:    now,
		Mtime:    now,
		Ctime:    now,
		Children: make(map[string]uint64),
	}
}
