// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import (
	"fmt"
	"time"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Lookup resolves a directory entry to its inode number, per §4.3's
// by_parent_name operation.
func (s *Store) Lookup(parentIno uint64, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ino, ok := s.byParent[parentNameKey{parent: parentIno, name: name}]
	if !ok {
		return 0, coreerr.New(coreerr.NotFound, fmt.Sprintf("metadatastore: %q not found in directory %d", name, parentIno))
	}
	return ino, nil
}

// GetInode loads an inode by number, consulting the hot cache first.
// This always takes the exclusive lock: touching the hot cache
// reorders its LRU list, which an RLock-held reader cannot safely do
// concurrently with another reader.
func (s *Store) GetInode(ino uint64) (*Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.hotCache.get(ino); ok {
		return cloneInode(cached), nil
	}
	inode, err := s.readInodeLocked(ino)
	if err != nil {
		return nil, err
	}
	s.hotCache.put(ino, inode)
	return cloneInode(inode), nil
}

// NewIno allocates the next free inode number.
func (s *Store) NewIno() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ino := s.nextIno
	s.nextIno++
	if err := s.saveNextIno(); err != nil {
		s.nextIno = ino
		return 0, err
	}
	return ino, nil
}

// InsertInode creates inode as a new entry named name inside
// parentIno's directory, atomically updating the parent's child list
// and the by_parent_name index. It fails with AlreadyExists if the
// name is already taken, per §3's "unique names within a directory"
// invariant.
func (s *Store) InsertInode(parentIno uint64, name string, inode *Inode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := parentNameKey{parent: parentIno, name: name}
	if _, exists := s.byParent[key]; exists {
		return coreerr.New(coreerr.AlreadyExists, fmt.Sprintf("metadatastore: %q already exists in directory %d", name, parentIno))
	}

	parent, err := s.readInodeLocked(parentIno)
	if err != nil {
		return err
	}
	if parent.Kind != Directory {
		return coreerr.New(coreerr.NotADirectory, fmt.Sprintf("metadatastore: parent %d is not a directory", parentIno))
	}

	inode.ParentIno = parentIno
	now := time.Now().UTC()
	if inode.Ctime.IsZero() {
		inode.Ctime = now
	}

	if parent.Children == nil {
		parent.Children = make(map[string]uint64)
	}
	parent.Children[name] = inode.Ino
	parent.Mtime = now
	parent.Ctime = now
	if inode.Kind == Directory {
		parent.Nlink++
	}

	if err := s.writeInodeLocked(inode); err != nil {
		return err
	}
	if err := s.writeInodeLocked(parent); err != nil {
		return err
	}

	s.byParent[key] = inode.Ino
	if err := s.saveByParentIndexLocked(); err != nil {
		return err
	}
	return nil
}

// UpdateInode loads ino, applies mutate, bumps ctime, and persists the
// result. mutate returning an error leaves the stored inode untouched.
func (s *Store) UpdateInode(ino uint64, mutate func(*Inode) error) (*Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inode, err := s.readInodeLocked(ino)
	if err != nil {
		return nil, err
	}
	if err := mutate(inode); err != nil {
		return nil, err
	}
	inode.Ctime = time.Now().UTC()

	if err := s.writeInodeLocked(inode); err != nil {
		return nil, err
	}
	return cloneInode(inode), nil
}

// RemoveInode unlinks the directory entry named name inside
// parentIno's directory and decrements the target inode's own link
// count; a removed directory's count drops straight to zero, since its
// own "." entry goes with it. Directories must be empty, matching POSIX
// rmdir semantics.
// It does not delete the inode itself: per §3's "removed when the
// last directory entry and all open handles drop" lifecycle, the
// caller reclaims it (via ReclaimInode) only once the returned nlink
// is zero and no handle still has it open.
func (s *Store) RemoveInode(parentIno uint64, name string) (ino uint64, nlink uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := parentNameKey{parent: parentIno, name: name}
	targetIno, ok := s.byParent[key]
	if !ok {
		return 0, 0, coreerr.New(coreerr.NotFound, fmt.Sprintf("metadatastore: %q not found in directory %d", name, parentIno))
	}

	target, err := s.readInodeLocked(targetIno)
	if err != nil {
		return 0, 0, err
	}
	if target.Kind == Directory && len(target.Children) > 0 {
		return 0, 0, coreerr.New(coreerr.NotEmpty, fmt.Sprintf("metadatastore: directory %d is not empty", targetIno))
	}

	parent, err := s.readInodeLocked(parentIno)
	if err != nil {
		return 0, 0, err
	}
	delete(parent.Children, name)
	parent.Mtime = time.Now().UTC()
	parent.Ctime = parent.Mtime
	if target.Kind == Directory {
		parent.Nlink--
	}

	if target.Kind == Directory {
		target.Nlink = 0
	} else if target.Nlink > 0 {
		target.Nlink--
	}
	target.Ctime = time.Now().UTC()

	if err := s.writeInodeLocked(target); err != nil {
		return 0, 0, err
	}
	if err := s.writeInodeLocked(parent); err != nil {
		return 0, 0, err
	}

	delete(s.byParent, key)
	if err := s.saveByParentIndexLocked(); err != nil {
		return 0, 0, err
	}
	return targetIno, target.Nlink, nil
}

// ReclaimInode deletes the sealed inode file for ino from disk.
// Callers must have already verified nlink==0 and that no open
// handle references ino, per §4.3's remove_inode contract; this
// method performs neither check itself.
func (s *Store) ReclaimInode(ino uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteInodeLocked(ino)
}

// InsertLink adds a new directory entry named name inside parentIno's
// directory that points at the existing inode targetIno, incrementing
// its link count — POSIX hardlink semantics: a new name for an
// existing inode rather than a new inode, per
// original_source/src/metadata/hardlinks.rs's create_link contract.
func (s *Store) InsertLink(parentIno uint64, name string, targetIno uint64) (*Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := parentNameKey{parent: parentIno, name: name}
	if _, exists := s.byParent[key]; exists {
		return nil, coreerr.New(coreerr.AlreadyExists, fmt.Sprintf("metadatastore: %q already exists in directory %d", name, parentIno))
	}

	parent, err := s.readInodeLocked(parentIno)
	if err != nil {
		return nil, err
	}
	if parent.Kind != Directory {
		return nil, coreerr.New(coreerr.NotADirectory, fmt.Sprintf("metadatastore: parent %d is not a directory", parentIno))
	}

	target, err := s.readInodeLocked(targetIno)
	if err != nil {
		return nil, err
	}
	if target.Kind == Directory {
		return nil, coreerr.New(coreerr.InvalidArgument, "metadatastore: cannot hard link a directory")
	}

	now := time.Now().UTC()
	target.Nlink++
	target.Ctime = now

	if parent.Children == nil {
		parent.Children = make(map[string]uint64)
	}
	parent.Children[name] = targetIno
	parent.Mtime = now
	parent.Ctime = now

	if err := s.writeInodeLocked(target); err != nil {
		return nil, err
	}
	if err := s.writeInodeLocked(parent); err != nil {
		return nil, err
	}

	s.byParent[key] = targetIno
	if err := s.saveByParentIndexLocked(); err != nil {
		return nil, err
	}
	return cloneInode(target), nil
}

// MoveEntry atomically relocates a directory entry, used by rename.
// The caller is responsible for POSIX overwrite semantics (removing
// any existing entry at the destination) before calling MoveEntry.
func (s *Store) MoveEntry(oldParent uint64, oldName string, newParent uint64, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey := parentNameKey{parent: oldParent, name: oldName}
	ino, ok := s.byParent[oldKey]
	if !ok {
		return coreerr.New(coreerr.NotFound, fmt.Sprintf("metadatastore: %q not found in directory %d", oldName, oldParent))
	}
	newKey := parentNameKey{parent: newParent, name: newName}
	if _, exists := s.byParent[newKey]; exists {
		return coreerr.New(coreerr.AlreadyExists, fmt.Sprintf("metadatastore: %q already exists in directory %d", newName, newParent))
	}

	inode, err := s.readInodeLocked(ino)
	if err != nil {
		return err
	}
	fromDir, err := s.readInodeLocked(oldParent)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	delete(fromDir.Children, oldName)
	fromDir.Mtime = now
	fromDir.Ctime = now

	toDir := fromDir
	if newParent != oldParent {
		toDir, err = s.readInodeLocked(newParent)
		if err != nil {
			return err
		}
		if toDir.Kind != Directory {
			return coreerr.New(coreerr.NotADirectory, fmt.Sprintf("metadatastore: destination %d is not a directory", newParent))
		}
		toDir.Mtime = now
		toDir.Ctime = now
	}
	if toDir.Children == nil {
		toDir.Children = make(map[string]uint64)
	}
	toDir.Children[newName] = ino

	inode.ParentIno = newParent
	inode.Ctime = now

	if err := s.writeInodeLocked(inode); err != nil {
		return err
	}
	if err := s.writeInodeLocked(fromDir); err != nil {
		return err
	}
	if newParent != oldParent {
		if err := s.writeInodeLocked(toDir); err != nil {
			return err
		}
	}

	delete(s.byParent, oldKey)
	s.byParent[newKey] = ino
	return s.saveByParentIndexLocked()
}

// RefChunk records a reference to chunkID at locator, creating the
// entry with refcount 1 if this is the first reference, incrementing
// otherwise.
func (s *Store) RefChunk(chunkID [32]byte, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.chunks[chunkID]
	if !ok {
		entry = chunkEntry{Locator: locator, Refcount: 0}
	}
	entry.Refcount++
	s.chunks[chunkID] = entry
	return s.saveChunksIndexLocked()
}

// UnrefChunk decrements chunkID's refcount. When the count reaches
// zero the entry is removed and zero is reported true; the caller is
// then responsible for deleting the chunk body from the backend.
func (s *Store) UnrefChunk(chunkID [32]byte) (zero bool, locator string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.chunks[chunkID]
	if !ok {
		return false, "", coreerr.New(coreerr.NotFound, "metadatastore: chunk not referenced")
	}
	entry.Refcount--
	if entry.Refcount == 0 {
		delete(s.chunks, chunkID)
		if err := s.saveChunksIndexLocked(); err != nil {
			return false, "", err
		}
		return true, entry.Locator, nil
	}
	s.chunks[chunkID] = entry
	if err := s.saveChunksIndexLocked(); err != nil {
		return false, "", err
	}
	return false, "", nil
}

// ChunkRefcount reports the current refcount for chunkID, or zero if
// the chunk is not referenced.
func (s *Store) ChunkRefcount(chunkID [32]byte) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks[chunkID].Refcount
}

// ChunkLocator reports the remote locator already on record for
// chunkID, if any. The write path uses this to skip re-uploading a
// chunk this namespace has already stored once, per §4.2's
// dedup-probe step.
func (s *Store) ChunkLocator(chunkID [32]byte) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.chunks[chunkID]
	return entry.Locator, ok
}

func cloneInode(inode *Inode) *Inode {
	c := *inode
	if inode.Manifest != nil {
		c.Manifest = append([]ChunkRef(nil), inode.Manifest...)
	}
	if inode.Children != nil {
		c.Children = make(map[string]uint64, len(inode.Children))
		for k, v := range inode.Children {
			c.Children[k] = v
		}
	}
	if inode.Xattrs != nil {
		c.Xattrs = make(map[string][]byte, len(inode.Xattrs))
		for k, v := range inode.Xattrs {
			c.Xattrs[k] = append([]byte(nil), v...)
		}
	}
	return &c
}
