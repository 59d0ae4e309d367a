// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/internal/codec"
	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Store is the authoritative local encrypted index for one
// namespace. All reads and writes funnel through mu: writers take an
// exclusive lock, readers may proceed in parallel, per §4.3's
// "Concurrency" contract.
type Store struct {
	dir         string
	metadataKey []byte

	mu       sync.RWMutex
	hotCache *hotInodeCache
	byParent map[parentNameKey]uint64
	chunks   map[[32]byte]chunkEntry
	metaKV   map[string][]byte
	nextIno  uint64
}

type parentNameKey struct {
	parent uint64
	name   string
}

type chunkEntry struct {
	Locator  string `cbor:"locator"`
	Refcount uint64 `cbor:"refcount"`
}

// Open opens or initializes the metadata store rooted at dir, sealing
// every record with metadataKey (derived by the caller via
// crypto.MasterKey.MetadataKey, per §4.1).
func Open(dir string, metadataKey []byte) (*Store, error) {
	for _, sub := range []string{"inodes", "by_parent_name", "chunks", "meta"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("metadatastore: creating %s: %w", sub, err)
		}
	}

	s := &Store{
		dir:         dir,
		metadataKey: metadataKey,
		hotCache:    newHotInodeCache(256),
		byParent:    make(map[parentNameKey]uint64),
		chunks:      make(map[[32]byte]chunkEntry),
		metaKV:      make(map[string][]byte),
	}

	if err := s.loadIndexes(); err != nil {
		return nil, err
	}

	if _, err := s.readInodeLocked(RootIno); err != nil {
		if err := s.bootstrapRoot(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) bootstrapRoot() error {
	now := time.Now().UTC()
	root := newRootInode(now, 0o755)
	if err := s.writeInodeLocked(root); err != nil {
		return err
	}
	s.nextIno = RootIno + 1
	return s.saveNextIno()
}

// seal/open wrap crypto.Seal/crypto.Open bound to the store's
// metadata key, with the inode or sub-store identifier as AAD, per
// §4.3: "sealed(Inode, metadata_key, aad=ino)".
func (s *Store) seal(aad, plaintext []byte) ([]byte, error) {
	return crypto.Seal(s.metadataKey, aad, plaintext)
}

func (s *Store) open(aad, blob []byte) ([]byte, error) {
	return crypto.Open(s.metadataKey, aad, blob)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func shardOf(id uint64) string {
	return fmt.Sprintf("%02x", id%256)
}

func inodeAAD(ino uint64) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, ino)
	return aad
}

func (s *Store) inodePath(ino uint64) string {
	return filepath.Join(s.dir, "inodes", shardOf(ino), fmt.Sprintf("%d.sealed", ino))
}

// readInodeLocked loads an inode from disk, bypassing the hot cache.
// Callers must hold at least a read lock.
func (s *Store) readInodeLocked(ino uint64) (*Inode, error) {
	blob, err := os.ReadFile(s.inodePath(ino))
	if os.IsNotExist(err) {
		return nil, coreerr.New(coreerr.NotFound, "metadatastore: inode not found")
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: reading inode %d: %w", ino, err)
	}

	plaintext, err := s.open(inodeAAD(ino), blob)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.IntegrityFailure, "metadatastore: opening inode", err)
	}

	var inode Inode
	if err := codec.Unmarshal(plaintext, &inode); err != nil {
		return nil, fmt.Errorf("metadatastore: decoding inode %d: %w", ino, err)
	}
	return &inode, nil
}

// writeInodeLocked persists inode to disk and invalidates any stale
// hot-cache entry. Callers must hold the exclusive lock.
func (s *Store) writeInodeLocked(inode *Inode) error {
	plaintext, err := codec.Marshal(inode)
	if err != nil {
		return fmt.Errorf("metadatastore: encoding inode %d: %w", inode.Ino, err)
	}
	blob, err := s.seal(inodeAAD(inode.Ino), plaintext)
	if err != nil {
		return fmt.Errorf("metadatastore: sealing inode %d: %w", inode.Ino, err)
	}

	path := s.inodePath(inode.Ino)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("metadatastore: creating shard directory: %w", err)
	}
	if err := writeAtomic(path, blob); err != nil {
		return fmt.Errorf("metadatastore: writing inode %d: %w", inode.Ino, err)
	}

	s.hotCache.put(inode.Ino, inode)
	return nil
}

// Close releases any resources held by the store. It is a no-op
// today since every write is flushed synchronously; it exists so
// callers can treat Store like the other lifecycle-managed
// components (cache.Cache, internal/backend.Disk).
func (s *Store) Close() error { return nil }

func (s *Store) deleteInodeLocked(ino uint64) error {
	s.hotCache.remove(ino)
	if err := os.Remove(s.inodePath(ino)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("metadatastore: deleting inode %d: %w", ino, err)
	}
	return nil
}
