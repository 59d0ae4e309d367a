// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot implements local, user-requested point-in-time
// captures of a namespace's metadata tree, per §4.8:
// create_snapshot freezes the current inode map as shallow references
// to existing content-addressed chunks (no chunk copying);
// restore_snapshot atomically replaces the live tree and reinstates
// the chunk refcount table captured with the snapshot.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/internal/codec"
	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Snapshotter is the subset of metadatastore.Store a snapshot needs:
// a plaintext dump of the inode table to freeze, and the ability to
// atomically replace the live tree when restoring one.
type Snapshotter interface {
	SerializeInodeTable() ([]byte, error)
	ReplaceInodeTable(data []byte) error
}

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Info is a snapshot's metadata, without its (potentially large) body.
type Info struct {
	Name        string
	ID          uuid.UUID
	CreatedAt   time.Time
	Description string
}

type indexEntry struct {
	ID          uuid.UUID `cbor:"id"`
	CreatedAt   time.Time `cbor:"created_at"`
	Description string    `cbor:"description,omitempty"`
}

// envelope is the plaintext structure sealed as one snapshot's on-disk
// blob: the zstd-compressed inode table dump plus enough metadata to
// make the blob self-describing if the index is ever lost.
type envelope struct {
	ID          uuid.UUID `cbor:"id"`
	Name        string    `cbor:"name"`
	CreatedAt   time.Time `cbor:"created_at"`
	Description string    `cbor:"description,omitempty"`
	Body        []byte    `cbor:"body"`
}

// Store manages a namespace's local snapshot catalog on disk, per
// §4.8 and §6's "snapshots/" persistent state directory.
type Store struct {
	dir           string
	metadataStore Snapshotter
	namespaceKey  []byte

	mu    sync.Mutex
	index map[string]indexEntry
}

const indexAAD = "snapshot-index-v1"

// Open loads (or initializes) the snapshot catalog under dir, sealing
// every blob with namespaceKey — the namespace-scoped key §4.6
// derives via crypto.MasterKey.NamespaceKey, the same key
// distributed/replication.go uses for master-replica snapshot blobs.
func Open(dir string, metadataStore Snapshotter, namespaceKey []byte) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: creating %s: %w", dir, err)
	}
	s := &Store{dir: dir, metadataStore: metadataStore, namespaceKey: namespaceKey, index: make(map[string]indexEntry)}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.sealed") }

func (s *Store) blobPath(name string) string {
	return filepath.Join(s.dir, nameSanitizer.ReplaceAllString(name, "_")+".snapshot")
}

func (s *Store) loadIndex() error {
	sealed, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot: reading index: %w", err)
	}
	plaintext, err := crypto.Open(s.namespaceKey, []byte(indexAAD), sealed)
	if err != nil {
		return coreerr.Wrap(coreerr.IntegrityFailure, "snapshot: opening index", err)
	}
	var entries map[string]indexEntry
	if err := codec.Unmarshal(plaintext, &entries); err != nil {
		return fmt.Errorf("snapshot: decoding index: %w", err)
	}
	s.index = entries
	return nil
}

func (s *Store) saveIndexLocked() error {
	encoded, err := codec.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("snapshot: encoding index: %w", err)
	}
	sealed, err := crypto.Seal(s.namespaceKey, []byte(indexAAD), encoded)
	if err != nil {
		return fmt.Errorf("snapshot: sealing index: %w", err)
	}
	return writeAtomic(s.indexPath(), sealed)
}

// Create freezes the current inode map under name, per §4.8: the
// resulting blob references existing content-addressed chunks
// shallowly, so no chunk body is copied or re-uploaded.
func (s *Store) Create(name, description string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[name]; exists {
		return Info{}, coreerr.New(coreerr.AlreadyExists, "snapshot: name already in use: "+name)
	}

	dump, err := s.metadataStore.SerializeInodeTable()
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: serializing inode table: %w", err)
	}
	compressed, err := compressZstd(dump)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: compressing inode table: %w", err)
	}

	id := uuid.New()
	now := time.Now().UTC()
	env := envelope{ID: id, Name: name, CreatedAt: now, Description: description, Body: compressed}

	encoded, err := codec.Marshal(env)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: encoding snapshot: %w", err)
	}
	sealed, err := crypto.Seal(s.namespaceKey, []byte(name), encoded)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: sealing snapshot: %w", err)
	}
	if err := writeAtomic(s.blobPath(name), sealed); err != nil {
		return Info{}, fmt.Errorf("snapshot: writing snapshot: %w", err)
	}

	s.index[name] = indexEntry{ID: id, CreatedAt: now, Description: description}
	if err := s.saveIndexLocked(); err != nil {
		delete(s.index, name)
		_ = os.Remove(s.blobPath(name))
		return Info{}, err
	}

	return Info{Name: name, ID: id, CreatedAt: now, Description: description}, nil
}

// List returns every snapshot's metadata, most recently created
// first.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.index))
	for name, entry := range s.index {
		out = append(out, Info{Name: name, ID: entry.ID, CreatedAt: entry.CreatedAt, Description: entry.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Restore atomically replaces the live metadata tree with the named
// snapshot's frozen state, per §4.8. metadatastore.Store's own
// ReplaceInodeTable reinstates the chunk refcount table captured with
// the snapshot; refcounts are not recomputed from the restored
// manifests, and chunks referenced only by the replaced tree drop out
// of the table without their backend bodies being deleted.
func (s *Store) Restore(name string) error {
	s.mu.Lock()
	if _, exists := s.index[name]; !exists {
		s.mu.Unlock()
		return coreerr.New(coreerr.NotFound, "snapshot: no such snapshot: "+name)
	}
	s.mu.Unlock()

	sealed, err := os.ReadFile(s.blobPath(name))
	if err != nil {
		return fmt.Errorf("snapshot: reading %s: %w", name, err)
	}

	plaintext, err := crypto.Open(s.namespaceKey, []byte(name), sealed)
	if err != nil {
		return coreerr.Wrap(coreerr.IntegrityFailure, "snapshot: opening "+name, err)
	}
	var env envelope
	if err := codec.Unmarshal(plaintext, &env); err != nil {
		return fmt.Errorf("snapshot: decoding %s: %w", name, err)
	}

	dump, err := decompressZstd(env.Body)
	if err != nil {
		return fmt.Errorf("snapshot: decompressing %s: %w", name, err)
	}
	if err := s.metadataStore.ReplaceInodeTable(dump); err != nil {
		return fmt.Errorf("snapshot: replacing inode table from %s: %w", name, err)
	}
	return nil
}

// Delete removes a snapshot from the catalog and its backing blob.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[name]; !exists {
		return coreerr.New(coreerr.NotFound, "snapshot: no such snapshot: "+name)
	}
	delete(s.index, name)
	if err := s.saveIndexLocked(); err != nil {
		return err
	}
	_ = os.Remove(s.blobPath(name))
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
