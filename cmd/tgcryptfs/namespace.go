// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tgcryptfs/tgcryptfs/cache"
	"github.com/tgcryptfs/tgcryptfs/config"
	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/distributed"
	"github.com/tgcryptfs/tgcryptfs/fs"
	"github.com/tgcryptfs/tgcryptfs/internal/backend"
	"github.com/tgcryptfs/tgcryptfs/metadatastore"
	"github.com/tgcryptfs/tgcryptfs/snapshot"
)

const saltFile = "salt"

// namespaceHandle bundles every collaborator a namespace's commands
// share, opened once and torn down together.
type namespaceHandle struct {
	cfg       *config.Config
	nsConfig  config.NamespaceConfig
	dir       string
	master    *crypto.MasterKey
	metaStore *metadatastore.Store
	cache     *cache.Cache
	backend   backend.Backend
	crdt      *distributed.CrdtSync
	identity  *distributed.MachineIdentity
	syncLoop  *distributed.SyncLoop
	acl       []distributed.ACLRule
	groups    map[string][]uuid.UUID
	logger    *slog.Logger
}

func (h *namespaceHandle) Close() {
	if h.cache != nil {
		_ = h.cache.Close()
	}
	if h.master != nil {
		_ = h.master.Close()
	}
}

// namespaceDir returns the per-namespace state directory under the
// configured data_dir, per §6's "data_dir" layout.
func namespaceDir(cfg *config.Config, name string) string {
	return filepath.Join(cfg.DataDir, "namespaces", name)
}

func findNamespace(cfg *config.Config, name string) (config.NamespaceConfig, error) {
	for _, ns := range cfg.Namespaces {
		if ns.Name == name {
			return ns, nil
		}
	}
	return config.NamespaceConfig{}, fmt.Errorf("no namespace %q in configuration", name)
}

// loadConfig resolves a config.Config from --config, falling back to
// TGCRYPTFS_CONFIG, matching config.Load's documented precedence.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// openNamespace derives the master key from password and the
// namespace's persisted salt, then opens the metadata store, cache,
// backend, and (in distributed mode) the CRDT sync. Every
// tgcryptfs command that touches a namespace's data goes through
// this, so they all see the same wiring mount does.
func openNamespace(cfg *config.Config, name string, password []byte) (*namespaceHandle, error) {
	nsConfig, err := findNamespace(cfg, name)
	if err != nil {
		return nil, err
	}
	dir := namespaceDir(cfg, name)

	salt, err := os.ReadFile(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, fmt.Errorf("namespace %q is not initialized (run \"tgcryptfs init\" first): %w", name, err)
	}

	master, err := crypto.DeriveMaster(password, salt, crypto.KDFParams{
		MemoryKiB:   cfg.Encryption.MemoryKiB,
		Iterations:  cfg.Encryption.Iterations,
		Parallelism: cfg.Encryption.Parallelism,
	})
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}

	metaKey, err := master.MetadataKey()
	if err != nil {
		_ = master.Close()
		return nil, err
	}
	metaStore, err := metadatastore.Open(filepath.Join(dir, "metadata"), metaKey)
	if err != nil {
		_ = master.Close()
		return nil, err
	}

	chunkCache, err := cache.Open(filepath.Join(dir, "cache"), cfg.Cache.MaxSize, cfg.Cache.MaxSize)
	if err != nil {
		_ = master.Close()
		return nil, err
	}

	diskBackend, err := backend.NewDisk(filepath.Join(dir, "blobs"))
	if err != nil {
		_ = chunkCache.Close()
		_ = master.Close()
		return nil, err
	}
	limited := backend.NewRateLimited(diskBackend, backend.RateLimitOptions{
		MaxConcurrentUploads:   cfg.RateLimit.MaxConcurrentUploads,
		MaxConcurrentDownloads: cfg.RateLimit.MaxConcurrentDownloads,
		UploadBytesPerSecond:   cfg.RateLimit.UploadBytesPerSecond,
		DownloadBytesPerSecond: cfg.RateLimit.DownloadBytesPerSecond,
	})

	identity, err := distributed.LoadOrGenerateIdentity(filepath.Join(dir, "identity"), name)
	if err != nil {
		_ = chunkCache.Close()
		_ = master.Close()
		return nil, err
	}

	acl, err := distributed.ParseACLRules(nsConfig.Access)
	if err != nil {
		_ = chunkCache.Close()
		_ = master.Close()
		return nil, err
	}
	groups := make(map[string][]uuid.UUID, len(nsConfig.Groups))
	for group, members := range nsConfig.Groups {
		for _, member := range members {
			id, err := uuid.Parse(member)
			if err != nil {
				_ = chunkCache.Close()
				_ = master.Close()
				return nil, fmt.Errorf("namespace %q: group %q: invalid machine id %q: %w", name, group, member, err)
			}
			groups[group] = append(groups[group], id)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var crdt *distributed.CrdtSync
	var syncLoop *distributed.SyncLoop
	if cfg.Distribution.Mode == config.Distributed {
		crdt = distributed.NewCrdtSync(identity, strategyFor(cfg.Distribution.Distributed.ConflictResolution))
		peers, err := peerDirectoryFor(cfg.Distribution.Distributed.Members)
		if err != nil {
			_ = chunkCache.Close()
			_ = master.Close()
			return nil, err
		}
		syncLoop = distributed.NewSyncLoop(crdt, limited, name, peers, logger)
	}

	return &namespaceHandle{
		cfg:       cfg,
		nsConfig:  nsConfig,
		dir:       dir,
		master:    master,
		metaStore: metaStore,
		cache:     chunkCache,
		backend:   limited,
		crdt:      crdt,
		identity:  identity,
		syncLoop:  syncLoop,
		acl:       acl,
		groups:    groups,
		logger:    logger,
	}, nil
}

// peerDirectoryFor decodes a distributed namespace's configured member
// list into a lookup from machine id to Ed25519 public key, used to
// verify operations a peer uploads during a sync cycle.
func peerDirectoryFor(members []config.DistributedMember) (distributed.StaticPeerDirectory, error) {
	dir := make(distributed.StaticPeerDirectory, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member.MachineID)
		if err != nil {
			return nil, fmt.Errorf("member %q: invalid machine id: %w", member.MachineID, err)
		}
		key, err := hex.DecodeString(member.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("member %q: invalid public key: %w", member.MachineID, err)
		}
		dir[id] = key
	}
	return dir, nil
}

func strategyFor(mode config.ConflictResolution) distributed.ConflictResolutionStrategy {
	switch mode {
	case config.Manual:
		return distributed.Manual
	case config.Merge:
		return distributed.Merge
	default:
		return distributed.LastWriteWins
	}
}

func (h *namespaceHandle) filesystem() *fs.Filesystem {
	return fs.New(fs.Options{
		Namespace:          h.nsConfig.Name,
		Store:              h.metaStore,
		Cache:              h.cache,
		Backend:            h.backend,
		MasterKey:          h.master,
		Crdt:               h.crdt,
		ChunkSize:          int(h.cfg.Chunk.ChunkSize),
		CompressionEnabled: h.cfg.Chunk.CompressionEnabled,
		ACL:                h.acl,
		Groups:             h.groups,
		Requester:          distributed.MachineSubject(h.identity.MachineID),
		Logger:             h.logger,
		PrefetchEnabled:    h.cfg.Cache.PrefetchEnabled,
		PrefetchCount:      h.cfg.Cache.PrefetchCount,
	})
}

func (h *namespaceHandle) snapshotStore() (*snapshot.Store, error) {
	namespaceKey, err := h.master.NamespaceKey(h.nsConfig.Name)
	if err != nil {
		return nil, err
	}
	return snapshot.Open(filepath.Join(h.dir, "snapshots"), h.metaStore, namespaceKey)
}
