// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for tgcryptfs.
//
// Configuration is loaded from a single file specified by:
//   - TGCRYPTFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConflictResolution names the strategy used to settle concurrent
// operations in a distributed namespace, per §6.
type ConflictResolution string

const (
	LastWriteWins ConflictResolution = "last-write-wins"
	Manual        ConflictResolution = "manual"
	Merge         ConflictResolution = "merge"
)

// DistributionMode selects how a namespace propagates mutations
// across machines, per §6: "distribution.mode".
type DistributionMode string

const (
	Standalone   DistributionMode = "standalone"
	MasterReplica DistributionMode = "master-replica"
	Distributed  DistributionMode = "distributed"
)

// Role is this machine's part in a master-replica namespace.
type Role string

const (
	RoleMaster  Role = "master"
	RoleReplica Role = "replica"
)

// Config is the full configuration surface enumerated in §6.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Chunk        ChunkConfig        `yaml:"chunk"`
	Encryption   EncryptionConfig   `yaml:"encryption"`
	Cache        CacheConfig        `yaml:"cache"`
	Versioning   VersioningConfig   `yaml:"versioning"`
	Distribution DistributionConfig `yaml:"distribution"`
	Namespaces   []NamespaceConfig  `yaml:"namespaces"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
}

// ChunkConfig configures chunking and compression, per §6.
type ChunkConfig struct {
	ChunkSize          int64 `yaml:"chunk_size"`
	CompressionEnabled bool  `yaml:"compression_enabled"`
	DedupEnabled       bool  `yaml:"dedup_enabled"`
}

// EncryptionConfig tunes the Argon2-family password KDF, per §4.1.
type EncryptionConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// CacheConfig configures the disk-backed chunk cache, per §4.4.
type CacheConfig struct {
	MaxSize        int64 `yaml:"max_size"`
	PrefetchEnabled bool  `yaml:"prefetch_enabled"`
	PrefetchCount  int   `yaml:"prefetch_count"`
}

// VersioningConfig configures how many historical chunk versions a
// manifest may retain.
type VersioningConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxVersions int  `yaml:"max_versions"`
}

// DistributionConfig selects the propagation mode and its parameters.
type DistributionConfig struct {
	Mode          DistributionMode    `yaml:"mode"`
	MasterReplica MasterReplicaConfig `yaml:"master_replica"`
	Distributed   DistributedConfig   `yaml:"distributed"`
}

// MasterReplicaConfig configures master-replica snapshot replication,
// per §4.7 and §6.
type MasterReplicaConfig struct {
	Role              Role   `yaml:"role"`
	MasterID          string `yaml:"master_id"`
	SyncIntervalSecs  int    `yaml:"sync_interval_secs"`
	SnapshotRetention int    `yaml:"snapshot_retention"`
}

// DistributedConfig configures multi-writer CRDT synchronization.
type DistributedConfig struct {
	SyncIntervalMS            int                `yaml:"sync_interval_ms"`
	ConflictResolution        ConflictResolution `yaml:"conflict_resolution"`
	OperationLogRetentionHours int               `yaml:"operation_log_retention_hours"`
	Members                   []DistributedMember `yaml:"members,omitempty"`
}

// DistributedMember identifies one peer machine participating in a
// distributed namespace's sync cycle, and the Ed25519 public key
// (hex-encoded, since YAML has no native binary type) used to verify
// operations it uploads.
type DistributedMember struct {
	MachineID string `yaml:"machine_id"`
	PublicKey string `yaml:"public_key"`
}

// NamespaceConfig is one entry of the `namespaces[*]` list, per §6.
type NamespaceConfig struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	MountPoint string   `yaml:"mount_point"`
	Cluster    string   `yaml:"cluster,omitempty"`
	Master     string   `yaml:"master,omitempty"`
	// Access lists ACL rules as "<subject>:<permissions>:<path_pattern>"
	// entries, parsed by distributed.ParseACLRules, per §4.6.
	Access []string `yaml:"access,omitempty"`
	// Groups maps a group name to the machine ids that belong to it,
	// resolved for the "group:<name>" subject kind ACL rules reference.
	Groups map[string][]string `yaml:"groups,omitempty"`
}

// RateLimitConfig configures backend concurrency and throughput
// limits, per §5's "Rate limiting" (defaults: 3 concurrent uploads, 5
// concurrent downloads).
type RateLimitConfig struct {
	MaxConcurrentUploads   int     `yaml:"max_concurrent_uploads"`
	MaxConcurrentDownloads int     `yaml:"max_concurrent_downloads"`
	UploadBytesPerSecond   float64 `yaml:"upload_bytes_per_second"`
	DownloadBytesPerSecond float64 `yaml:"download_bytes_per_second"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		DataDir: "${HOME}/.local/share/tgcryptfs",
		Chunk: ChunkConfig{
			ChunkSize:          52_428_800,
			CompressionEnabled: true,
			DedupEnabled:       true,
		},
		Encryption: EncryptionConfig{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: 4,
		},
		Cache: CacheConfig{
			MaxSize:         1 << 30,
			PrefetchEnabled: true,
			PrefetchCount:   4,
		},
		Versioning: VersioningConfig{
			Enabled:     false,
			MaxVersions: 1,
		},
		Distribution: DistributionConfig{
			Mode: Standalone,
			MasterReplica: MasterReplicaConfig{
				SyncIntervalSecs:  60,
				SnapshotRetention: 5,
			},
			Distributed: DistributedConfig{
				SyncIntervalMS:             1000,
				ConflictResolution:         LastWriteWins,
				OperationLogRetentionHours: 168,
			},
		},
		RateLimit: RateLimitConfig{
			MaxConcurrentUploads:   3,
			MaxConcurrentDownloads: 5,
		},
	}
}

// Load loads configuration from the TGCRYPTFS_CONFIG environment
// variable. This is the only way to load configuration without an
// explicit path.
func Load() (*Config, error) {
	path := os.Getenv("TGCRYPTFS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: TGCRYPTFS_CONFIG not set; set it to the path of your config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applying
// ${VAR} and ${VAR:-default} environment substitution before parsing.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := expandVars(string(raw))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars performs environment substitution. Unresolved variables
// are left as literal text, per §6: "unresolved variables remain as
// literal text (not fatal)."
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if defaultValue != "" {
			return defaultValue
		}
		return match
	})
}
