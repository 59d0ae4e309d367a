// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Role is a namespace's part in master-replica replication, per
// §6: "distribution.master_replica.{role ∈ {master, replica}, ...}".
type Role int

const (
	RoleMaster Role = iota
	RoleReplica
)

// ReplicationConfig holds the master-replica settings for one
// namespace, per §6.
type ReplicationConfig struct {
	Role              Role
	MasterID          uuid.UUID
	SyncIntervalSecs  int
	SnapshotRetention int
}

// InodeTableSnapshotter is implemented by the metadata store: it can
// serialize its full inode table into a single blob and, on the
// replica side, atomically replace its live tree with one decoded
// from a received blob, per §4.7's "Master-replica mode".
type InodeTableSnapshotter interface {
	SerializeInodeTable() ([]byte, error)
	ReplaceInodeTable(data []byte) error
}

// SnapshotRef identifies one published master-replica snapshot blob
// by its monotonically increasing version, the vector-clock-like
// counter from §4.7 ("snapshot_version").
type SnapshotRef struct {
	Locator string
	Version uint64
}

// SnapshotPublisher is implemented by the remote backend adapter: it
// stores and retrieves sealed snapshot blobs under the namespace's
// snapshot prefix.
type SnapshotPublisher interface {
	PublishSnapshot(version uint64, sealed []byte) (locator string, err error)
	ListSnapshots() ([]SnapshotRef, error)
	FetchSnapshot(locator string) ([]byte, error)
	PruneSnapshots(keep int) error
}

// Sealer seals and opens snapshot bytes with the namespace metadata
// key; satisfied by crypto.Seal/crypto.Open bound to a specific key.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(blob []byte) ([]byte, error)
}

// MasterReplicaCoordinator drives the periodic snapshot cycle for one
// namespace configured for master-replica distribution.
type MasterReplicaCoordinator struct {
	config    ReplicationConfig
	table     InodeTableSnapshotter
	publisher SnapshotPublisher
	sealer    Sealer
	version   uint64
}

// NewMasterReplicaCoordinator returns a coordinator for the given
// role, table, publisher and sealer.
func NewMasterReplicaCoordinator(config ReplicationConfig, table InodeTableSnapshotter, publisher SnapshotPublisher, sealer Sealer) *MasterReplicaCoordinator {
	return &MasterReplicaCoordinator{config: config, table: table, publisher: publisher, sealer: sealer}
}

// IsReplica reports whether this coordinator's namespace is a
// replica, meaning all write operations must be rejected.
func (c *MasterReplicaCoordinator) IsReplica() bool { return c.config.Role == RoleReplica }

// AuthorizeWrite returns a ReadOnly error if this namespace is a
// replica, per §4.7: "they reject all write operations with a
// read-only error."
func (c *MasterReplicaCoordinator) AuthorizeWrite() error {
	if c.IsReplica() {
		return coreerr.New(coreerr.ReadOnly, "replica namespace rejects writes")
	}
	return nil
}

// CurrentVersion returns the locally known snapshot version.
func (c *MasterReplicaCoordinator) CurrentVersion() uint64 { return c.version }

// RunMasterCycle serializes the full inode table, seals it, publishes
// it under a new version, and prunes old snapshots beyond the
// configured retention, per §4.7's master-side sync step.
func (c *MasterReplicaCoordinator) RunMasterCycle() error {
	if c.config.Role != RoleMaster {
		return fmt.Errorf("distributed: RunMasterCycle called on a non-master namespace")
	}

	plaintext, err := c.table.SerializeInodeTable()
	if err != nil {
		return fmt.Errorf("distributed: serializing inode table: %w", err)
	}
	sealed, err := c.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("distributed: sealing snapshot: %w", err)
	}

	c.version++
	if _, err := c.publisher.PublishSnapshot(c.version, sealed); err != nil {
		return fmt.Errorf("distributed: publishing snapshot: %w", err)
	}

	retention := c.config.SnapshotRetention
	if retention <= 0 {
		retention = 1
	}
	if err := c.publisher.PruneSnapshots(retention); err != nil {
		return fmt.Errorf("distributed: pruning snapshots: %w", err)
	}
	return nil
}

// RunReplicaCycle polls for the newest published snapshot; if its
// version exceeds the locally known version, it is fetched, opened
// and atomically swapped in, per §4.7's replica-side sync step.
func (c *MasterReplicaCoordinator) RunReplicaCycle() error {
	if c.config.Role != RoleReplica {
		return fmt.Errorf("distributed: RunReplicaCycle called on a non-replica namespace")
	}

	refs, err := c.publisher.ListSnapshots()
	if err != nil {
		return fmt.Errorf("distributed: listing snapshots: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Version > refs[j].Version })
	if len(refs) == 0 || refs[0].Version <= c.version {
		return nil
	}
	newest := refs[0]

	sealed, err := c.publisher.FetchSnapshot(newest.Locator)
	if err != nil {
		return fmt.Errorf("distributed: fetching snapshot: %w", err)
	}
	plaintext, err := c.sealer.Open(sealed)
	if err != nil {
		return coreerr.Wrap(coreerr.IntegrityFailure, "distributed: opening snapshot", err)
	}
	if err := c.table.ReplaceInodeTable(plaintext); err != nil {
		return fmt.Errorf("distributed: replacing inode table: %w", err)
	}

	c.version = newest.Version
	return nil
}
