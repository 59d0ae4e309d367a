// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"bytes"
	"fmt"
	"testing"
)

type fakeInodeTable struct {
	data []byte
}

func (f *fakeInodeTable) SerializeInodeTable() ([]byte, error) { return f.data, nil }
func (f *fakeInodeTable) ReplaceInodeTable(data []byte) error  { f.data = data; return nil }

type fakePublisher struct {
	snapshots map[string][]byte
	refs      []SnapshotRef
	nextID    int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{snapshots: make(map[string][]byte)}
}

func (p *fakePublisher) PublishSnapshot(version uint64, sealed []byte) (string, error) {
	p.nextID++
	locator := fmt.Sprintf("snap-%d", p.nextID)
	p.snapshots[locator] = sealed
	p.refs = append(p.refs, SnapshotRef{Locator: locator, Version: version})
	return locator, nil
}

func (p *fakePublisher) ListSnapshots() ([]SnapshotRef, error) { return p.refs, nil }

func (p *fakePublisher) FetchSnapshot(locator string) ([]byte, error) {
	return p.snapshots[locator], nil
}

func (p *fakePublisher) PruneSnapshots(keep int) error {
	if len(p.refs) <= keep {
		return nil
	}
	p.refs = p.refs[len(p.refs)-keep:]
	return nil
}

type identitySealer struct{}

func (identitySealer) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (identitySealer) Open(blob []byte) ([]byte, error)      { return blob, nil }

func TestMasterCycleReplicatesToReplica(t *testing.T) {
	masterTable := &fakeInodeTable{data: []byte("inode-table-v1")}
	publisher := newFakePublisher()

	master := NewMasterReplicaCoordinator(ReplicationConfig{Role: RoleMaster, SnapshotRetention: 3}, masterTable, publisher, identitySealer{})
	if err := master.RunMasterCycle(); err != nil {
		t.Fatalf("RunMasterCycle: %v", err)
	}

	replicaTable := &fakeInodeTable{}
	replica := NewMasterReplicaCoordinator(ReplicationConfig{Role: RoleReplica}, replicaTable, publisher, identitySealer{})
	if err := replica.RunReplicaCycle(); err != nil {
		t.Fatalf("RunReplicaCycle: %v", err)
	}

	if !bytes.Equal(replicaTable.data, masterTable.data) {
		t.Fatalf("replica table = %q, want %q", replicaTable.data, masterTable.data)
	}
	if replica.CurrentVersion() != master.CurrentVersion() {
		t.Fatal("replica version should match master version after sync")
	}
}

func TestReplicaCycleSkipsWhenNoNewerSnapshot(t *testing.T) {
	publisher := newFakePublisher()
	masterTable := &fakeInodeTable{data: []byte("v1")}
	master := NewMasterReplicaCoordinator(ReplicationConfig{Role: RoleMaster, SnapshotRetention: 3}, masterTable, publisher, identitySealer{})
	if err := master.RunMasterCycle(); err != nil {
		t.Fatalf("RunMasterCycle: %v", err)
	}

	replicaTable := &fakeInodeTable{}
	replica := NewMasterReplicaCoordinator(ReplicationConfig{Role: RoleReplica}, replicaTable, publisher, identitySealer{})
	if err := replica.RunReplicaCycle(); err != nil {
		t.Fatalf("RunReplicaCycle: %v", err)
	}
	firstVersion := replica.CurrentVersion()

	if err := replica.RunReplicaCycle(); err != nil {
		t.Fatalf("second RunReplicaCycle: %v", err)
	}
	if replica.CurrentVersion() != firstVersion {
		t.Fatal("version must not change when no newer snapshot is published")
	}
}

func TestReplicaRejectsWrites(t *testing.T) {
	replica := NewMasterReplicaCoordinator(ReplicationConfig{Role: RoleReplica}, &fakeInodeTable{}, newFakePublisher(), identitySealer{})
	if err := replica.AuthorizeWrite(); err == nil {
		t.Fatal("replica must reject writes")
	}
}

func TestMasterCyclePrunesOldSnapshots(t *testing.T) {
	publisher := newFakePublisher()
	masterTable := &fakeInodeTable{data: []byte("v")}
	master := NewMasterReplicaCoordinator(ReplicationConfig{Role: RoleMaster, SnapshotRetention: 2}, masterTable, publisher, identitySealer{})

	for i := 0; i < 5; i++ {
		if err := master.RunMasterCycle(); err != nil {
			t.Fatalf("RunMasterCycle: %v", err)
		}
	}

	if len(publisher.refs) != 2 {
		t.Fatalf("got %d retained snapshots, want 2", len(publisher.refs))
	}
}
