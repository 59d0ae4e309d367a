// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package distributed implements machine identity, vector clocks, the
// CRDT operation log with causal merge, and master-replica
// replication described in §§4.6-4.7.
package distributed

import (
	"github.com/google/uuid"
)

// VectorClock maps machine id to logical timestamp, per §3. The zero
// value is a valid empty clock.
type VectorClock struct {
	clocks map[uuid.UUID]uint64
}

// NewVectorClock returns a new empty vector clock.
func NewVectorClock() *VectorClock {
	return &VectorClock{clocks: make(map[uuid.UUID]uint64)}
}

// Clone returns a deep copy.
func (v *VectorClock) Clone() *VectorClock {
	out := NewVectorClock()
	for k, val := range v.clocks {
		out.clocks[k] = val
	}
	return out
}

// Increment bumps the logical timestamp for machineID. Called on
// local events.
func (v *VectorClock) Increment(machineID uuid.UUID) {
	if v.clocks == nil {
		v.clocks = make(map[uuid.UUID]uint64)
	}
	v.clocks[machineID]++
}

// Get returns the timestamp for machineID, or 0 if untracked.
func (v *VectorClock) Get(machineID uuid.UUID) uint64 {
	if v.clocks == nil {
		return 0
	}
	return v.clocks[machineID]
}

// Set assigns the timestamp for machineID.
func (v *VectorClock) Set(machineID uuid.UUID, timestamp uint64) {
	if v.clocks == nil {
		v.clocks = make(map[uuid.UUID]uint64)
	}
	v.clocks[machineID] = timestamp
}

// Merge merges other into v by taking the componentwise maximum, per
// §3: "Merge: componentwise max."
func (v *VectorClock) Merge(other *VectorClock) {
	if v.clocks == nil {
		v.clocks = make(map[uuid.UUID]uint64)
	}
	for machineID, timestamp := range other.clocks {
		if timestamp > v.clocks[machineID] {
			v.clocks[machineID] = timestamp
		}
	}
}

// Merged returns a new clock that is the result of merging v and
// other, leaving both unchanged.
func (v *VectorClock) Merged(other *VectorClock) *VectorClock {
	result := v.Clone()
	result.Merge(other)
	return result
}

// Equal reports whether v and other track identical timestamps for
// every machine either tracks.
func (v *VectorClock) Equal(other *VectorClock) bool {
	for _, m := range v.allMachines(other) {
		if v.Get(m) != other.Get(m) {
			return false
		}
	}
	return true
}

// LessOrEqual reports whether v <= other: for every machine m,
// v[m] <= other[m]. Per §3: "a <= b iff for-all k: a[k] <= b[k]".
func (v *VectorClock) LessOrEqual(other *VectorClock) bool {
	for _, m := range v.allMachines(other) {
		if v.Get(m) > other.Get(m) {
			return false
		}
	}
	return true
}

// HappenedBefore reports whether v happened causally before other:
// v <= other and v != other, per §3's "a < b iff a<=b and a!=b".
func (v *VectorClock) HappenedBefore(other *VectorClock) bool {
	return v.LessOrEqual(other) && !v.Equal(other)
}

// HappenedAfter reports whether v happened causally after other.
func (v *VectorClock) HappenedAfter(other *VectorClock) bool {
	return other.HappenedBefore(v)
}

// Concurrent reports whether v and other are concurrent: neither
// happened before the other, and they are not equal. Per §3: "a || b
// (concurrent) iff neither a<=b nor b<=a".
func (v *VectorClock) Concurrent(other *VectorClock) bool {
	return !v.LessOrEqual(other) && !other.LessOrEqual(v)
}

// ClockOrdering is the relationship between two vector clocks.
type ClockOrdering int

const (
	Equal ClockOrdering = iota
	Before
	After
	ConcurrentOrdering
)

// Compare returns the ordering relationship of v to other.
func (v *VectorClock) Compare(other *VectorClock) ClockOrdering {
	switch {
	case v.Equal(other):
		return Equal
	case v.HappenedBefore(other):
		return Before
	case v.HappenedAfter(other):
		return After
	default:
		return ConcurrentOrdering
	}
}

// Machines returns every machine id tracked by v. Pairwise comparisons
// use allMachines, which combines the ids of two clocks.
func (v *VectorClock) Machines() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(v.clocks))
	for m := range v.clocks {
		out = append(out, m)
	}
	return out
}

// IsEmpty reports whether the clock tracks no machines.
func (v *VectorClock) IsEmpty() bool { return len(v.clocks) == 0 }

func (v *VectorClock) allMachines(other *VectorClock) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(v.clocks)+len(other.clocks))
	for m := range v.clocks {
		seen[m] = struct{}{}
	}
	for m := range other.clocks {
		seen[m] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	return out
}

// clockSnapshot is the CBOR-serializable wire form of a VectorClock: a
// sorted slice of (machine_id, timestamp) pairs, so Core Deterministic
// Encoding produces identical bytes for identical logical clocks
// regardless of Go's randomized map iteration order.
type clockSnapshot []clockEntry

type clockEntry struct {
	MachineID uuid.UUID `cbor:"machine_id"`
	Timestamp uint64    `cbor:"timestamp"`
}

// toSnapshot returns v's entries in a deterministic
// (sorted-by-machine-id) order.
func (v *VectorClock) toSnapshot() clockSnapshot {
	entries := make(clockSnapshot, 0, len(v.clocks))
	for m, ts := range v.clocks {
		entries = append(entries, clockEntry{MachineID: m, Timestamp: ts})
	}
	sortClockEntries(entries)
	return entries
}

func sortClockEntries(entries clockSnapshot) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && lessUUID(entries[j].MachineID, entries[j-1].MachineID); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func fromSnapshot(entries clockSnapshot) *VectorClock {
	v := NewVectorClock()
	for _, e := range entries {
		v.clocks[e.MachineID] = e.Timestamp
	}
	return v
}
