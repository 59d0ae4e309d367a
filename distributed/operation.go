// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"time"

	"github.com/google/uuid"
)

// OpKind tags the variant of a CRDT operation, per §3: "Tagged
// record: Create | Write | Delete | Move | SetAttr".
type OpKind int

const (
	OpCreate OpKind = iota
	OpWrite
	OpDelete
	OpMove
	OpSetAttr
	OpLink
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "Create"
	case OpWrite:
		return "Write"
	case OpDelete:
		return "Delete"
	case OpMove:
		return "Move"
	case OpSetAttr:
		return "SetAttr"
	case OpLink:
		return "Link"
	default:
		return "Unknown"
	}
}

// FileKind mirrors the tagged Regular/Directory/Symlink variant from
// §9's polymorphism note.
type FileKind int

const (
	KindRegular FileKind = iota
	KindDirectory
	KindSymlink
)

// InitialAttrs carries the subset of Inode attributes needed to
// materialize a new entry from a Create operation.
type InitialAttrs struct {
	Mode uint32 `cbor:"mode"`
	UID  uint32 `cbor:"uid"`
	GID  uint32 `cbor:"gid"`
}

// Operation is a signed CRDT record describing one filesystem
// mutation and its causal context, per §3 and §4.7. Exactly one of
// the per-kind payload fields is populated, selected by Kind — the
// tagged-variant approach the teacher and spec.md both use in place
// of subtype inheritance (§9).
type Operation struct {
	OpID        uuid.UUID     `cbor:"op_id"`
	Kind        OpKind        `cbor:"kind"`
	MachineID   uuid.UUID     `cbor:"machine_id"`
	VectorClock *VectorClock  `cbor:"vector_clock"`
	Timestamp   time.Time     `cbor:"timestamp"`
	Signature   []byte        `cbor:"signature,omitempty"`

	// Create
	ParentPath     string       `cbor:"parent_path,omitempty"`
	Name           string       `cbor:"name,omitempty"`
	FileType       FileKind     `cbor:"file_type,omitempty"`
	InitialAttrs   InitialAttrs `cbor:"initial_attrs,omitempty"`
	SymlinkTarget  string       `cbor:"symlink_target,omitempty"`

	// Write
	Path     string `cbor:"path,omitempty"`
	Offset   uint64 `cbor:"offset,omitempty"`
	DataHash string `cbor:"data_hash,omitempty"`
	Length   uint64 `cbor:"length,omitempty"`

	// Delete
	TombstoneTime time.Time `cbor:"tombstone_time,omitempty"`

	// Move
	OldPath string `cbor:"old_path,omitempty"`
	NewPath string `cbor:"new_path,omitempty"`

	// SetAttr
	Attrs InitialAttrs `cbor:"attrs,omitempty"`

	// Link
	TargetPath string `cbor:"target_path,omitempty"`
}

// AffectedPath returns the path this operation targets, used for
// conflict detection and application. For Create it is the composed
// parent_path/name; for Move it is old_path (the source).
func (op *Operation) AffectedPath() string {
	switch op.Kind {
	case OpCreate, OpLink:
		return joinPath(op.ParentPath, op.Name)
	case OpWrite, OpDelete, OpSetAttr:
		return op.Path
	case OpMove:
		return op.OldPath
	default:
		return ""
	}
}

func joinPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

// canonicalPayload returns a copy of the operation with its Signature
// field cleared; callers encode that copy to get the bytes that are
// signed and verified (§3: "signature over the canonical
// serialization").
func (op *Operation) canonicalPayload() (*Operation, error) {
	clone := *op
	clone.Signature = nil
	return &clone, nil
}
