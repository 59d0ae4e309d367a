// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tgcryptfs/tgcryptfs/internal/codec"
)

// SignOperation computes op's signature over its canonical CBOR
// encoding with Signature cleared, and stores the result on op.
func SignOperation(identity *MachineIdentity, op *Operation) error {
	payload, err := op.canonicalPayload()
	if err != nil {
		return err
	}
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("distributed: encoding operation for signing: %w", err)
	}
	op.Signature = identity.Sign(encoded)
	return nil
}

// VerifyOperation checks op's signature against publicKey.
func VerifyOperation(publicKey []byte, op *Operation) bool {
	payload, err := op.canonicalPayload()
	if err != nil {
		return false
	}
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return false
	}
	return Verify(publicKey, encoded, op.Signature)
}

// OperationLog is the append-only, causally ordered record of every
// operation this machine has originated or accepted, per §4.7's
// "operation_log" component.
type OperationLog struct {
	operations []*Operation
	index      map[uuid.UUID]int
}

// NewOperationLog returns an empty operation log.
func NewOperationLog() *OperationLog {
	return &OperationLog{index: make(map[uuid.UUID]int)}
}

// Append adds op to the log. Appending an operation whose OpID is
// already present is a no-op, since the log must be idempotent under
// replay.
func (l *OperationLog) Append(op *Operation) {
	if _, exists := l.index[op.OpID]; exists {
		return
	}
	l.index[op.OpID] = len(l.operations)
	l.operations = append(l.operations, op)
}

// Get returns the operation with the given id, if present.
func (l *OperationLog) Get(opID uuid.UUID) (*Operation, bool) {
	idx, ok := l.index[opID]
	if !ok {
		return nil, false
	}
	return l.operations[idx], true
}

// Contains reports whether opID has already been recorded.
func (l *OperationLog) Contains(opID uuid.UUID) bool {
	_, ok := l.index[opID]
	return ok
}

// All returns every operation in append order.
func (l *OperationLog) All() []*Operation {
	return l.operations
}

// OperationsAfter returns every logged operation not already reflected
// in since, i.e. those a peer whose clock is since has not seen yet.
func (l *OperationLog) OperationsAfter(since *VectorClock) []*Operation {
	var out []*Operation
	for _, op := range l.operations {
		if !op.VectorClock.LessOrEqual(since) {
			out = append(out, op)
		}
	}
	return out
}

// Len returns the number of operations recorded.
func (l *OperationLog) Len() int { return len(l.operations) }

// ConflictKind identifies which pair of concurrent operation kinds
// produced a conflict.
type ConflictKind int

const (
	ConflictCreateCreate ConflictKind = iota
	ConflictWriteWrite
	ConflictDeleteDelete
	ConflictCreateDelete
	ConflictDeleteCreate
	ConflictMoveMove
	ConflictSetAttrSetAttr
	ConflictLinkLink
)

// Conflict pairs two concurrent operations that touch the same path.
type Conflict struct {
	Kind  ConflictKind
	Local *Operation
	Remote *Operation
}

// ConflictDetector decides whether two operations are in conflict:
// they must be concurrent (per the vector clock) and address the same
// path, per §4.7: "conflict iff concurrent and same path."
type ConflictDetector struct{}

// NewConflictDetector returns a ConflictDetector.
func NewConflictDetector() *ConflictDetector { return &ConflictDetector{} }

// Detect reports the conflict between local and remote, if any.
func (d *ConflictDetector) Detect(local, remote *Operation) (*Conflict, bool) {
	if !local.VectorClock.Concurrent(remote.VectorClock) {
		return nil, false
	}
	if local.AffectedPath() != remote.AffectedPath() {
		return nil, false
	}

	kind, ok := conflictKindFor(local.Kind, remote.Kind)
	if !ok {
		return nil, false
	}
	return &Conflict{Kind: kind, Local: local, Remote: remote}, true
}

func conflictKindFor(local, remote OpKind) (ConflictKind, bool) {
	switch {
	case local == OpCreate && remote == OpCreate:
		return ConflictCreateCreate, true
	case local == OpWrite && remote == OpWrite:
		return ConflictWriteWrite, true
	case local == OpDelete && remote == OpDelete:
		return ConflictDeleteDelete, true
	case local == OpCreate && remote == OpDelete:
		return ConflictCreateDelete, true
	case local == OpDelete && remote == OpCreate:
		return ConflictDeleteCreate, true
	case local == OpMove && remote == OpMove:
		return ConflictMoveMove, true
	case local == OpSetAttr && remote == OpSetAttr:
		return ConflictSetAttrSetAttr, true
	case local == OpLink && remote == OpLink:
		return ConflictLinkLink, true
	default:
		return 0, false
	}
}

// ConflictResolutionStrategy selects how ConflictResolver settles a
// detected conflict, per §4.7's "resolution: last_write_wins | manual
// | merge (configurable)".
type ConflictResolutionStrategy int

const (
	LastWriteWins ConflictResolutionStrategy = iota
	Manual
	Merge
)

// ResolutionKind tags the outcome of resolving a conflict.
type ResolutionKind int

const (
	ResolutionWinner ResolutionKind = iota
	ResolutionMerged
	ResolutionManual
)

// ResolutionResult is the outcome of resolving a Conflict.
type ResolutionResult struct {
	Kind   ResolutionKind
	Winner *Operation
	// Both holds both operations when Kind is ResolutionMerged, and
	// the operation requiring a rename when a Create/Create conflict
	// is resolved by keeping both under distinct names.
	Both []*Operation
	// RenameSuffix is set when the loser of a Create/Create conflict
	// must be materialized under "name.conflict-<op_id>" instead of
	// being discarded, per §4.7's create/create resolution rule.
	RenameSuffix string
}

// ConflictResolver applies a ConflictResolutionStrategy to a detected
// Conflict, grounded on the resolve/resolve_lww/resolve_merge dispatch
// used for the equivalent, non-filesystem-specific operation log.
type ConflictResolver struct {
	strategy ConflictResolutionStrategy
}

// NewConflictResolver returns a resolver using strategy.
func NewConflictResolver(strategy ConflictResolutionStrategy) *ConflictResolver {
	return &ConflictResolver{strategy: strategy}
}

// Resolve settles c. Create/Create, Move/Move and Create/Delete
// conflicts follow the fixed rule in §4.7's "Operation semantics"
// regardless of the configured strategy; only Write/Write,
// SetAttr/SetAttr and Delete/Delete conflicts are strategy-dependent.
func (r *ConflictResolver) Resolve(c *Conflict) ResolutionResult {
	switch c.Kind {
	case ConflictCreateCreate, ConflictMoveMove, ConflictLinkLink:
		return r.resolveByOpID(c)
	case ConflictCreateDelete:
		return ResolutionResult{Kind: ResolutionWinner, Winner: c.Remote}
	case ConflictDeleteCreate:
		return ResolutionResult{Kind: ResolutionWinner, Winner: c.Local}
	}

	if r.strategy == Manual {
		return ResolutionResult{Kind: ResolutionManual}
	}
	if r.strategy == Merge {
		if result, ok := r.resolveMerge(c); ok {
			return result
		}
	}
	return r.resolveLWW(c)
}

// resolveByOpID keeps the operation with the lexicographically
// smallest op_id and, for Create/Create, renames the loser's subtree
// to "name.conflict-<op_id>" instead of discarding it, per §4.7's
// create-conflict rule ("keep the one with lexicographically smallest
// op_id; the loser's subtree ... renamed to name.conflict-<op_id>").
func (r *ConflictResolver) resolveByOpID(c *Conflict) ResolutionResult {
	winner, loser := c.Local, c.Remote
	if lessUUID(c.Remote.OpID, c.Local.OpID) {
		winner, loser = c.Remote, c.Local
	}

	result := ResolutionResult{Kind: ResolutionWinner, Winner: winner}
	if c.Kind == ConflictCreateCreate {
		result.RenameSuffix = "conflict-" + loser.OpID.String()
		result.Both = []*Operation{winner, loser}
	}
	return result
}

func (r *ConflictResolver) resolveLWW(c *Conflict) ResolutionResult {
	winner := c.Local
	switch {
	case c.Remote.Timestamp.After(c.Local.Timestamp):
		winner = c.Remote
	case c.Remote.Timestamp.Equal(c.Local.Timestamp) && lessUUID(c.Local.MachineID, c.Remote.MachineID):
		winner = c.Remote
	}
	return ResolutionResult{Kind: ResolutionWinner, Winner: winner}
}

// resolveMerge implements the "merge" strategy for operation kinds
// that admit a non-destructive merge: concurrent writes and setattrs
// keep both effects (the write path is responsible for interleaving
// non-overlapping byte ranges; overlapping ranges fall back to LWW at
// the caller per §9's open-question default), and delete/delete is
// naturally idempotent.
func (r *ConflictResolver) resolveMerge(c *Conflict) (ResolutionResult, bool) {
	switch c.Kind {
	case ConflictWriteWrite, ConflictSetAttrSetAttr:
		return ResolutionResult{Kind: ResolutionMerged, Both: []*Operation{c.Local, c.Remote}}, true
	case ConflictDeleteDelete:
		return ResolutionResult{Kind: ResolutionWinner, Winner: c.Local}, true
	default:
		return ResolutionResult{}, false
	}
}

// CrdtSync coordinates one machine's participation in multi-writer
// synchronization: it originates signed operations, tracks which
// remote operations have already been applied, and merges incoming
// batches while resolving conflicts, per §4.7.
type CrdtSync struct {
	identity    *MachineIdentity
	vectorClock *VectorClock
	log         *OperationLog
	applied     map[uuid.UUID]struct{}
	pending     []*Operation
	resolver    *ConflictResolver
}

// NewCrdtSync returns a CrdtSync for identity using the given
// conflict resolution strategy.
func NewCrdtSync(identity *MachineIdentity, strategy ConflictResolutionStrategy) *CrdtSync {
	return &CrdtSync{
		identity:    identity,
		vectorClock: NewVectorClock(),
		log:         NewOperationLog(),
		applied:     make(map[uuid.UUID]struct{}),
		resolver:    NewConflictResolver(strategy),
	}
}

// VectorClock returns the sync's current local vector clock.
func (s *CrdtSync) VectorClock() *VectorClock { return s.vectorClock.Clone() }

// Log returns the underlying operation log.
func (s *CrdtSync) Log() *OperationLog { return s.log }

// RecordOperation stamps op with this machine's id, an incremented
// vector clock, and a signature, then appends it to the log and the
// pending-upload queue.
func (s *CrdtSync) RecordOperation(op *Operation) error {
	if op.OpID == uuid.Nil {
		op.OpID = uuid.New()
	}
	op.MachineID = s.identity.MachineID
	s.vectorClock.Increment(s.identity.MachineID)
	op.VectorClock = s.vectorClock.Clone()

	if err := SignOperation(s.identity, op); err != nil {
		return err
	}

	s.log.Append(op)
	s.applied[op.OpID] = struct{}{}
	s.pending = append(s.pending, op)
	return nil
}

// PendingOperations returns operations recorded locally but not yet
// confirmed uploaded.
func (s *CrdtSync) PendingOperations() []*Operation {
	return s.pending
}

// MarkUploaded removes the given operation ids from the pending queue
// once a caller has confirmed they reached the remote backend.
func (s *CrdtSync) MarkUploaded(opIDs []uuid.UUID) {
	if len(opIDs) == 0 {
		return
	}
	uploaded := make(map[uuid.UUID]struct{}, len(opIDs))
	for _, id := range opIDs {
		uploaded[id] = struct{}{}
	}
	remaining := s.pending[:0]
	for _, op := range s.pending {
		if _, done := uploaded[op.OpID]; !done {
			remaining = append(remaining, op)
		}
	}
	s.pending = remaining
}

// MergeOutcome describes what happened when merging one remote
// operation.
type MergeOutcome struct {
	Operation  *Operation
	Applied    bool
	Conflict   *Conflict
	Resolution *ResolutionResult
}

// causallyAdmissible reports whether op is safe to apply against
// local, per §4.7's admission rule: for every machine m op's clock
// knows about, op.vc[m] must not exceed local.vc[m] plus one more if m
// is op's own originating machine. This is what keeps a sync cycle
// from applying an operation whose causal predecessors haven't been
// merged yet.
func causallyAdmissible(local *VectorClock, op *Operation) bool {
	for _, m := range op.VectorClock.Machines() {
		allowed := local.Get(m)
		if m == op.MachineID {
			allowed++
		}
		if op.VectorClock.Get(m) > allowed {
			return false
		}
	}
	return true
}

// sortOperationsCanonically orders ops by (machine_id, op_id), the
// deterministic tiebreak §4.7 requires so that every replica applying
// the same admissible batch converges on the same order.
func sortOperationsCanonically(ops []*Operation) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.MachineID != b.MachineID {
			return lessUUID(a.MachineID, b.MachineID)
		}
		return lessUUID(a.OpID, b.OpID)
	})
}

// admitReady repeatedly picks the canonically-first candidate that is
// currently causally admissible, applies it to a scratch clock, and
// repeats until no remaining candidate can be admitted. Candidates
// left over (because their causal predecessors haven't arrived yet)
// are dropped for this cycle; they are retried on the next sync cycle
// once the log still lacks them.
func (s *CrdtSync) admitReady(candidates []*Operation) []*Operation {
	remaining := append([]*Operation(nil), candidates...)
	local := s.vectorClock.Clone()
	var ordered []*Operation

	for len(remaining) > 0 {
		sortOperationsCanonically(remaining)
		progressed := false
		for i, op := range remaining {
			if !causallyAdmissible(local, op) {
				continue
			}
			ordered = append(ordered, op)
			local.Merge(op.VectorClock)
			remaining = append(remaining[:i], remaining[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}
	return ordered
}

// MergeRemoteOperations folds a batch of remote operations into the
// local log: already-applied operations are skipped, unsigned or
// forged operations are rejected, and the rest are admitted only in
// causal order, per §4.7's admission rule and topological sort, each
// checked for conflicts against the full local log as it is applied.
func (s *CrdtSync) MergeRemoteOperations(remotePublicKey []byte, remoteOps []*Operation) ([]MergeOutcome, error) {
	detector := NewConflictDetector()

	candidates := make([]*Operation, 0, len(remoteOps))
	for _, remoteOp := range remoteOps {
		if s.log.Contains(remoteOp.OpID) {
			continue
		}
		if !VerifyOperation(remotePublicKey, remoteOp) {
			return nil, fmt.Errorf("distributed: operation %s failed signature verification", remoteOp.OpID)
		}
		candidates = append(candidates, remoteOp)
	}

	ordered := s.admitReady(candidates)
	outcomes := make([]MergeOutcome, 0, len(ordered))

	for _, remoteOp := range ordered {
		outcome := MergeOutcome{Operation: remoteOp}
		for _, localOp := range s.log.All() {
			conflict, found := detector.Detect(localOp, remoteOp)
			if !found {
				continue
			}
			resolution := s.resolver.Resolve(conflict)
			outcome.Conflict = conflict
			outcome.Resolution = &resolution
			break
		}

		s.vectorClock.Merge(remoteOp.VectorClock)
		s.log.Append(remoteOp)
		s.applied[remoteOp.OpID] = struct{}{}
		outcome.Applied = true
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}
