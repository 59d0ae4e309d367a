// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tgcryptfs/tgcryptfs/clock"
	"github.com/tgcryptfs/tgcryptfs/internal/backend"
	"github.com/tgcryptfs/tgcryptfs/internal/codec"
)

// PeerDirectory resolves a machine id to the Ed25519 public key it
// signs operations with, needed to verify a peer's uploaded batch
// before merging it, per §4.7.
type PeerDirectory interface {
	PublicKey(machineID uuid.UUID) ([]byte, bool)
}

// StaticPeerDirectory is a PeerDirectory backed by a fixed membership
// list, the shape a namespace's configured member set takes.
type StaticPeerDirectory map[uuid.UUID][]byte

// PublicKey implements PeerDirectory.
func (d StaticPeerDirectory) PublicKey(machineID uuid.UUID) ([]byte, bool) {
	key, ok := d[machineID]
	return key, ok
}

// Logger is the narrow logging surface SyncLoop needs. *slog.Logger
// satisfies it without this package importing log/slog directly.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SyncLoop drives one machine's periodic participation in multi-writer
// synchronization: it uploads locally recorded operations and pulls
// down peers' operations, feeding both through CrdtSync, per §4.7's
// sync cycle ("periodic: push pending ops, pull remote ops, merge").
type SyncLoop struct {
	Sync    *CrdtSync
	Backend backend.Backend
	Prefix  string
	Peers   PeerDirectory
	Logger  Logger

	cursor string
}

// NewSyncLoop returns a SyncLoop that uploads and downloads operation
// blobs under prefix via back, using peers to verify remote batches.
func NewSyncLoop(sync *CrdtSync, back backend.Backend, prefix string, peers PeerDirectory, logger Logger) *SyncLoop {
	return &SyncLoop{Sync: sync, Backend: back, Prefix: prefix, Peers: peers, Logger: logger}
}

// Run drives the sync cycle every interval until ctx is cancelled. A
// failed cycle is logged and does not stop the loop: the next tick
// retries with whatever progress the previous cycle made.
func (l *SyncLoop) Run(ctx context.Context, clk clock.Clock, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.Logger.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single push-then-pull sync cycle.
func (l *SyncLoop) RunOnce(ctx context.Context) error {
	if err := l.push(ctx); err != nil {
		return fmt.Errorf("distributed: push: %w", err)
	}
	if err := l.pull(ctx); err != nil {
		return fmt.Errorf("distributed: pull: %w", err)
	}
	return nil
}

// push uploads every pending local operation as a blob, then marks
// each one uploaded once its Put has been confirmed.
func (l *SyncLoop) push(ctx context.Context) error {
	pending := l.Sync.PendingOperations()
	if len(pending) == 0 {
		return nil
	}

	uploaded := make([]uuid.UUID, 0, len(pending))
	for _, op := range pending {
		encoded, err := codec.Marshal(op)
		if err != nil {
			return fmt.Errorf("encoding operation %s: %w", op.OpID, err)
		}
		if _, err := l.Backend.Put(ctx, l.Prefix, backend.BlobOp, op.OpID.String(), encoded); err != nil {
			return fmt.Errorf("uploading operation %s: %w", op.OpID, err)
		}
		uploaded = append(uploaded, op.OpID)
	}
	l.Sync.MarkUploaded(uploaded)
	return nil
}

// pull enumerates operation blobs uploaded since the last cursor,
// decodes them, groups them by originating machine, and merges each
// peer's batch through CrdtSync. Operations originated by this
// machine are skipped: a machine never merges its own uploads back in.
func (l *SyncLoop) pull(ctx context.Context) error {
	entries, err := l.Backend.Enumerate(ctx, l.Prefix, l.cursor)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	byMachine := make(map[uuid.UUID][]*Operation)
	for _, entry := range entries {
		if entry.Type != backend.BlobOp {
			continue
		}
		data, err := l.Backend.Get(ctx, entry.Locator)
		if err != nil {
			return fmt.Errorf("fetching operation blob %s: %w", entry.Locator, err)
		}
		var op Operation
		if err := codec.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("decoding operation blob %s: %w", entry.Locator, err)
		}
		if op.MachineID == l.Sync.identity.MachineID {
			continue
		}
		byMachine[op.MachineID] = append(byMachine[op.MachineID], &op)
	}

	deferred := false
	for machineID, ops := range byMachine {
		publicKey, ok := l.Peers.PublicKey(machineID)
		if !ok {
			l.Logger.Warn("skipping operations from unknown peer", "machine_id", machineID)
			continue
		}
		if _, err := l.Sync.MergeRemoteOperations(publicKey, ops); err != nil {
			return fmt.Errorf("merging operations from %s: %w", machineID, err)
		}
		for _, op := range ops {
			if !l.Sync.log.Contains(op.OpID) {
				deferred = true
			}
		}
	}

	// Operations held back by causal admission stay inside the
	// enumerated range; keeping the cursor makes the next cycle retry them.
	if !deferred {
		l.cursor = entries[len(entries)-1].Cursor
	}
	return nil
}
