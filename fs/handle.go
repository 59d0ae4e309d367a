// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fs

import (
	"context"
	"sync"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// writeRecord is one buffered Write call, kept in submission order so
// overlapping writes within the same open session replay correctly.
type writeRecord struct {
	offset int64
	data   []byte
}

// fileHandle buffers the writes of one open session and splices them
// into the manifest as a single windowed rewrite on Flush, per §4.5's
// write path. This generalizes the teacher's write-the-whole-artifact-
// once handle to partial, repeated writes against a mutable file.
type fileHandle struct {
	node *node

	mu      sync.Mutex
	records []writeRecord
}

var (
	_ gofuse.FileWriter   = (*fileHandle)(nil)
	_ gofuse.FileFlusher  = (*fileHandle)(nil)
	_ gofuse.FileReleaser = (*fileHandle)(nil)
)

// newFileHandle opens a handle against n, registering it against the
// filesystem's open-handle refcount so an in-flight Unlink/Rmdir of n
// defers reclamation until this handle (and every other one) is
// released, per §3's POSIX unlink semantics.
func newFileHandle(n *node) *fileHandle {
	n.fs.acquireHandle(n.ino)
	return &fileHandle{node: n}
}

func (h *fileHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, writeRecord{offset: off, data: append([]byte(nil), data...)})
	return uint32(len(data)), 0
}

func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	records := h.records
	h.records = nil
	h.mu.Unlock()

	if len(records) == 0 {
		return 0
	}

	minOff := records[0].offset
	maxOff := records[0].offset + int64(len(records[0].data))
	for _, r := range records[1:] {
		if r.offset < minOff {
			minOff = r.offset
		}
		if end := r.offset + int64(len(r.data)); end > maxOff {
			maxOff = end
		}
	}

	inode, errno := h.node.loadInode()
	if errno != 0 {
		return errno
	}

	overlay, err := h.node.fs.readRange(ctx, inode.Manifest, inode.Size, minOff, maxOff)
	if err != nil {
		return coreerr.ToErrno(err)
	}
	if int64(len(overlay)) < maxOff-minOff {
		grown := make([]byte, maxOff-minOff)
		copy(grown, overlay)
		overlay = grown
	}
	for _, r := range records {
		copy(overlay[r.offset-minOff:], r.data)
	}

	if err := h.node.fs.spliceWrite(ctx, h.node.ino, h.node.path(), minOff, overlay); err != nil {
		return coreerr.ToErrno(err)
	}
	return 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	errno := h.Flush(ctx)
	h.node.fs.releaseHandle(ctx, h.node.ino)
	return errno
}
