// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the capability interface the core consumes
// to talk to an opaque remote blob service, per §6, along with a
// local-disk implementation and a rate-limited wrapper.
package backend

import "context"

// BlobType tags the kind of object stored under a locator, per §6:
// "<type> ∈ {chunk, meta, op, manifest}".
type BlobType string

const (
	BlobChunk    BlobType = "chunk"
	BlobMeta     BlobType = "meta"
	BlobOp       BlobType = "op"
	BlobManifest BlobType = "manifest"
)

// Entry is one object returned by Enumerate.
type Entry struct {
	Locator string
	Type    BlobType
	ID      string
	Cursor  string
}

// Backend is the capability interface consumed by the core and
// implemented by an adapter over the actual remote blob service, per
// §6: "put/get/delete/enumerate". Every stored value is an opaque
// sealed blob; the backend never sees plaintext.
type Backend interface {
	Put(ctx context.Context, prefix string, blobType BlobType, id string, data []byte) (locator string, err error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	Enumerate(ctx context.Context, prefix string, sinceCursor string) ([]Entry, error)
}
