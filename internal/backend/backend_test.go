// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"testing"
)

func TestDiskPutGetRoundTrip(t *testing.T) {
	b, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	ctx := context.Background()

	locator, err := b.Put(ctx, "ns1", BlobChunk, "abc123", []byte("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if locator != "ns1:chunk:abc123" {
		t.Fatalf("got locator %q", locator)
	}

	data, err := b.Get(ctx, locator)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatal("round-tripped data mismatch")
	}
}

func TestDiskGetMissingReturnsNotFound(t *testing.T) {
	b, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if _, err := b.Get(context.Background(), "ns1:chunk:missing"); err == nil {
		t.Fatal("expected an error for a missing object")
	}
}

func TestDiskDeleteThenGetFails(t *testing.T) {
	b, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	ctx := context.Background()

	locator, _ := b.Put(ctx, "ns1", BlobMeta, "k1", []byte("v"))
	if err := b.Delete(ctx, locator); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, locator); err == nil {
		t.Fatal("expected Get to fail after Delete")
	}
}

func TestDiskEnumerateOrdersAndFilters(t *testing.T) {
	b, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	ctx := context.Background()

	locA, _ := b.Put(ctx, "ns1", BlobOp, "a", []byte("1"))
	_, _ = b.Put(ctx, "ns1", BlobOp, "b", []byte("2"))

	entries, err := b.Enumerate(ctx, "ns1", "")
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	after, err := b.Enumerate(ctx, "ns1", locA)
	if err != nil {
		t.Fatalf("Enumerate since cursor: %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("got %d entries after cursor, want 1", len(after))
	}
}

func TestLoopbackImplementsBackendContract(t *testing.T) {
	b := NewLoopback()
	ctx := context.Background()

	locator, err := b.Put(ctx, "ns1", BlobChunk, "x", []byte("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := b.Get(ctx, locator)
	if err != nil || !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("Get: data=%q err=%v", data, err)
	}
	if err := b.Delete(ctx, locator); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, locator); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestRateLimitedPassesThroughPutAndGet(t *testing.T) {
	inner := NewLoopback()
	limited := NewRateLimited(inner, RateLimitOptions{MaxConcurrentUploads: 1, MaxConcurrentDownloads: 1})

	ctx := context.Background()
	if _, err := limited.Put(ctx, "ns1", BlobChunk, "a", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	locator := "ns1:chunk:a"
	if _, err := limited.Get(ctx, locator); err != nil {
		t.Fatalf("Get: %v", err)
	}
}
