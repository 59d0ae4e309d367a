// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package cache

import (
	"bytes"
	"testing"
)

func key(b byte) [32]byte {
	var k [32]byte
	k[0] = b
	return k
}

func TestCachePutGetRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir(), 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	data := bytes.Repeat([]byte{0x42}, 4096)
	if err := c.Put(key(1), data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(key(1))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("round-tripped data mismatch")
	}
}

func TestCacheMissReturnsFalse(t *testing.T) {
	c, err := Open(t.TempDir(), 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	_, ok, err := c.Get(key(9))
	if err != nil || ok {
		t.Fatal("expected a clean miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	// Device large enough for three 4096-byte entries plus slack, but
	// max_size only fits two, forcing eviction.
	c, err := Open(t.TempDir(), 1<<20, 8192)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	entryA := bytes.Repeat([]byte{1}, 4096)
	entryB := bytes.Repeat([]byte{2}, 4096)
	entryC := bytes.Repeat([]byte{3}, 4096)

	if err := c.Put(key(1), entryA); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := c.Put(key(2), entryB); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	// Touch a so it becomes most-recently-used, leaving b as the LRU
	// victim when c is inserted.
	if _, _, err := c.Get(key(1)); err != nil {
		t.Fatalf("Get a: %v", err)
	}
	if err := c.Put(key(3), entryC); err != nil {
		t.Fatalf("Put c: %v", err)
	}

	if c.Contains(key(2)) {
		t.Fatal("least recently used entry should have been evicted")
	}
	if !c.Contains(key(1)) || !c.Contains(key(3)) {
		t.Fatal("recently used entries should survive eviction")
	}
}

func TestCachePutExistingKeyPromotesWithoutDuplicating(t *testing.T) {
	c, err := Open(t.TempDir(), 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	data := bytes.Repeat([]byte{7}, 1024)
	if err := c.Put(key(5), data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(key(5), data); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	if c.Len() != 1 {
		t.Fatalf("got %d entries, want 1", c.Len())
	}
}

func TestCacheSurvivesReopenViaIndexLog(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{9}, 2048)

	c1, err := Open(dir, 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c1.Put(key(4), data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(dir, 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	got, ok, err := c2.Get(key(4))
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("data recovered from index log mismatch")
	}
}
