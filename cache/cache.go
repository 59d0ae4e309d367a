// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Cache is the disk-backed chunk cache: a fixed-size device holding
// decrypted, decompressed chunk bodies, indexed by a true LRU policy, with a
// crash-safe append-only index log for recovery, per §4.4.
type Cache struct {
	mu      sync.Mutex
	device  *Device
	alloc   *allocator
	index   *lruIndex
	log     *indexLog
	maxSize int64
}

// Open opens or creates a cache rooted at dir, backed by a device of
// deviceSize bytes and evicting once the live set exceeds maxSize.
func Open(dir string, deviceSize, maxSize int64) (*Cache, error) {
	device, err := NewDevice(filepath.Join(dir, "chunks.dat"), deviceSize)
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(dir, "index.log")
	index, alloc, err := rebuildFromLog(logPath, deviceSize)
	if err != nil {
		device.Close()
		return nil, err
	}

	log, err := openIndexLog(logPath)
	if err != nil {
		device.Close()
		return nil, err
	}

	return &Cache{device: device, alloc: alloc, index: index, log: log, maxSize: maxSize}, nil
}

// Close flushes and closes the underlying device and index log.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if err := c.log.close(); err != nil {
		firstErr = err
	}
	if err := c.device.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Get returns the cached bytes for key, promoting it to
// most-recently-used. Reports ok=false on a cache miss.
func (c *Cache) Get(key [32]byte) (data []byte, ok bool, err error) {
	c.mu.Lock()
	e := c.index.touch(key)
	if e == nil {
		c.mu.Unlock()
		return nil, false, nil
	}
	e.pins++
	offset, length := e.offset, e.length
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		e.pins--
		c.mu.Unlock()
	}()

	buf := make([]byte, length)
	if _, err := c.device.ReadAt(buf, offset); err != nil {
		return nil, false, coreerr.Wrap(coreerr.IntegrityFailure, "cache: reading cached chunk", err)
	}
	return buf, true, nil
}

// Put stores data under key, evicting least-recently-used entries
// until there is room, per §4.4: "evict-LRU-until-under-max_size."
// If data is already cached, Put is a no-op that still promotes the
// entry to most-recently-used.
func (c *Cache) Put(key [32]byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.index.touch(key); e != nil {
		return nil
	}

	size := int64(len(data))
	if size > c.maxSize {
		return fmt.Errorf("cache: entry of %d bytes exceeds cache max size %d", size, c.maxSize)
	}

	for c.index.totalSize()+size > c.maxSize || c.alloc.largestFree() < size {
		if !c.evictOneLocked() {
			return fmt.Errorf("cache: cannot make room for %d bytes; all entries pinned by active reads", size)
		}
	}

	offset, ok := c.alloc.alloc(size)
	if !ok {
		return fmt.Errorf("cache: no contiguous free span of %d bytes after eviction", size)
	}
	if _, err := c.device.WriteAt(data, offset); err != nil {
		c.alloc.release(offset, size)
		return fmt.Errorf("cache: writing chunk body: %w", err)
	}
	if err := c.log.appendPut(key, offset, size); err != nil {
		c.alloc.release(offset, size)
		return err
	}

	c.index.insert(key, offset, size)
	return nil
}

// evictOneLocked evicts the single least-recently-used unpinned
// entry. Returns false if every entry is pinned by an active read.
func (c *Cache) evictOneLocked() bool {
	e := c.index.oldest()
	if e == nil {
		return false
	}
	c.index.remove(e.key)
	c.alloc.release(e.offset, e.length)
	c.log.appendEvict(e.key)
	return true
}

// Remove evicts key unconditionally, freeing its device span. Used to
// drop a cache entry whose stored bytes failed to decode, per §4.4:
// "on corrupt on-disk cache entry, treat as miss and remove."
func (c *Cache) Remove(key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.index.remove(key)
	if e == nil {
		return
	}
	c.alloc.release(e.offset, e.length)
	c.log.appendEvict(e.key)
}

// Contains reports whether key is cached, without affecting recency.
func (c *Cache) Contains(key [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.peek(key) != nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.len()
}

// Size returns the total bytes currently cached.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.totalSize()
}
