// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metadatastore

import "container/list"

// hotInodeCache is a small bounded in-memory cache of recently
// touched inodes, invalidated on every write, per §4.3: "a bounded
// hot-inode cache trades a little memory for avoiding a disk seal/open
// round trip on every lookup of a frequently touched file."
type hotInodeCache struct {
	capacity int
	order    *list.List
	entries  map[uint64]*list.Element
}

type hotCacheEntry struct {
	ino   uint64
	inode *Inode
}

func newHotInodeCache(capacity int) *hotInodeCache {
	return &hotInodeCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

func (c *hotInodeCache) get(ino uint64) (*Inode, bool) {
	elem, ok := c.entries[ino]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*hotCacheEntry).inode, true
}

func (c *hotInodeCache) put(ino uint64, inode *Inode) {
	if elem, ok := c.entries[ino]; ok {
		elem.Value.(*hotCacheEntry).inode = inode
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&hotCacheEntry{ino: ino, inode: inode})
	c.entries[ino] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*hotCacheEntry).ino)
	}
}

func (c *hotInodeCache) remove(ino uint64) {
	if elem, ok := c.entries[ino]; ok {
		c.order.Remove(elem)
		delete(c.entries, ino)
	}
}
