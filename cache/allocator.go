// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import "sort"

// span is a contiguous free byte range [offset, offset+length).
type span struct {
	offset int64
	length int64
}

// allocator tracks free space on a fixed-size device with a
// first-fit free-list. Chunk bodies vary in size, unlike the
// teacher's fixed-block ring, so eviction must be able to reclaim an
// arbitrary byte range rather than only the sequential next block.
type allocator struct {
	capacity int64
	free     []span
}

func newAllocator(capacity int64) *allocator {
	return &allocator{capacity: capacity, free: []span{{offset: 0, length: capacity}}}
}

// alloc reserves size bytes and returns their offset, or ok=false if
// no single free span is large enough.
func (a *allocator) alloc(size int64) (offset int64, ok bool) {
	for i, s := range a.free {
		if s.length < size {
			continue
		}
		offset = s.offset
		if s.length == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{offset: s.offset + size, length: s.length - size}
		}
		return offset, true
	}
	return 0, false
}

// reserve removes a known, already-occupied range from the free list.
// Used when reconstructing allocator state from the index log, where
// the offset of each live entry is already known rather than chosen
// by alloc.
func (a *allocator) reserve(offset, size int64) {
	for i, s := range a.free {
		if offset < s.offset || offset+size > s.offset+s.length {
			continue
		}
		var replacement []span
		if offset > s.offset {
			replacement = append(replacement, span{offset: s.offset, length: offset - s.offset})
		}
		if end := s.offset + s.length; offset+size < end {
			replacement = append(replacement, span{offset: offset + size, length: end - (offset + size)})
		}
		a.free = append(a.free[:i], append(replacement, a.free[i+1:]...)...)
		return
	}
}

// release returns a previously allocated range to the pool, merging it
// with adjacent free spans.
func (a *allocator) release(offset, size int64) {
	a.free = append(a.free, span{offset: offset, length: size})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].offset < a.free[j].offset })

	merged := a.free[:1]
	for _, s := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.length == s.offset {
			last.length += s.length
		} else {
			merged = append(merged, s)
		}
	}
	a.free = merged
}

// largestFree returns the size of the largest contiguous free span.
func (a *allocator) largestFree() int64 {
	var max int64
	for _, s := range a.free {
		if s.length > max {
			max = s.length
		}
	}
	return max
}
