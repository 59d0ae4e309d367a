// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

// Package cache implements the disk-backed chunk cache described in
// §4.4: a fixed-size on-disk device, a true LRU eviction policy, and
// a crash-safe append-only index log.
package cache

import (
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// Device is a fixed-size file used as the backing store for cached
// chunk bodies. Reads go through a read-only memory map; writes use
// pwrite to avoid triggering read-before-write page faults on the
// mapping.
//
// Device is safe for concurrent use. ReadAt is lock-free. WriteAt
// calls must be serialized by the caller.
type Device struct {
	fd   int
	data []byte
	size int64
}

// NewDevice creates or opens a cache device file at path. If the file
// does not exist, it is created at size. If it exists at a different
// size, an error is returned.
func NewDevice(path string, size int64) (*Device, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache: device size must be positive, got %d", size)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: opening device %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cache: statting device: %w", err)
	}

	if stat.Size == 0 {
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("cache: truncating new device to %d bytes: %w", size, err)
		}
	} else if stat.Size != size {
		unix.Close(fd)
		return nil, fmt.Errorf("cache: device %s is %d bytes but %d was requested; delete it to resize",
			path, stat.Size, size)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cache: memory-mapping device: %w", err)
	}

	return &Device{fd: fd, data: data, size: size}, nil
}

// ReadAt reads len(p) bytes starting at byte offset off.
func (d *Device) ReadAt(p []byte, off int64) (readCount int, err error) {
	if off < 0 || off >= d.size {
		return 0, io.EOF
	}

	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: page fault reading device at offset %d: %v", off, r)
		}
	}()

	readCount = copy(p, d.data[off:])
	if readCount < len(p) {
		return readCount, io.EOF
	}
	return readCount, nil
}

// WriteAt writes len(p) bytes starting at byte offset off.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("cache: write at offset %d with length %d exceeds device size %d",
			off, len(p), d.size)
	}

	total := 0
	for len(p) > 0 {
		written, err := unix.Pwrite(d.fd, p, off)
		total += written
		if err != nil {
			return total, fmt.Errorf("cache: pwrite at offset %d: %w", off, err)
		}
		p = p[written:]
		off += int64(written)
	}
	return total, nil
}

// Sync flushes pending writes to the underlying storage.
func (d *Device) Sync() error { return unix.Fsync(d.fd) }

// Close unmaps the device and closes the underlying file descriptor.
func (d *Device) Close() error {
	var firstErr error
	if err := unix.Munmap(d.data); err != nil {
		firstErr = fmt.Errorf("cache: unmapping device: %w", err)
	}
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("cache: closing device fd: %w", err)
	}
	d.data = nil
	d.fd = -1
	return firstErr
}

// Size returns the device size in bytes.
func (d *Device) Size() int64 { return d.size }
